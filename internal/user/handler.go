package user

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"organimate/internal/validator"
)

type Handler struct {
	Service *Service
	Val     *validator.Validator
	Logger  *slog.Logger
}

func NewHandler(s *Service, v *validator.Validator, logger *slog.Logger) *Handler {
	return &Handler{Service: s, Val: v, Logger: logger}
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	h.Logger.Error(msg, "error", err.Error())
	h.respond(w, status, response{Error: msg})
}

func (h *Handler) validateBody(w http.ResponseWriter, s any) bool {
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}
	if errs := h.Val.ValidateStruct(s); len(errs) > 0 {
		h.respond(w, http.StatusBadRequest, response{Errors: errs})
		return false
	}
	return true
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if !h.validateBody(w, &req) {
		return
	}
	if _, err := ParseRole(req.Role); err != nil {
		h.respondError(w, http.StatusBadRequest, err, "Unknown role")
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			h.respondError(w, http.StatusConflict, err, "Username already taken")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err, "Could not register user")
		return
	}

	h.respond(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if !h.validateBody(w, &req) {
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.respondError(w, http.StatusUnauthorized, err, "Invalid credentials")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err, "Could not log in")
		return
	}

	h.respond(w, http.StatusOK, res)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err, "Could not search users")
		return
	}
	h.respond(w, http.StatusOK, users)
}
