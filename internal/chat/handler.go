package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	myMiddleware "organimate/internal/middleware"
	"organimate/internal/notify"
	"organimate/internal/user"
)

// Directory resolves who a viewer may talk to.
type Directory interface {
	// Counterparties lists everyone the viewer may message, by name.
	Counterparties(ctx context.Context, viewer user.Claims) ([]Counterparty, error)
	// Resolve returns the counterparty with id if the viewer may message
	// them, or an error wrapping ErrUnknownCounterparty.
	Resolve(ctx context.Context, viewer user.Claims, id string) (Counterparty, error)
}

type Handler struct {
	svc       *Service
	directory Directory
	notifier  *notify.Notifier
	logger    *slog.Logger
}

func NewHandler(svc *Service, directory Directory, notifier *notify.Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		directory: directory,
		notifier:  notifier,
		logger:    logger,
	}
}

// Routes mounts the messaging endpoints. The router must already run the
// auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/conversations", h.ListConversations)
	r.Get("/api/messages", h.GetChatHistory)
	r.Get("/api/conversations/{counterpartyID}/messages", h.GetThread)
	r.Post("/api/conversations/{counterpartyID}/messages", h.SendMessage)
	r.Get("/api/conversations/{counterpartyID}/unread", h.GetUnread)
	r.Get("/ws/conversations", h.ServeListWs)
	r.Get("/ws/conversations/{counterpartyID}", h.ServeThreadWs)
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

// notifyError logs err and answers with the localized notification for key.
func (h *Handler) notifyError(w http.ResponseWriter, r *http.Request, status int, err error, key notify.Key) {
	type response struct {
		Error string `json:"error"`
	}
	h.logger.Error("Request failed",
		"method", r.Method, "path", r.URL.Path, "notification", string(key), "error", err.Error())
	h.respond(w, status, response{Error: h.message(r, key)})
}

func (h *Handler) message(r *http.Request, key notify.Key) string {
	return h.notifier.Message(key, r.Header.Get("Accept-Language"))
}

func viewerOf(claims user.Claims) Counterparty {
	name := claims.DisplayName
	if name == "" {
		name = claims.Username
	}
	return Counterparty{ID: claims.ID, Name: name}
}

// counterpartyFor resolves the counterparty named by id for the request's
// viewer, writing the error response itself when that fails.
func (h *Handler) counterpartyFor(w http.ResponseWriter, r *http.Request, id string, failKey notify.Key) (user.Claims, Counterparty, bool) {
	claims, ok := myMiddleware.ViewerFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return user.Claims{}, Counterparty{}, false
	}
	cp, err := h.directory.Resolve(r.Context(), claims, id)
	if err != nil {
		if errors.Is(err, ErrUnknownCounterparty) {
			h.notifyError(w, r, http.StatusNotFound, err, notify.CounterpartyNotFound)
		} else {
			h.notifyError(w, r, http.StatusInternalServerError, err, failKey)
		}
		return user.Claims{}, Counterparty{}, false
	}
	return claims, cp, true
}

type threadResponse struct {
	State        string        `json:"state"`
	Notice       string        `json:"notice,omitempty"`
	Counterparty *Counterparty `json:"counterparty"`
	Messages     []Message     `json:"messages"`
}

const (
	stateNoConversation = "no_conversation_selected"
	stateEmpty          = "empty"
	stateLoaded         = "loaded"
)

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	claims, ok := myMiddleware.ViewerFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	counterparties, err := h.directory.Counterparties(r.Context(), claims)
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadConversationsFailed)
		return
	}
	summaries, err := h.svc.Conversations(r.Context(), claims.ID, counterparties)
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadConversationsFailed)
		return
	}
	h.respond(w, http.StatusOK, response{Conversations: summaries})
}

// GetChatHistory opens the conversation named by the "with" query parameter.
// Without one it reports that no conversation is selected.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("with")
	if id == "" {
		if _, ok := myMiddleware.ViewerFrom(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.respond(w, http.StatusOK, threadResponse{
			State:    stateNoConversation,
			Notice:   h.message(r, notify.NoConversationSelected),
			Messages: []Message{},
		})
		return
	}
	h.openThread(w, r, id)
}

func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	h.openThread(w, r, chi.URLParam(r, "counterpartyID"))
}

func (h *Handler) openThread(w http.ResponseWriter, r *http.Request, id string) {
	claims, cp, ok := h.counterpartyFor(w, r, id, notify.LoadMessagesFailed)
	if !ok {
		return
	}

	thread, err := h.svc.OpenThread(r.Context(), claims.ID, cp.ID)
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadMessagesFailed)
		return
	}

	res := threadResponse{State: stateLoaded, Counterparty: &cp, Messages: thread}
	if len(thread) == 0 {
		res.State = stateEmpty
		res.Notice = h.message(r, notify.NoMessagesYet)
	}
	h.respond(w, http.StatusOK, res)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims, cp, ok := h.counterpartyFor(w, r, chi.URLParam(r, "counterpartyID"), notify.SendMessageFailed)
	if !ok {
		return
	}

	var body ComposerMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.notifyError(w, r, http.StatusBadRequest, err, notify.SendMessageFailed)
		return
	}

	msg, err := h.svc.Send(r.Context(), viewerOf(claims), cp, body.Content)
	if err != nil {
		status, key := sendFailure(err)
		h.notifyError(w, r, status, err, key)
		return
	}
	h.respond(w, http.StatusCreated, msg)
}

func sendFailure(err error) (int, notify.Key) {
	switch {
	case errors.Is(err, ErrEmptyContent):
		return http.StatusBadRequest, notify.EmptyMessage
	case errors.Is(err, ErrContentTooLong):
		return http.StatusBadRequest, notify.MessageTooLong
	case errors.Is(err, ErrSelfMessage):
		return http.StatusBadRequest, notify.SelfMessage
	case errors.Is(err, ErrNoCounterparty):
		return http.StatusBadRequest, notify.NoConversationSelected
	default:
		return http.StatusInternalServerError, notify.SendMessageFailed
	}
}

func (h *Handler) GetUnread(w http.ResponseWriter, r *http.Request) {
	type response struct {
		CounterpartyID string `json:"counterparty_id"`
		Unread         int    `json:"unread"`
	}
	claims, cp, ok := h.counterpartyFor(w, r, chi.URLParam(r, "counterpartyID"), notify.LoadConversationsFailed)
	if !ok {
		return
	}
	n, err := h.svc.CountUnread(r.Context(), claims.ID, cp.ID)
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadConversationsFailed)
		return
	}
	h.respond(w, http.StatusOK, response{CounterpartyID: cp.ID, Unread: n})
}

// ServeThreadWs keeps one thread open over a websocket: it sends the loaded
// history, pushes the counterparty's new messages as they arrive and accepts
// composer frames from the client.
func (h *Handler) ServeThreadWs(w http.ResponseWriter, r *http.Request) {
	claims, cp, ok := h.counterpartyFor(w, r, chi.URLParam(r, "counterpartyID"), notify.LoadMessagesFailed)
	if !ok {
		return
	}

	session, err := h.svc.OpenThreadSession(r.Context(), viewerOf(claims), cp)
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadMessagesFailed)
		return
	}
	defer session.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	client := newClient(r.Context(), conn, h.logger.With("viewer_id", claims.ID, "counterparty_id", cp.ID))
	defer client.cancel()
	lang := r.Header.Get("Accept-Language")

	snapshotCp := session.Counterparty()
	client.Queue(Frame{Type: FrameSnapshot, Counterparty: &snapshotCp, Messages: session.Messages()})
	go client.writePump()
	go func() {
		for {
			msg, err := session.Next(client.ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					client.logger.Warn("Live thread ended", "error", err.Error())
				}
				client.cancel()
				return
			}
			client.Queue(Frame{Type: FrameMessage, Message: &msg})
		}
	}()

	client.readPump(func(payload []byte) {
		var in ComposerMessage
		if err := json.Unmarshal(payload, &in); err != nil {
			client.Queue(Frame{Type: FrameError, Error: h.notifier.Message(notify.SendMessageFailed, lang)})
			return
		}
		msg, err := session.Send(client.ctx, in.Content)
		if err != nil {
			_, key := sendFailure(err)
			client.logger.Error("Could not send message", "error", err.Error())
			client.Queue(Frame{Type: FrameError, Error: h.notifier.Message(key, lang), Content: in.Content})
			return
		}
		client.Queue(Frame{Type: FrameSent, Message: &msg})
	})
}

// ServeListWs pushes the viewer's conversation list and a fresh copy after
// every message event.
func (h *Handler) ServeListWs(w http.ResponseWriter, r *http.Request) {
	claims, ok := myMiddleware.ViewerFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	session, err := h.svc.WatchConversations(claims.ID, func(ctx context.Context) ([]Counterparty, error) {
		return h.directory.Counterparties(ctx, claims)
	})
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadConversationsFailed)
		return
	}
	defer session.Close()

	list, err := session.Load(r.Context())
	if err != nil {
		h.notifyError(w, r, http.StatusInternalServerError, err, notify.LoadConversationsFailed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	client := newClient(r.Context(), conn, h.logger.With("viewer_id", claims.ID))
	defer client.cancel()
	lang := r.Header.Get("Accept-Language")

	client.Queue(Frame{Type: FrameConversations, Conversations: list})
	go client.writePump()
	go func() {
		for {
			list, err := session.Next(client.ctx)
			if errors.Is(err, ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
				client.cancel()
				return
			}
			if err != nil {
				client.logger.Error("Could not refresh conversations", "error", err.Error())
				client.Queue(Frame{Type: FrameError, Error: h.notifier.Message(notify.LoadConversationsFailed, lang)})
				continue
			}
			client.Queue(Frame{Type: FrameConversations, Conversations: list})
		}
	}()

	client.readPump(nil)
}
