package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"

	myMiddleware "organimate/internal/middleware"
	"organimate/internal/notify"
	"organimate/internal/user"
)

var viewerClaims = user.Claims{ID: "v", Username: "vera", DisplayName: "Vera", Role: user.RoleCompany}

type testDirectory struct {
	counterparties func(viewer user.Claims) ([]Counterparty, error)
	resolve        func(viewer user.Claims, id string) (Counterparty, error)
}

func (d *testDirectory) Counterparties(_ context.Context, viewer user.Claims) ([]Counterparty, error) {
	return d.counterparties(viewer)
}

func (d *testDirectory) Resolve(_ context.Context, viewer user.Claims, id string) (Counterparty, error) {
	return d.resolve(viewer, id)
}

// staticDirectory knows exactly cps.
func staticDirectory(cps ...Counterparty) *testDirectory {
	return &testDirectory{
		counterparties: func(user.Claims) ([]Counterparty, error) { return cps, nil },
		resolve: func(_ user.Claims, id string) (Counterparty, error) {
			for _, cp := range cps {
				if cp.ID == id {
					return cp, nil
				}
			}
			return Counterparty{}, fmt.Errorf("%w: %s", ErrUnknownCounterparty, id)
		},
	}
}

func newTestServer(t *testing.T, svc *Service, dir Directory) *httptest.Server {
	t.Helper()
	h := NewHandler(svc, dir, notify.New(), slogt.New(t))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(myMiddleware.WithViewer(r.Context(), viewerClaims)))
		})
	})
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, lang, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("Could not create request: %v", err)
	}
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Could not perform request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandler_GetThread(t *testing.T) {
	tests := []struct {
		name       string
		store      func() *memStore
		dir        *testDirectory
		path       string
		lang       string
		wantStatus int
		wantBody   string
	}{
		{
			name: "DBError",
			store: func() *memStore {
				s := newMemStore()
				s.failList = func(string, string) error { return errors.New("connection refused") }
				return s
			},
			path:       "/api/conversations/x/messages",
			wantStatus: 500,
			wantBody:   `{"error": "Error loading messages"}`,
		},
		{
			name: "DBErrorSpanish",
			store: func() *memStore {
				s := newMemStore()
				s.failList = func(string, string) error { return errors.New("connection refused") }
				return s
			},
			path:       "/api/conversations/x/messages",
			lang:       "es-ES,es;q=0.9",
			wantStatus: 500,
			wantBody:   `{"error": "Error al cargar los mensajes"}`,
		},
		{
			name: "DirectoryError",
			dir: &testDirectory{
				resolve: func(user.Claims, string) (Counterparty, error) { return Counterparty{}, errors.New("db down") },
			},
			path:       "/api/conversations/x/messages",
			wantStatus: 500,
			wantBody:   `{"error": "Error loading messages"}`,
		},
		{
			name:       "UnknownCounterparty",
			path:       "/api/conversations/nobody/messages",
			wantStatus: 404,
			wantBody:   `{"error": "Conversation not found"}`,
		},
		{
			name:       "Empty",
			path:       "/api/conversations/x/messages",
			wantStatus: 200,
			wantBody: `{
				"state": "empty",
				"notice": "No messages yet",
				"counterparty": {"id": "x", "name": "Xavier"},
				"messages": []
			}`,
		},
		{
			name: "Loaded",
			store: func() *memStore {
				return newMemStore(msg("m2", "v", "x", at(2), false), msg("m1", "x", "v", at(1), false))
			},
			path:       "/api/conversations/x/messages",
			wantStatus: 200,
			wantBody: `{
				"state": "loaded",
				"counterparty": {"id": "x", "name": "Xavier"},
				"messages": [
					{
						"id": "m1",
						"sender_id": "x",
						"receiver_id": "v",
						"sender_name": null,
						"receiver_name": null,
						"content": "body m1",
						"created_at": "2024-01-01T09:01:00Z",
						"read": true
					},
					{
						"id": "m2",
						"sender_id": "v",
						"receiver_id": "x",
						"sender_name": null,
						"receiver_name": null,
						"content": "body m2",
						"created_at": "2024-01-01T09:02:00Z",
						"read": false
					}
				]
			}`,
		},
		{
			name:       "NoConversationSelected",
			path:       "/api/messages",
			wantStatus: 200,
			wantBody: `{
				"state": "no_conversation_selected",
				"notice": "No conversation selected",
				"counterparty": null,
				"messages": []
			}`,
		},
		{
			name:       "DeepLink",
			path:       "/api/messages?with=x",
			wantStatus: 200,
			wantBody: `{
				"state": "empty",
				"notice": "No messages yet",
				"counterparty": {"id": "x", "name": "Xavier"},
				"messages": []
			}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.store != nil {
				store = tt.store()
			}
			dir := tt.dir
			if dir == nil {
				dir = staticDirectory(partyX)
			}
			srv := newTestServer(t, newTestService(t, store, nil), dir)

			resp := doRequest(t, http.MethodGet, srv.URL+tt.path, tt.lang, "")
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestHandler_SendMessage(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		failSend   error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Empty",
			path:       "/api/conversations/x/messages",
			body:       `{"content": "   "}`,
			wantStatus: 400,
			wantBody:   `{"error": "Message cannot be empty"}`,
		},
		{
			name:       "Self",
			path:       "/api/conversations/v/messages",
			body:       `{"content": "note to self"}`,
			wantStatus: 400,
			wantBody:   `{"error": "You cannot message yourself"}`,
		},
		{
			name:       "TooLong",
			path:       "/api/conversations/x/messages",
			body:       `{"content": "` + strings.Repeat("a", MaxContentLength+1) + `"}`,
			wantStatus: 400,
			wantBody:   `{"error": "Message is too long"}`,
		},
		{
			name:       "BadJSON",
			path:       "/api/conversations/x/messages",
			body:       `{"content":`,
			wantStatus: 400,
			wantBody:   `{"error": "Failed to send message"}`,
		},
		{
			name:       "DBError",
			path:       "/api/conversations/x/messages",
			body:       `{"content": "hello"}`,
			failSend:   errors.New("disk full"),
			wantStatus: 500,
			wantBody:   `{"error": "Failed to send message"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.failSend = tt.failSend
			srv := newTestServer(t, newTestService(t, store, nil), staticDirectory(partyX, viewerV))

			resp := doRequest(t, http.MethodPost, srv.URL+tt.path, "", tt.body)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestHandler_SendMessageCreated(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, newTestService(t, store, nil), staticDirectory(partyX))

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/conversations/x/messages", "", `{"content": "Hello"}`)
	checkStatus(t, resp.StatusCode, http.StatusCreated)

	var got Message
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Could not decode body: %v", err)
	}
	if got.ID == "" || got.SenderID != "v" || got.ReceiverID != "x" || got.Content != "Hello" || got.Read {
		t.Fatalf("unexpected message %+v", got)
	}
	if stored := store.get(got.ID); stored.ID != got.ID {
		t.Fatalf("message %s was not stored", got.ID)
	}
}

func TestHandler_UnreadClearsOnOpen(t *testing.T) {
	store := newMemStore(msg("m1", "x", "v", at(1), false), msg("m2", "x", "v", at(2), false))
	srv := newTestServer(t, newTestService(t, store, nil), staticDirectory(partyX))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/conversations/x/unread", "", "")
	checkStatus(t, resp.StatusCode, http.StatusOK)
	checkBody(t, resp, `{"counterparty_id": "x", "unread": 2}`)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/conversations/x/messages", "", "")
	checkStatus(t, resp.StatusCode, http.StatusOK)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/conversations/x/unread", "", "")
	checkStatus(t, resp.StatusCode, http.StatusOK)
	checkBody(t, resp, `{"counterparty_id": "x", "unread": 0}`)
}

func TestHandler_ListConversations(t *testing.T) {
	t.Run("Sorted", func(t *testing.T) {
		store := newMemStore(msg("b1", "b", "v", at(1), false))
		dir := staticDirectory(Counterparty{ID: "a", Name: "Ann"}, Counterparty{ID: "b", Name: "Bea"})
		srv := newTestServer(t, newTestService(t, store, nil), dir)

		resp := doRequest(t, http.MethodGet, srv.URL+"/api/conversations", "", "")
		checkStatus(t, resp.StatusCode, http.StatusOK)
		checkBody(t, resp, `{
			"conversations": [
				{
					"counterparty": {"id": "b", "name": "Bea"},
					"last_message": {
						"id": "b1",
						"sender_id": "b",
						"receiver_id": "v",
						"sender_name": null,
						"receiver_name": null,
						"content": "body b1",
						"created_at": "2024-01-01T09:01:00Z",
						"read": false
					},
					"unread_count": 1
				},
				{
					"counterparty": {"id": "a", "name": "Ann"},
					"last_message": null,
					"unread_count": 0
				}
			]
		}`)
	})

	t.Run("DirectoryError", func(t *testing.T) {
		dir := &testDirectory{
			counterparties: func(user.Claims) ([]Counterparty, error) { return nil, errors.New("db down") },
		}
		srv := newTestServer(t, newTestService(t, newMemStore(), nil), dir)

		resp := doRequest(t, http.MethodGet, srv.URL+"/api/conversations", "", "")
		checkStatus(t, resp.StatusCode, http.StatusInternalServerError)
		checkBody(t, resp, `{"error": "Error loading conversations"}`)
	})
}

func TestHandler_ThreadWebsocket(t *testing.T) {
	hub := newRunningHub(t)
	store := newMemStore(msg("m1", "x", "v", at(1), false))
	svc := newTestService(t, store, hub)
	srv := newTestServer(t, svc, staticDirectory(partyX))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/x"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Could not dial websocket: %v", err)
	}
	defer conn.Close()

	readFrame := func() Frame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("Could not read frame: %v", err)
		}
		return f
	}

	snapshot := readFrame()
	if snapshot.Type != FrameSnapshot || len(snapshot.Messages) != 1 || !snapshot.Messages[0].Read {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Counterparty == nil || *snapshot.Counterparty != partyX {
		t.Fatalf("unexpected snapshot counterparty %+v", snapshot.Counterparty)
	}

	if err := conn.WriteJSON(ComposerMessage{Content: "  "}); err != nil {
		t.Fatalf("Could not write frame: %v", err)
	}
	rejected := readFrame()
	if rejected.Type != FrameError || rejected.Error != "Message cannot be empty" || rejected.Content != "  " {
		t.Fatalf("unexpected error frame %+v", rejected)
	}

	if err := conn.WriteJSON(ComposerMessage{Content: "hi"}); err != nil {
		t.Fatalf("Could not write frame: %v", err)
	}
	sent := readFrame()
	if sent.Type != FrameSent || sent.Message == nil || sent.Message.Content != "hi" {
		t.Fatalf("unexpected sent frame %+v", sent)
	}

	// A body at the rune limit made of multi-byte runes, some JSON-escaped.
	long := strings.Repeat("€", MaxContentLength-10) + strings.Repeat("\x01", 10)
	if err := conn.WriteJSON(ComposerMessage{Content: long}); err != nil {
		t.Fatalf("Could not write frame: %v", err)
	}
	sentLong := readFrame()
	if sentLong.Type != FrameSent || sentLong.Message == nil || sentLong.Message.Content != long {
		t.Fatalf("unexpected frame for long message: type=%q error=%q", sentLong.Type, sentLong.Error)
	}

	tooLong := long + "€"
	if err := conn.WriteJSON(ComposerMessage{Content: tooLong}); err != nil {
		t.Fatalf("Could not write frame: %v", err)
	}
	rejectedLong := readFrame()
	if rejectedLong.Type != FrameError || rejectedLong.Error != "Message is too long" || rejectedLong.Content != tooLong {
		t.Fatalf("unexpected frame for oversized message: type=%q error=%q", rejectedLong.Type, rejectedLong.Error)
	}

	reply, err := svc.Send(testContext(t), partyX, viewerV, "hello back")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	live := readFrame()
	if live.Type != FrameMessage || live.Message == nil || live.Message.ID != reply.ID || !live.Message.Read {
		t.Fatalf("unexpected live frame %+v", live)
	}
}

func TestHandler_ListWebsocket(t *testing.T) {
	hub := newRunningHub(t)
	svc := newTestService(t, newMemStore(), hub)

	// The second lookup fails; the socket reports it and keeps going.
	var mu sync.Mutex
	calls := 0
	dir := staticDirectory(partyX)
	dir.counterparties = func(user.Claims) ([]Counterparty, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return nil, errors.New("db down")
		}
		return []Counterparty{partyX}, nil
	}
	srv := newTestServer(t, svc, dir)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Accept-Language": {"es"}})
	if err != nil {
		t.Fatalf("Could not dial websocket: %v", err)
	}
	defer conn.Close()

	readFrame := func() Frame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("Could not read frame: %v", err)
		}
		return f
	}

	initial := readFrame()
	if initial.Type != FrameConversations || len(initial.Conversations) != 1 || initial.Conversations[0].UnreadCount != 0 {
		t.Fatalf("unexpected initial frame %+v", initial)
	}

	ctx := testContext(t)
	if _, err := svc.Send(ctx, partyX, viewerV, "one"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	failed := readFrame()
	if failed.Type != FrameError || failed.Error != "Error al cargar las conversaciones" {
		t.Fatalf("unexpected error frame %+v", failed)
	}

	second, err := svc.Send(ctx, partyX, viewerV, "two")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	refreshed := readFrame()
	if refreshed.Type != FrameConversations || len(refreshed.Conversations) != 1 {
		t.Fatalf("unexpected refresh frame %+v", refreshed)
	}
	got := refreshed.Conversations[0]
	if got.UnreadCount != 2 || got.LastMessage == nil || got.LastMessage.ID != second.ID {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestHandler_ListWebsocketInitialLoadFails(t *testing.T) {
	hub := newRunningHub(t)
	dir := &testDirectory{
		counterparties: func(user.Claims) ([]Counterparty, error) { return nil, errors.New("db down") },
	}
	srv := newTestServer(t, newTestService(t, newMemStore(), hub), dir)

	resp := doRequest(t, http.MethodGet, srv.URL+"/ws/conversations", "", "")
	checkStatus(t, resp.StatusCode, http.StatusInternalServerError)
	checkBody(t, resp, `{"error": "Error loading conversations"}`)
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, strings.NewReader(want))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

// normalizeJSON re-encodes r so that formatting differences do not matter.
func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("  ", "  ")
	if err := enc.Encode(v); err != nil {
		t.Fatalf("Could not encode JSON: %v", err)
	}
	return strings.TrimSpace(buf.String())
}
