package chat

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"

	"organimate/internal/broker"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

// memStore is an in-memory Store. The fail hooks let tests inject transport
// errors per call.
type memStore struct {
	mu       sync.Mutex
	messages []Message

	failList  func(senderID, receiverID string) error
	failMark  func(messageID string) error
	failCount func(counterpartyID string) error
	failLast  func(counterpartyID string) error
	failSend  error

	markCalls int
}

func newMemStore(msgs ...Message) *memStore {
	return &memStore{messages: slices.Clone(msgs)}
}

func (s *memStore) ListDirected(_ context.Context, senderID, receiverID string) ([]Message, error) {
	if s.failList != nil {
		if err := s.failList(senderID, receiverID); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range s.messages {
		if m.SenderID == senderID && m.ReceiverID == receiverID {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *memStore) InsertMessage(_ context.Context, msg Message) error {
	if s.failSend != nil {
		return s.failSend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) MarkRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	s.markCalls++
	s.mu.Unlock()
	if s.failMark != nil {
		if err := s.failMark(messageID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) CountUnread(_ context.Context, viewerID, counterpartyID string) (int, error) {
	if s.failCount != nil {
		if err := s.failCount(counterpartyID); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ReceiverID == viewerID && m.SenderID == counterpartyID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *memStore) LastMessage(_ context.Context, viewerID, counterpartyID string) (*Message, error) {
	if s.failLast != nil {
		if err := s.failLast(counterpartyID); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *Message
	for i := range s.messages {
		m := s.messages[i]
		inPair := (m.SenderID == viewerID && m.ReceiverID == counterpartyID) ||
			(m.SenderID == counterpartyID && m.ReceiverID == viewerID)
		if inPair && (last == nil || m.CreatedAt.After(last.CreatedAt)) {
			last = &m
		}
	}
	return last, nil
}

func (s *memStore) get(id string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return Message{}
}

// newRunningHub starts a hub on an in-memory broker for the test's lifetime.
func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(broker.NewMemory(), slogt.New(t))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("hub.Run() = %v", err)
		}
	})
	return hub
}

func newTestService(t *testing.T, store Store, hub *Hub) *Service {
	t.Helper()
	clock := t0
	var mu sync.Mutex
	return NewService(store, hub, slogt.New(t), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}))
}

func msg(id, from, to string, created time.Time, read bool) Message {
	return Message{ID: id, SenderID: from, ReceiverID: to, Content: "body " + id, CreatedAt: created, Read: read}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
