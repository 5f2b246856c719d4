package chat

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrSubscriptionClosed is returned by Next after the hub dropped or closed
// the underlying subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

// ThreadSession is an open thread: the loaded history plus every message the
// counterparty sends while it stays open.
//
// The live subscription is taken before the history is loaded, and messages
// are de-duplicated by ID, so a message written while the thread opens shows
// up exactly once.
type ThreadSession struct {
	svc          *Service
	viewer       Counterparty
	counterparty Counterparty
	sub          *Subscription

	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
}

// OpenThreadSession loads the thread between viewer and counterparty, marks
// it read and starts listening for new messages. Callers must Close it.
func (s *Service) OpenThreadSession(ctx context.Context, viewer, counterparty Counterparty) (*ThreadSession, error) {
	if viewer.ID == "" {
		return nil, ErrNoViewer
	}
	if counterparty.ID == "" {
		return nil, ErrNoCounterparty
	}
	if s.hub == nil {
		return nil, ErrLiveUpdatesUnavailable
	}

	sub := s.hub.Subscribe(ThreadFilter(viewer.ID, counterparty.ID))
	thread, err := s.OpenThread(ctx, viewer.ID, counterparty.ID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	ts := &ThreadSession{
		svc:          s,
		viewer:       viewer,
		counterparty: counterparty,
		sub:          sub,
		messages:     thread,
		seen:         make(map[string]struct{}, len(thread)),
	}
	for _, msg := range thread {
		ts.seen[msg.ID] = struct{}{}
	}
	return ts, nil
}

func (ts *ThreadSession) Counterparty() Counterparty { return ts.counterparty }

// Messages returns a copy of the thread in display order.
func (ts *ThreadSession) Messages() []Message {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return slices.Clone(ts.messages)
}

// Next blocks until the counterparty sends a message not yet in the thread,
// appends it, marks it read and returns it.
func (ts *ThreadSession) Next(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case ev, ok := <-ts.sub.C:
			if !ok {
				return Message{}, ErrSubscriptionClosed
			}
			msg := ev.Message
			if !ts.append(msg) {
				continue
			}
			if !msg.Read && ts.svc.markRead(ctx, &msg) {
				ts.setRead(msg.ID)
			}
			return msg, nil
		}
	}
}

// Send posts content to the counterparty and appends it to the thread.
func (ts *ThreadSession) Send(ctx context.Context, content string) (Message, error) {
	msg, err := ts.svc.Send(ctx, ts.viewer, ts.counterparty, content)
	if err != nil {
		return Message{}, err
	}
	ts.append(msg)
	return msg, nil
}

// Close ends the live subscription. It is safe to call more than once.
func (ts *ThreadSession) Close() {
	ts.sub.Close()
}

func (ts *ThreadSession) append(msg Message) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, dup := ts.seen[msg.ID]; dup {
		return false
	}
	ts.seen[msg.ID] = struct{}{}
	ts.messages = append(ts.messages, msg)
	return true
}

func (ts *ThreadSession) setRead(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i := len(ts.messages) - 1; i >= 0; i-- {
		if ts.messages[i].ID == id {
			ts.messages[i].Read = true
			return
		}
	}
}

// CounterpartySource resolves who belongs in a conversation list.
type CounterpartySource func(ctx context.Context) ([]Counterparty, error)

// ListSession keeps a conversation list current by recomputing it after
// every message event.
type ListSession struct {
	svc      *Service
	viewerID string
	source   CounterpartySource
	sub      *Subscription
}

// WatchConversations starts listening for message events on behalf of a
// conversation list. Callers must Close it.
func (s *Service) WatchConversations(viewerID string, source CounterpartySource) (*ListSession, error) {
	if viewerID == "" {
		return nil, ErrNoViewer
	}
	if s.hub == nil {
		return nil, ErrLiveUpdatesUnavailable
	}
	return &ListSession{
		svc:      s,
		viewerID: viewerID,
		source:   source,
		sub:      s.hub.Subscribe(AllEvents),
	}, nil
}

// Load computes the current list.
func (l *ListSession) Load(ctx context.Context) ([]ConversationSummary, error) {
	counterparties, err := l.source(ctx)
	if err != nil {
		return nil, err
	}
	return l.svc.Conversations(ctx, l.viewerID, counterparties)
}

// Next waits for the next message event anywhere and returns the recomputed list.
func (l *ListSession) Next(ctx context.Context) ([]ConversationSummary, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case _, ok := <-l.sub.C:
		if !ok {
			return nil, ErrSubscriptionClosed
		}
		return l.Load(ctx)
	}
}

func (l *ListSession) Close() {
	l.sub.Close()
}
