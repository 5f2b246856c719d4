package chat

import (
	"context"
	"fmt"
)

// OpenThread loads the thread and marks the counterparty's unread messages as
// read. Marking is best effort and never fails the open.
func (s *Service) OpenThread(ctx context.Context, viewerID, counterpartyID string) ([]Message, error) {
	thread, err := s.LoadThread(ctx, viewerID, counterpartyID)
	if err != nil {
		return nil, err
	}
	s.MarkThreadRead(ctx, viewerID, counterpartyID, thread)
	return thread, nil
}

// MarkThreadRead flips every unread message in msgs that counterpartyID sent
// to viewerID. Each update is independent: failures are logged and skipped,
// and earlier successes are kept. Updated entries in msgs get Read=true.
// It returns how many messages were marked.
func (s *Service) MarkThreadRead(ctx context.Context, viewerID, counterpartyID string, msgs []Message) int {
	marked := 0
	for i := range msgs {
		msg := &msgs[i]
		if msg.ReceiverID != viewerID || msg.SenderID != counterpartyID || msg.Read {
			continue
		}
		if s.markRead(ctx, msg) {
			marked++
		}
	}
	return marked
}

func (s *Service) markRead(ctx context.Context, msg *Message) bool {
	if err := s.store.MarkRead(ctx, msg.ID); err != nil {
		s.logger.Warn("Could not mark message read", "message_id", msg.ID, "error", err.Error())
		return false
	}
	msg.Read = true
	s.publish(ctx, Event{Type: EventUpdate, Message: *msg})
	return true
}

// CountUnread returns how many messages counterpartyID sent to viewerID that
// are still unread.
func (s *Service) CountUnread(ctx context.Context, viewerID, counterpartyID string) (int, error) {
	if viewerID == "" {
		return 0, ErrNoViewer
	}
	if counterpartyID == "" {
		return 0, ErrNoCounterparty
	}
	n, err := s.store.CountUnread(ctx, viewerID, counterpartyID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
