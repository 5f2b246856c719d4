package chat

import (
	"context"
	"fmt"
	"slices"
)

// LoadThread returns every message exchanged between viewer and counterparty,
// oldest first. Messages with equal timestamps keep no defined relative order.
func (s *Service) LoadThread(ctx context.Context, viewerID, counterpartyID string) ([]Message, error) {
	if viewerID == "" {
		return nil, ErrNoViewer
	}
	if counterpartyID == "" {
		return nil, ErrNoCounterparty
	}

	sent, err := s.store.ListDirected(ctx, viewerID, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("load sent messages: %w", err)
	}
	received, err := s.store.ListDirected(ctx, counterpartyID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("load received messages: %w", err)
	}

	thread := make([]Message, 0, len(sent)+len(received))
	thread = append(thread, sent...)
	thread = append(thread, received...)
	// Each half is ordered on its own; the two interleave in wall-clock time.
	slices.SortStableFunc(thread, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return thread, nil
}
