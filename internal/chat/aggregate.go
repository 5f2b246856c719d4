package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ScalabilityBoundary is the counterparty count above which the per-pair
// query fan-out in Conversations gets expensive enough to warn about.
const ScalabilityBoundary = 200

// Conversations summarizes the viewer's conversation with each counterparty.
// Each summary costs two queries. A counterparty whose queries fail is logged
// and left out.
func (s *Service) Conversations(ctx context.Context, viewerID string, counterparties []Counterparty) ([]ConversationSummary, error) {
	if viewerID == "" {
		return nil, ErrNoViewer
	}
	if len(counterparties) > ScalabilityBoundary {
		s.logger.Warn("Conversation list exceeds per-counterparty query boundary",
			"viewer_id", viewerID, "counterparties", len(counterparties), "boundary", ScalabilityBoundary)
	}

	var (
		mu        sync.Mutex
		summaries = make([]ConversationSummary, 0, len(counterparties))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.aggregateLimit)
	for _, cp := range counterparties {
		g.Go(func() error {
			summary, err := s.summarize(gctx, viewerID, cp)
			if err != nil {
				s.logger.Warn("Excluding conversation from list",
					"viewer_id", viewerID, "counterparty_id", cp.ID, "error", err.Error())
				return nil
			}
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	SortConversations(summaries)
	return summaries, nil
}

func (s *Service) summarize(ctx context.Context, viewerID string, cp Counterparty) (ConversationSummary, error) {
	last, err := s.store.LastMessage(ctx, viewerID, cp.ID)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("last message: %w", err)
	}
	unread, err := s.store.CountUnread(ctx, viewerID, cp.ID)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("count unread: %w", err)
	}
	return ConversationSummary{Counterparty: cp, LastMessage: last, UnreadCount: unread}, nil
}

// SortConversations orders by unread count descending, then last message
// time descending (conversations without messages last), then name.
func SortConversations(summaries []ConversationSummary) {
	slices.SortStableFunc(summaries, func(a, b ConversationSummary) int {
		if a.UnreadCount != b.UnreadCount {
			return b.UnreadCount - a.UnreadCount
		}
		switch {
		case a.LastMessage != nil && b.LastMessage != nil:
			if c := b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt); c != 0 {
				return c
			}
		case a.LastMessage != nil:
			return -1
		case b.LastMessage != nil:
			return 1
		}
		return strings.Compare(strings.ToLower(a.Counterparty.Name), strings.ToLower(b.Counterparty.Name))
	})
}
