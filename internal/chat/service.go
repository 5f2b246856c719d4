package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"organimate/internal/validator"
)

var (
	ErrNoViewer               = errors.New("viewer is required")
	ErrNoCounterparty         = errors.New("no conversation selected")
	ErrUnknownCounterparty    = errors.New("counterparty not found")
	ErrEmptyContent           = errors.New("message content is empty")
	ErrContentTooLong         = errors.New("message content is too long")
	ErrSelfMessage            = errors.New("sender and receiver are the same")
	ErrLiveUpdatesUnavailable = errors.New("live updates unavailable")
)

// DefaultAggregateLimit bounds concurrent per-counterparty queries.
const DefaultAggregateLimit = 8

// Service is the conversation and messaging access layer.
type Service struct {
	store          Store
	hub            *Hub
	val            *validator.Validator
	logger         *slog.Logger
	now            func() time.Time
	aggregateLimit int
}

type Option func(*Service)

// WithClock overrides the time source used to stamp new messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAggregateLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.aggregateLimit = n
		}
	}
}

// NewService builds a Service. hub may be nil, in which case no events are
// published and live sessions cannot be opened.
func NewService(store Store, hub *Hub, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:          store,
		hub:            hub,
		val:            validator.New(),
		logger:         logger,
		now:            time.Now,
		aggregateLimit: DefaultAggregateLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stores a new unread message from sender to receiver and publishes it.
func (s *Service) Send(ctx context.Context, sender, receiver Counterparty, content string) (Message, error) {
	if sender.ID == "" {
		return Message{}, ErrNoViewer
	}
	if receiver.ID == "" {
		return Message{}, ErrNoCounterparty
	}
	if sender.ID == receiver.ID {
		return Message{}, ErrSelfMessage
	}
	if errs := s.val.ValidateStruct(ComposerMessage{Content: content}); len(errs) > 0 {
		switch errs[0].Tag {
		case "notblank":
			return Message{}, ErrEmptyContent
		case "max":
			return Message{}, fmt.Errorf("%w: %d runes, limit %d", ErrContentTooLong, utf8.RuneCountInString(content), MaxContentLength)
		}
		return Message{}, fmt.Errorf("invalid message: %s", errs[0].Message)
	}

	msg := Message{
		ID:           uuid.NewString(),
		SenderID:     sender.ID,
		ReceiverID:   receiver.ID,
		SenderName:   namePtr(sender.Name),
		ReceiverName: namePtr(receiver.Name),
		Content:      content,
		CreatedAt:    s.now().UTC(),
		Read:         false,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	s.publish(ctx, Event{Type: EventInsert, Message: msg})
	return msg, nil
}

// publish is best effort: the message is already stored, and the list views
// reconcile on their next load.
func (s *Service) publish(ctx context.Context, ev Event) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn("Could not publish message event",
			"type", ev.Type, "message_id", ev.Message.ID, "error", err.Error())
	}
}
