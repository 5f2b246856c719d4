package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// EventsChannel is the pub/sub channel every instance publishes message
// events to and fans out from.
const EventsChannel = "messages.events"

const subscriptionBuffer = 64

var ErrBrokerClosed = errors.New("event stream closed")

// Broker carries serialized events between service instances.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is live. The channel is closed
	// when ctx is done or the connection is lost.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Filter selects the events a Subscription receives.
type Filter func(Event) bool

// ThreadFilter matches new messages counterpartyID sends to viewerID.
func ThreadFilter(viewerID, counterpartyID string) Filter {
	return func(ev Event) bool {
		return ev.Type == EventInsert &&
			ev.Message.SenderID == counterpartyID &&
			ev.Message.ReceiverID == viewerID
	}
}

// AllEvents matches every insert and update.
func AllEvents(Event) bool { return true }

// Hub fans broker events out to local subscriptions. Only the Run goroutine
// touches the subscription set.
type Hub struct {
	broker     Broker
	logger     *slog.Logger
	subs       map[*Subscription]bool
	register   chan *Subscription
	unregister chan *Subscription
	done       chan struct{}
}

func NewHub(broker Broker, logger *slog.Logger) *Hub {
	return &Hub{
		broker:     broker,
		logger:     logger,
		subs:       make(map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the broker and dispatches events until ctx is done or
// the broker stream ends. All subscriptions are closed on return.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.broker.Subscribe(ctx, EventsChannel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}

	defer func() {
		for sub := range h.subs {
			delete(h.subs, sub)
			close(sub.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case sub := <-h.register:
			h.subs[sub] = true

		case sub := <-h.unregister:
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.send)
			}

		case payload, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrBrokerClosed
			}
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				h.logger.Error("Could not decode message event", "error", err.Error())
				continue
			}
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	for sub := range h.subs {
		if !sub.filter(ev) {
			continue
		}
		select {
		case sub.send <- ev:
		default:
			// A subscriber that stopped reading is dropped; its view reloads.
			h.logger.Warn("Dropping slow subscription", "message_id", ev.Message.ID)
			delete(h.subs, sub)
			close(sub.send)
		}
	}
}

// Publish sends ev to every instance, this one included.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := h.broker.Publish(ctx, EventsChannel, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers a subscription and blocks until the hub has accepted
// it, so events published afterwards are delivered. If the hub has stopped,
// the returned subscription is already closed.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	send := make(chan Event, subscriptionBuffer)
	sub := &Subscription{C: send, send: send, filter: filter, hub: h}
	select {
	case h.register <- sub:
	case <-h.done:
		close(send)
	}
	return sub
}

// Subscription delivers matching events on C until closed. C is closed when
// the subscription ends for any reason.
type Subscription struct {
	C <-chan Event

	send   chan Event
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Close unsubscribes. It is safe to call more than once and after the hub stops.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}
