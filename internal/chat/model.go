package chat

import "time"

// Message is one directed communication unit. Only Read changes after creation.
type Message struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	ReceiverID   string    `json:"receiver_id"`
	SenderName   *string   `json:"sender_name"`   // snapshot at send time
	ReceiverName *string   `json:"receiver_name"` // snapshot at send time
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	Read         bool      `json:"read"`
}

// Counterparty addresses a conversation.
type Counterparty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConversationSummary is one row of a conversation list.
type ConversationSummary struct {
	Counterparty Counterparty `json:"counterparty"`
	LastMessage  *Message     `json:"last_message"`
	UnreadCount  int          `json:"unread_count"`
}

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// Event is published on every message mutation.
type Event struct {
	Type    EventType `json:"type"`
	Message Message   `json:"message"`
}

// MaxContentLength is the longest message body accepted, in runes. It must
// match the max rule on ComposerMessage.Content.
const MaxContentLength = 4000

// ComposerMessage is what a client sends to post a message.
type ComposerMessage struct {
	Content string `json:"content" validate:"notblank,max=4000"`
}

func namePtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
