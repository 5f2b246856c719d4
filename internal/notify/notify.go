// Package notify resolves the user-facing strings shown when a messaging
// action fails or a view has nothing to show.
package notify

import (
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Key identifies a notification.
type Key string

const (
	LoadMessagesFailed      Key = "LoadMessagesFailed"
	LoadConversationsFailed Key = "LoadConversationsFailed"
	SendMessageFailed       Key = "SendMessageFailed"
	EmptyMessage            Key = "EmptyMessage"
	MessageTooLong          Key = "MessageTooLong"
	SelfMessage             Key = "SelfMessage"
	CounterpartyNotFound    Key = "CounterpartyNotFound"
	NoConversationSelected  Key = "NoConversationSelected"
	NoMessagesYet           Key = "NoMessagesYet"
)

var english = []*i18n.Message{
	{ID: string(LoadMessagesFailed), Other: "Error loading messages"},
	{ID: string(LoadConversationsFailed), Other: "Error loading conversations"},
	{ID: string(SendMessageFailed), Other: "Failed to send message"},
	{ID: string(EmptyMessage), Other: "Message cannot be empty"},
	{ID: string(MessageTooLong), Other: "Message is too long"},
	{ID: string(SelfMessage), Other: "You cannot message yourself"},
	{ID: string(CounterpartyNotFound), Other: "Conversation not found"},
	{ID: string(NoConversationSelected), Other: "No conversation selected"},
	{ID: string(NoMessagesYet), Other: "No messages yet"},
}

var spanish = []*i18n.Message{
	{ID: string(LoadMessagesFailed), Other: "Error al cargar los mensajes"},
	{ID: string(LoadConversationsFailed), Other: "Error al cargar las conversaciones"},
	{ID: string(SendMessageFailed), Other: "No se pudo enviar el mensaje"},
	{ID: string(EmptyMessage), Other: "El mensaje no puede estar vacío"},
	{ID: string(MessageTooLong), Other: "El mensaje es demasiado largo"},
	{ID: string(SelfMessage), Other: "No puedes enviarte mensajes a ti mismo"},
	{ID: string(CounterpartyNotFound), Other: "Conversación no encontrada"},
	{ID: string(NoConversationSelected), Other: "Ninguna conversación seleccionada"},
	{ID: string(NoMessagesYet), Other: "Aún no hay mensajes"},
}

// Notifier localizes notification keys.
type Notifier struct {
	bundle *i18n.Bundle
}

func New() *Notifier {
	bundle := i18n.NewBundle(language.English)
	// The catalogs are static; AddMessages only fails on malformed IDs.
	_ = bundle.AddMessages(language.English, english...)
	_ = bundle.AddMessages(language.Spanish, spanish...)
	return &Notifier{bundle: bundle}
}

// Message returns the text for key in the best match for langs (for example
// an Accept-Language header value), falling back to English.
func (n *Notifier) Message(key Key, langs ...string) string {
	langs = append(langs, "en")
	localizer := i18n.NewLocalizer(n.bundle, langs...)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: string(key)})
	if err != nil || msg == "" {
		return string(key)
	}
	return msg
}
