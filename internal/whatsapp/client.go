// Package whatsapp owns the WhatsApp session used for package notifications: the
// pairing and connection state machine, status broadcasting and the gateway clients.
package whatsapp

import "context"

// EventType names a lifecycle event emitted by a Client.
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventDisconnected  EventType = "disconnected"
	EventAuthFailure   EventType = "auth_failure"
)

// ClientEvent is a single lifecycle signal. Data carries the login code for EventQR and
// a reason for the failure events.
type ClientEvent struct {
	Type EventType `json:"type"`
	Data string    `json:"data,omitempty"`
}

// Client is a WhatsApp connection driven by a Session. Events stays open across
// reconnects so the session can keep a single receive loop.
type Client interface {
	Connect(ctx context.Context) error
	Events() <-chan ClientEvent
	SendMessage(ctx context.Context, chatID, text string) error
	Close(ctx context.Context) error
}
