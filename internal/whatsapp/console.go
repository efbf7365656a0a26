package whatsapp

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConsoleClient is an offline Client that becomes ready immediately and writes every
// message to the log instead of WhatsApp.
type ConsoleClient struct {
	logger *zap.Logger
	events chan ClientEvent

	mu   sync.Mutex
	sent []ConsoleMessage
}

// ConsoleMessage is a message captured by ConsoleClient.
type ConsoleMessage struct {
	ChatID string
	Text   string
}

func NewConsoleClient(logger *zap.Logger) *ConsoleClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleClient{logger: logger, events: make(chan ClientEvent, 4)}
}

func (c *ConsoleClient) Connect(context.Context) error {
	for _, event := range []ClientEvent{{Type: EventAuthenticated}, {Type: EventReady}} {
		select {
		case c.events <- event:
		default:
		}
	}
	return nil
}

func (c *ConsoleClient) Events() <-chan ClientEvent {
	return c.events
}

func (c *ConsoleClient) SendMessage(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, ConsoleMessage{ChatID: chatID, Text: text})
	c.mu.Unlock()
	c.logger.Info("whatsapp console message", zap.String("chat_id", chatID), zap.String("text", text))
	return nil
}

func (c *ConsoleClient) Close(context.Context) error {
	return nil
}

// Sent returns the captured messages.
func (c *ConsoleClient) Sent() []ConsoleMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConsoleMessage(nil), c.sent...)
}
