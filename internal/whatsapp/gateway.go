package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	gatewayEventBuffer   = 32
	gatewayErrorBodyMax  = 512
	gatewayDialTimeout   = 10 * time.Second
	gatewayDefaultClient = 15 * time.Second
)

// GatewayConfig describes a GatewayClient.
type GatewayConfig struct {
	BaseURL    string
	SessionID  string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// GatewayClient talks to a WhatsApp Web gateway sidecar: REST calls start, stop and send,
// and a websocket streams lifecycle events as JSON.
type GatewayClient struct {
	baseURL    *url.URL
	sessionID  string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
	events     chan ClientEvent

	mu   sync.Mutex
	conn *websocket.Conn
}

type gatewayMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// NewGatewayClient validates cfg and returns an unconnected client.
func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: parse gateway url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("whatsapp: gateway url must be http or https, got %q", cfg.BaseURL)
	}
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		return nil, errors.New("whatsapp: gateway session id is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: gatewayDefaultClient}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: gatewayDialTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GatewayClient{
		baseURL:    base,
		sessionID:  sessionID,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
		events:     make(chan ClientEvent, gatewayEventBuffer),
	}, nil
}

// Connect opens the event stream and asks the gateway to start the session.
func (c *GatewayClient) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.eventsURL(), nil)
	if err != nil {
		return fmt.Errorf("whatsapp: dial gateway events: %w", err)
	}

	c.mu.Lock()
	previous := c.conn
	c.conn = conn
	c.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	go c.readEvents(conn)

	if err := c.post(ctx, "start", nil); err != nil {
		c.dropConnection(conn)
		return err
	}
	return nil
}

// Events streams gateway lifecycle events.
func (c *GatewayClient) Events() <-chan ClientEvent {
	return c.events
}

// SendMessage posts text to chatID.
func (c *GatewayClient) SendMessage(ctx context.Context, chatID, text string) error {
	return c.post(ctx, "messages", gatewayMessage{ChatID: chatID, Text: text})
}

// Close stops the gateway session and drops the event stream.
func (c *GatewayClient) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	return c.post(ctx, "stop", nil)
}

func (c *GatewayClient) readEvents(conn *websocket.Conn) {
	for {
		var event ClientEvent
		if err := conn.ReadJSON(&event); err != nil {
			if c.ownsConnection(conn) {
				c.logger.Warn("whatsapp gateway stream ended", zap.Error(err))
				c.dropConnection(conn)
				c.emit(ClientEvent{Type: EventDisconnected, Data: err.Error()})
			}
			return
		}
		switch event.Type {
		case EventQR, EventAuthenticated, EventReady, EventDisconnected, EventAuthFailure:
			c.emit(event)
		default:
			c.logger.Debug("whatsapp gateway event ignored", zap.String("type", string(event.Type)))
		}
	}
}

func (c *GatewayClient) emit(event ClientEvent) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("whatsapp gateway event dropped", zap.String("type", string(event.Type)))
	}
}

func (c *GatewayClient) ownsConnection(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *GatewayClient) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *GatewayClient) post(ctx context.Context, action string, payload any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("whatsapp: encode %s request: %w", action, err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL(action), body)
	if err != nil {
		return fmt.Errorf("whatsapp: build %s request: %w", action, err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("whatsapp: %s request: %w", action, err)
	}
	defer response.Body.Close()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, gatewayErrorBodyMax))
		return fmt.Errorf("whatsapp: %s request returned %d: %s", action, response.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func (c *GatewayClient) sessionURL(action string) string {
	return c.baseURL.JoinPath("sessions", c.sessionID, action).String()
}

func (c *GatewayClient) eventsURL() string {
	events := c.baseURL.JoinPath("sessions", c.sessionID, "events")
	if events.Scheme == "https" {
		events.Scheme = "wss"
	} else {
		events.Scheme = "ws"
	}
	return events.String()
}
