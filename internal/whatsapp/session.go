package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/metrics"
	"go.uber.org/zap"
)

// AuthFailurePolicy decides what happens after a pairing failure.
type AuthFailurePolicy string

const (
	// AuthFailureFailClosed leaves the session in auth_failed until Restart is called.
	AuthFailureFailClosed AuthFailurePolicy = "fail_closed"
	// AuthFailureRetry re-initializes with the reconnect backoff.
	AuthFailureRetry AuthFailurePolicy = "retry"
)

const (
	chatIDSuffix             = "@c.us"
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnectDelay = time.Minute
	defaultRestartDelay      = 3 * time.Second
	closeTimeout             = 5 * time.Second
)

var (
	// ErrNotReady is returned by Send when the session cannot deliver messages.
	ErrNotReady = errors.New("whatsapp: session not ready")

	errMissingClient = errors.New("whatsapp: client is required")
)

// Timer is the handle returned by the scheduling hook.
type Timer interface {
	Stop() bool
}

// SessionConfig describes a Session.
type SessionConfig struct {
	Client            Client
	Logger            *zap.Logger
	Clock             func() time.Time
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	RestartDelay      time.Duration
	AuthFailurePolicy AuthFailurePolicy
	QRRenderer        func(code string) (string, error)
	AfterFunc         func(delay time.Duration, fn func()) Timer
}

// Session drives a Client through the pairing lifecycle:
//
//	uninitialized -> awaiting_qr -> authenticated_not_ready -> ready
//	ready | authenticated_not_ready -> disconnected -> (backoff) -> awaiting_qr
//	awaiting_qr -> auth_failed
//
// Only the ready state accepts messages.
type Session struct {
	client            Client
	logger            *zap.Logger
	clock             func() time.Time
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	restartDelay      time.Duration
	policy            AuthFailurePolicy
	renderQR          func(code string) (string, error)
	afterFunc         func(delay time.Duration, fn func()) Timer

	broadcaster *statusBroadcaster
	reinit      chan struct{}

	mu           sync.Mutex
	status       Status
	attempt      int
	pending      Timer
	restartHooks []func()
}

// NewSession validates cfg and returns a session in the uninitialized state.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	policy := cfg.AuthFailurePolicy
	switch policy {
	case "":
		policy = AuthFailureFailClosed
	case AuthFailureFailClosed, AuthFailureRetry:
	default:
		return nil, fmt.Errorf("whatsapp: unknown auth failure policy %q", policy)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	maxReconnectDelay := cfg.MaxReconnectDelay
	if maxReconnectDelay < reconnectDelay {
		maxReconnectDelay = defaultMaxReconnectDelay
		if maxReconnectDelay < reconnectDelay {
			maxReconnectDelay = reconnectDelay
		}
	}
	restartDelay := cfg.RestartDelay
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}
	renderQR := cfg.QRRenderer
	if renderQR == nil {
		renderQR = RenderQRDataURL
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = func(delay time.Duration, fn func()) Timer {
			return time.AfterFunc(delay, fn)
		}
	}

	session := &Session{
		client:            cfg.Client,
		logger:            logger,
		clock:             clock,
		reconnectDelay:    reconnectDelay,
		maxReconnectDelay: maxReconnectDelay,
		restartDelay:      restartDelay,
		policy:            policy,
		renderQR:          renderQR,
		afterFunc:         afterFunc,
		broadcaster:       newStatusBroadcaster(),
		reinit:            make(chan struct{}, 1),
	}
	session.status = Status{State: StateUninitialized, Connectivity: ConnectivityOffline, UpdatedAt: clock().UTC()}
	metrics.SetWhatsAppState(string(StateUninitialized))
	return session, nil
}

// Run initializes the session and processes client events until ctx ends, then closes
// the client.
func (s *Session) Run(ctx context.Context) error {
	s.initialize(ctx)
	events := s.client.Events()
	for {
		select {
		case <-ctx.Done():
			s.stopPending()
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			err := s.client.Close(closeCtx)
			cancel()
			if err != nil {
				s.logger.Warn("whatsapp client close failed", zap.Error(err))
			}
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(event)
		case <-s.reinit:
			s.initialize(ctx)
		}
	}
}

// IsReady reports whether messages can be sent.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State == StateReady
}

// Status returns the current snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe streams every status change until ctx ends or cleanup is called.
func (s *Session) Subscribe(ctx context.Context) (<-chan Status, func()) {
	return s.broadcaster.Subscribe(ctx)
}

// OnRestart registers a hook that runs during Restart after the client is closed.
func (s *Session) OnRestart(hook func()) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	s.restartHooks = append(s.restartHooks, hook)
	s.mu.Unlock()
}

// Send delivers text to a normalized phone number.
func (s *Session) Send(ctx context.Context, number, text string) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	chatID := strings.TrimSpace(number)
	if !strings.HasSuffix(chatID, chatIDSuffix) {
		chatID += chatIDSuffix
	}
	return s.client.SendMessage(ctx, chatID, text)
}

// Restart tears the connection down, clears the login code, runs the restart hooks and
// re-initializes after the restart delay.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.attempt = 0
	s.status.Reconnects = 0
	s.status.LastError = ""
	s.transitionLocked(StateUninitialized, "")
	hooks := append([]func(){}, s.restartHooks...)
	snapshot := s.status
	s.mu.Unlock()
	s.broadcaster.Publish(snapshot)

	err := s.client.Close(ctx)
	if err != nil {
		s.logger.Warn("whatsapp client close failed during restart", zap.Error(err))
	}
	for _, hook := range hooks {
		hook()
	}

	s.mu.Lock()
	s.scheduleLocked(s.restartDelay)
	s.mu.Unlock()
	s.logger.Info("whatsapp session restart scheduled", zap.Duration("delay", s.restartDelay))
	return err
}

func (s *Session) initialize(ctx context.Context) {
	s.mu.Lock()
	switch s.status.State {
	case StateUninitialized, StateDisconnected, StateAuthFailed:
	default:
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.transitionLocked(StateAwaitingQR, "")
	snapshot := s.status
	s.mu.Unlock()
	s.broadcaster.Publish(snapshot)
	s.logger.Info("whatsapp session initializing")

	if err := s.client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("whatsapp connect failed", zap.Error(err))
		s.mu.Lock()
		if s.status.State == StateAwaitingQR {
			s.status.LastError = err.Error()
			s.transitionLocked(StateUninitialized, "")
			s.scheduleBackoffLocked()
		}
		snapshot = s.status
		s.mu.Unlock()
		s.broadcaster.Publish(snapshot)
	}
}

func (s *Session) handleEvent(event ClientEvent) {
	s.mu.Lock()
	current := s.status.State
	changed := true

	switch {
	case event.Type == EventQR && current == StateAwaitingQR:
		s.status.QRCode = event.Data
		dataURL, err := s.renderQR(event.Data)
		if err != nil {
			s.logger.Warn("whatsapp qr render failed", zap.Error(err))
		}
		s.status.QRDataURL = dataURL
		s.transitionLocked(StateAwaitingQR, event.Data)
	case event.Type == EventAuthenticated && current == StateAwaitingQR:
		s.transitionLocked(StateAuthenticatedNotReady, "")
	case event.Type == EventReady && (current == StateAwaitingQR || current == StateAuthenticatedNotReady):
		s.attempt = 0
		s.status.LastError = ""
		s.transitionLocked(StateReady, "")
	case event.Type == EventDisconnected && (current == StateAwaitingQR || current == StateReady || current == StateAuthenticatedNotReady):
		s.status.LastError = event.Data
		s.transitionLocked(StateDisconnected, "")
		s.scheduleBackoffLocked()
	case event.Type == EventAuthFailure && current == StateAwaitingQR:
		s.status.LastError = event.Data
		s.transitionLocked(StateAuthFailed, "")
		if s.policy == AuthFailureRetry {
			s.scheduleBackoffLocked()
		}
	default:
		changed = false
	}
	snapshot := s.status
	s.mu.Unlock()

	if !changed {
		s.logger.Debug("whatsapp event ignored",
			zap.String("event", string(event.Type)),
			zap.String("state", string(current)))
		return
	}
	s.logger.Info("whatsapp state changed",
		zap.String("event", string(event.Type)),
		zap.String("from", string(current)),
		zap.String("to", string(snapshot.State)))
	s.broadcaster.Publish(snapshot)
}

// transitionLocked moves to state; a login code survives only in awaiting_qr.
func (s *Session) transitionLocked(state State, qrCode string) {
	if state != StateAwaitingQR || qrCode == "" {
		s.status.QRCode = ""
		s.status.QRDataURL = ""
	}
	s.status.State = state
	s.status.Ready = state == StateReady
	s.status.Connectivity = connectivityOf(state, s.status.QRCode)
	s.status.UpdatedAt = s.clock().UTC()
	metrics.SetWhatsAppState(string(state))
}

// scheduleBackoffLocked doubles the delay on every consecutive attempt up to the cap.
func (s *Session) scheduleBackoffLocked() {
	s.attempt++
	delay := s.reconnectDelay
	for i := 1; i < s.attempt && delay < s.maxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > s.maxReconnectDelay {
		delay = s.maxReconnectDelay
	}
	s.status.Reconnects++
	metrics.IncReconnect()
	s.logger.Info("whatsapp reconnect scheduled",
		zap.Int("attempt", s.attempt),
		zap.Duration("delay", delay))
	s.scheduleLocked(delay)
}

func (s *Session) scheduleLocked(delay time.Duration) {
	s.cancelPendingLocked()
	s.pending = s.afterFunc(delay, func() {
		select {
		case s.reinit <- struct{}{}:
		default:
		}
	})
}

func (s *Session) cancelPendingLocked() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Session) stopPending() {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.mu.Unlock()
}
