package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/database"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/whatsapp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sequentialIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%03d", p.next), nil
}

type sentMessage struct {
	Number string
	Text   string
}

type stubChannel struct {
	mu    sync.Mutex
	ready bool
	sent  []sentMessage
}

func (c *stubChannel) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *stubChannel) Send(_ context.Context, number, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{Number: number, Text: text})
	return nil
}

func (c *stubChannel) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

type stubSession struct {
	mu          sync.Mutex
	status      whatsapp.Status
	subscribers []chan whatsapp.Status
	restarts    int
	subscribed  chan struct{}
}

func newStubSession(status whatsapp.Status) *stubSession {
	return &stubSession{status: status, subscribed: make(chan struct{}, 4)}
}

func (s *stubSession) Status() whatsapp.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubSession) Subscribe(context.Context) (<-chan whatsapp.Status, func()) {
	stream := make(chan whatsapp.Status, 4)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, stream)
	s.mu.Unlock()
	s.subscribed <- struct{}{}
	return stream, func() {}
}

func (s *stubSession) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	s.status = whatsapp.Status{State: whatsapp.StateUninitialized, Connectivity: whatsapp.ConnectivityOffline}
	return nil
}

func (s *stubSession) publish(status whatsapp.Status) {
	s.mu.Lock()
	s.status = status
	subscribers := append([]chan whatsapp.Status(nil), s.subscribers...)
	s.mu.Unlock()
	for _, stream := range subscribers {
		stream <- status
	}
}

type testEnvironment struct {
	handler http.Handler
	channel *stubChannel
	session *stubSession
	store   *parcels.GormStore
}

var fixedNow = time.Date(2026, time.March, 2, 1, 30, 0, 0, time.UTC)

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "parcel-desk.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	store := parcels.NewGormStore(db)
	ids := &sequentialIDProvider{}
	clock := func() time.Time { return fixedNow }
	channel := &stubChannel{ready: true}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Channel:    channel,
		Journal:    store,
		IDProvider: ids,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	service, err := parcels.NewService(parcels.ServiceConfig{
		Store:      store,
		Notifier:   dispatcher,
		Clock:      clock,
		IDProvider: ids,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	session := newStubSession(whatsapp.Status{
		State:        whatsapp.StateAwaitingQR,
		Connectivity: whatsapp.ConnectivityConnecting,
		QRCode:       "2@pairing-code",
	})
	handler, err := NewHTTPHandler(Dependencies{
		Parcels:   service,
		Session:   session,
		Heartbeat: time.Hour,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	return &testEnvironment{handler: handler, channel: channel, session: session, store: store}
}

type responseEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (e *testEnvironment) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, responseEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)

	var decoded responseEnvelope
	if strings.HasPrefix(recorder.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder, decoded
}

func decodeData[T any](t *testing.T, envelope responseEnvelope) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(envelope.Data, &value); err != nil {
		t.Fatalf("decode data %s: %v", string(envelope.Data), err)
	}
	return value
}

func (e *testEnvironment) mustCreateRecipient(t *testing.T, payload recipientRequestPayload) recipientPayload {
	t.Helper()
	recorder, envelope := e.do(t, http.MethodPost, "/api/recipients", payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create recipient: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeData[recipientPayload](t, envelope)
}

type arrivalResponse struct {
	Package      packagePayload      `json:"package"`
	Notification notificationPayload `json:"notification"`
}

type statusResponse struct {
	Package      packagePayload      `json:"package"`
	Changed      bool                `json:"changed"`
	Notification notificationPayload `json:"notification"`
}

func (e *testEnvironment) mustRecordArrival(t *testing.T, payload arrivalRequestPayload) arrivalResponse {
	t.Helper()
	recorder, envelope := e.do(t, http.MethodPost, "/api/packages", payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("record arrival: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeData[arrivalResponse](t, envelope)
}
