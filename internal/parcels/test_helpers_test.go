package parcels

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

type stepClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{current: start, step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	value := c.current
	c.current = c.current.Add(c.step)
	return value
}

// recordingNotifier keeps every dispatch and suppresses repeated keys the way the
// WhatsApp dispatcher does.
type recordingNotifier struct {
	mu         sync.Mutex
	dispatched []Notification
	sentKeys   map[string]struct{}
	outcome    NotificationOutcome
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sentKeys: map[string]struct{}{}, outcome: OutcomeSent}
}

func (n *recordingNotifier) Dispatch(_ context.Context, notification Notification) NotificationResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, notification)
	if notification.Recipient == nil {
		return NotificationResult{Outcome: OutcomeUnresolved}
	}
	if _, seen := n.sentKeys[notification.Key]; seen {
		return NotificationResult{Outcome: OutcomeAlreadySent, RecipientName: notification.Recipient.DisplayName}
	}
	if n.outcome == OutcomeSent {
		n.sentKeys[notification.Key] = struct{}{}
	}
	return NotificationResult{Outcome: n.outcome, RecipientName: notification.Recipient.DisplayName}
}

func (n *recordingNotifier) sentCount(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sentKeys[key]; ok {
		return 1
	}
	return 0
}

func (n *recordingNotifier) dispatches() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	copied := make([]Notification, len(n.dispatched))
	copy(copied, n.dispatched)
	return copied
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parcels.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Recipient{}, &Package{}, &ActivityLog{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, notifier Notifier) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	cfg := ServiceConfig{
		Store:      NewGormStore(db),
		Clock:      newStepClock(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)).Now,
		IDProvider: &sequentialIDGenerator{prefix: "id"},
	}
	if notifier != nil {
		cfg.Notifier = notifier
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func mustCreateRecipient(t *testing.T, service *Service, input RecipientInput) Recipient {
	t.Helper()
	recipient, err := service.CreateRecipient(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to create recipient %s: %v", input.DisplayName, err)
	}
	return recipient
}

func mustRecordArrival(t *testing.T, service *Service, input ArrivalInput) Package {
	t.Helper()
	result, err := service.RecordArrival(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to record arrival: %v", err)
	}
	return result.Package
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	statement := db.Model(model)
	if query != "" {
		statement = statement.Where(query, args...)
	}
	if err := statement.Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
