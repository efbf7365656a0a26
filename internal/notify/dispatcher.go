// Package notify formats package notifications and delivers them once per event key
// through a WhatsApp channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultCountryCode = "62"
	defaultMinDigits   = 10
	defaultHistorySize = 10000
	defaultSendTimeout = 15 * time.Second
)

var (
	// ErrChannelUnavailable is reported when the messaging session cannot send.
	ErrChannelUnavailable = errors.New("notify: channel unavailable")

	errMissingChannel = errors.New("notify: channel is required")
	errMissingJournal = errors.New("notify: journal is required")
)

// Channel is the outbound messaging session.
type Channel interface {
	IsReady() bool
	Send(ctx context.Context, number, text string) error
}

// Journal records delivered notifications in the audit trail.
type Journal interface {
	AppendActivityLog(ctx context.Context, entry *parcels.ActivityLog) error
}

// DispatcherConfig describes the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Channel     Channel
	Journal     Journal
	IDProvider  parcels.IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
	CountryCode string
	MinDigits   int
	HistorySize int
	SendTimeout time.Duration
	Location    *time.Location
}

// Dispatcher implements parcels.Notifier with an at-most-once-per-process guard keyed by
// event and package.
type Dispatcher struct {
	channel     Channel
	journal     Journal
	idProvider  parcels.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	countryCode string
	minDigits   int
	sendTimeout time.Duration
	location    *time.Location
	history     *lru.Cache[string, struct{}]
}

// NewDispatcher validates cfg and builds a Dispatcher with an empty history.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Channel == nil {
		return nil, errMissingChannel
	}
	if cfg.Journal == nil {
		return nil, errMissingJournal
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = parcels.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	countryCode := cfg.CountryCode
	if countryCode == "" {
		countryCode = defaultCountryCode
	}
	minDigits := cfg.MinDigits
	if minDigits <= 0 {
		minDigits = defaultMinDigits
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	history, err := lru.New[string, struct{}](historySize)
	if err != nil {
		return nil, fmt.Errorf("notify: create history: %w", err)
	}

	return &Dispatcher{
		channel:     cfg.Channel,
		journal:     cfg.Journal,
		idProvider:  idProvider,
		clock:       clock,
		logger:      logger,
		countryCode: countryCode,
		minDigits:   minDigits,
		sendTimeout: sendTimeout,
		location:    location,
		history:     history,
	}, nil
}

// Dispatch sends the notification unless its key was already delivered. Every failure is
// reported through the result.
func (d *Dispatcher) Dispatch(ctx context.Context, notification parcels.Notification) parcels.NotificationResult {
	result := d.dispatch(ctx, notification)
	metrics.IncNotification(string(notification.Event), string(result.Outcome))

	fields := []zap.Field{
		zap.String("event", string(notification.Event)),
		zap.String("key", notification.Key),
		zap.String("package_id", notification.Package.ID),
		zap.String("outcome", string(result.Outcome)),
	}
	switch result.Outcome {
	case parcels.OutcomeSent:
		d.logger.Info("notification sent", append(fields, zap.String("recipient", result.RecipientName))...)
	case parcels.OutcomeFailed:
		d.logger.Warn("notification failed", append(fields, zap.Error(result.Err))...)
	default:
		d.logger.Info("notification skipped", fields...)
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, notification parcels.Notification) parcels.NotificationResult {
	recipient := notification.Recipient
	if !recipient.Notifiable() {
		return parcels.NotificationResult{Outcome: parcels.OutcomeUnresolved}
	}
	result := parcels.NotificationResult{RecipientName: recipient.DisplayName}

	number, err := NormalizePhone(recipient.Phone, d.countryCode, d.minDigits)
	if err != nil {
		result.Outcome = parcels.OutcomeInvalidNumber
		result.Err = err
		return result
	}
	result.Number = number

	if d.history.Contains(notification.Key) {
		result.Outcome = parcels.OutcomeAlreadySent
		return result
	}
	if !d.channel.IsReady() {
		result.Outcome = parcels.OutcomeChannelUnavailable
		result.Err = ErrChannelUnavailable
		return result
	}

	text, err := RenderMessage(notification.Event, notification.Package, d.clock(), d.location)
	if err != nil {
		result.Outcome = parcels.OutcomeFailed
		result.Err = err
		return result
	}

	// The key is reserved before sending so concurrent dispatches for the same event
	// cannot both reach the channel.
	if found, _ := d.history.ContainsOrAdd(notification.Key, struct{}{}); found {
		result.Outcome = parcels.OutcomeAlreadySent
		return result
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err = d.channel.Send(sendCtx, number, text)
	cancel()
	if err != nil {
		d.history.Remove(notification.Key)
		if !d.channel.IsReady() {
			result.Outcome = parcels.OutcomeChannelUnavailable
			result.Err = fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
			return result
		}
		result.Outcome = parcels.OutcomeFailed
		result.Err = err
		return result
	}

	result.Outcome = parcels.OutcomeSent
	d.recordDelivery(ctx, notification, recipient, number)
	return result
}

func (d *Dispatcher) recordDelivery(ctx context.Context, notification parcels.Notification, recipient *parcels.Recipient, number string) {
	entryID, err := d.idProvider.NewID()
	if err != nil {
		d.logger.Warn("notification journal id failed", zap.String("key", notification.Key), zap.Error(err))
		return
	}
	var packageID *string
	if notification.Package.ID != "" {
		id := notification.Package.ID
		packageID = &id
	}
	entry := &parcels.ActivityLog{
		ID:          entryID,
		PackageID:   packageID,
		Action:      parcels.ActionNotified,
		Description: fmt.Sprintf("WhatsApp %s notification sent to %s (%s)", notification.Event, recipient.DisplayName, number),
		CreatedAt:   d.clock().UTC(),
	}
	if err := d.journal.AppendActivityLog(ctx, entry); err != nil {
		d.logger.Warn("notification journal failed", zap.String("key", notification.Key), zap.Error(err))
	}
}

// ResetHistory forgets every delivered key.
func (d *Dispatcher) ResetHistory() {
	d.history.Purge()
	d.logger.Info("notification history cleared")
}

// HistoryLen reports how many delivered keys are remembered.
func (d *Dispatcher) HistoryLen() int {
	return d.history.Len()
}
