package parcels

import (
	"context"
	"fmt"
)

// Event names the package moment a notification describes.
type Event string

const (
	EventArrived   Event = "arrived"
	EventCollected Event = "collected"
	EventReminder  Event = "reminder"
)

// NotificationOutcome reports what happened to a dispatch attempt.
type NotificationOutcome string

const (
	OutcomeSent               NotificationOutcome = "sent"
	OutcomeAlreadySent        NotificationOutcome = "already_sent"
	OutcomeUnresolved         NotificationOutcome = "unresolved"
	OutcomeChannelUnavailable NotificationOutcome = "channel_unavailable"
	OutcomeInvalidNumber      NotificationOutcome = "invalid_number"
	OutcomeFailed             NotificationOutcome = "failed"
	OutcomeDisabled           NotificationOutcome = "disabled"
)

// Notification is a single dispatch request. Key identifies the (event, package) pair
// the dedup guard tracks.
type Notification struct {
	Event     Event
	Key       string
	Package   Package
	Recipient *Recipient
}

// NotificationResult is returned by a Notifier; it never fails the triggering operation.
type NotificationResult struct {
	Outcome       NotificationOutcome
	RecipientName string
	Number        string
	Err           error
}

// Sent reports whether the message reached the channel.
func (r NotificationResult) Sent() bool {
	return r.Outcome == OutcomeSent
}

// Notifier delivers package notifications. Implementations convert every failure into
// a result instead of an error.
type Notifier interface {
	Dispatch(ctx context.Context, notification Notification) NotificationResult
}

// EventKey composes the dedup key for an event on a package.
func EventKey(event Event, packageID string) string {
	return fmt.Sprintf("%s:%s", event, packageID)
}
