// Package metrics exposes Prometheus collectors and an in-process snapshot for the
// parcel desk's package and notification activity.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const counterInc int64 = 1

var (
	packagesRecorded  int64
	packagesCollected int64
	reconnects        int64

	notificationsMu sync.Mutex
	notifications   = map[string]int64{}

	whatsappStates = []string{
		"uninitialized",
		"awaiting_qr",
		"authenticated_not_ready",
		"ready",
		"disconnected",
		"auth_failed",
	}
	currentState atomic.Value
)

var (
	promPackagesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parceldesk_packages_recorded_total",
			Help: "Total packages recorded at arrival",
		},
	)
	promPackagesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parceldesk_packages_collected_total",
			Help: "Total packages moved to collected",
		},
	)
	promNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parceldesk_notifications_total",
			Help: "Notification dispatch attempts by event and outcome",
		},
		[]string{"event", "outcome"},
	)
	promWhatsAppState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parceldesk_whatsapp_state",
			Help: "Current WhatsApp session state, 1 for the active state",
		},
		[]string{"state"},
	)
	promReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parceldesk_whatsapp_reconnects_total",
			Help: "Total automatic WhatsApp session re-initializations",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promPackagesRecorded,
		promPackagesCollected,
		promNotifications,
		promWhatsAppState,
		promReconnects,
	)
	SetWhatsAppState("uninitialized")
}

// IncPackageRecorded counts a stored arrival.
func IncPackageRecorded() {
	atomic.AddInt64(&packagesRecorded, counterInc)
	promPackagesRecorded.Inc()
}

// IncPackageCollected counts a package that moved to collected.
func IncPackageCollected() {
	atomic.AddInt64(&packagesCollected, counterInc)
	promPackagesCollected.Inc()
}

// IncNotification counts one dispatch attempt.
func IncNotification(event, outcome string) {
	notificationsMu.Lock()
	notifications[event+"/"+outcome]++
	notificationsMu.Unlock()
	promNotifications.WithLabelValues(event, outcome).Inc()
}

// IncReconnect counts a scheduled session re-initialization.
func IncReconnect() {
	atomic.AddInt64(&reconnects, counterInc)
	promReconnects.Inc()
}

// SetWhatsAppState marks state as the active session state.
func SetWhatsAppState(state string) {
	currentState.Store(state)
	for _, known := range whatsappStates {
		value := 0.0
		if known == state {
			value = 1
		}
		promWhatsAppState.WithLabelValues(known).Set(value)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	PackagesRecorded  int64            `json:"packages_recorded"`
	PackagesCollected int64            `json:"packages_collected"`
	Reconnects        int64            `json:"whatsapp_reconnects"`
	WhatsAppState     string           `json:"whatsapp_state"`
	Notifications     map[string]int64 `json:"notifications"`
}

// GetSnapshot returns the current counter values.
func GetSnapshot() Snapshot {
	notificationsMu.Lock()
	copied := make(map[string]int64, len(notifications))
	for key, value := range notifications {
		copied[key] = value
	}
	notificationsMu.Unlock()

	state, _ := currentState.Load().(string)
	return Snapshot{
		PackagesRecorded:  atomic.LoadInt64(&packagesRecorded),
		PackagesCollected: atomic.LoadInt64(&packagesCollected),
		Reconnects:        atomic.LoadInt64(&reconnects),
		WhatsAppState:     state,
		Notifications:     copied,
	}
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }
