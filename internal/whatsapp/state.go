package whatsapp

import "time"

// State is the position of the session in its pairing and connection lifecycle.
type State string

const (
	StateUninitialized         State = "uninitialized"
	StateAwaitingQR            State = "awaiting_qr"
	StateAuthenticatedNotReady State = "authenticated_not_ready"
	StateReady                 State = "ready"
	StateDisconnected          State = "disconnected"
	StateAuthFailed            State = "auth_failed"
)

// Connectivity collapses session states into the three values shown to desk staff.
const (
	ConnectivityOnline     = "online"
	ConnectivityConnecting = "connecting"
	ConnectivityOffline    = "offline"
)

// Status is a snapshot of the session published to subscribers.
type Status struct {
	State        State     `json:"state"`
	Connectivity string    `json:"status"`
	Ready        bool      `json:"ready"`
	QRCode       string    `json:"qr_code,omitempty"`
	QRDataURL    string    `json:"qr_data_url,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Reconnects   int       `json:"reconnects"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func connectivityOf(state State, qrCode string) string {
	switch {
	case state == StateReady:
		return ConnectivityOnline
	case state == StateAwaitingQR && qrCode != "", state == StateAuthenticatedNotReady:
		return ConnectivityConnecting
	default:
		return ConnectivityOffline
	}
}
