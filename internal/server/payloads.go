package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
)

type recipientRequestPayload struct {
	RoomName    string `json:"room_name"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Gender      string `json:"gender"`
	Role        string `json:"role"`
}

func (p recipientRequestPayload) input() parcels.RecipientInput {
	return parcels.RecipientInput{
		RoomName:    p.RoomName,
		DisplayName: p.DisplayName,
		Phone:       p.Phone,
		Gender:      p.Gender,
		Role:        p.Role,
	}
}

type recipientPayload struct {
	ID          string    `json:"id"`
	RoomName    string    `json:"room_name"`
	DisplayName string    `json:"display_name"`
	Phone       string    `json:"phone"`
	Gender      string    `json:"gender"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newRecipientPayload(recipient parcels.Recipient) recipientPayload {
	return recipientPayload{
		ID:          recipient.ID,
		RoomName:    recipient.RoomName,
		DisplayName: recipient.DisplayName,
		Phone:       recipient.Phone,
		Gender:      string(recipient.Gender),
		Role:        string(recipient.Role),
		CreatedAt:   recipient.CreatedAt,
		UpdatedAt:   recipient.UpdatedAt,
	}
}

type arrivalRequestPayload struct {
	RecipientID     string `json:"recipient_id"`
	SenderName      string `json:"sender_name"`
	RecipientName   string `json:"recipient_name"`
	ItemDescription string `json:"item_description"`
	Condition       string `json:"condition"`
	Note            string `json:"note"`
	Gender          string `json:"gender"`
}

func (p arrivalRequestPayload) input() parcels.ArrivalInput {
	return parcels.ArrivalInput{
		RecipientID:     p.RecipientID,
		SenderName:      p.SenderName,
		RecipientName:   p.RecipientName,
		ItemDescription: p.ItemDescription,
		Condition:       p.Condition,
		Note:            p.Note,
		Gender:          p.Gender,
	}
}

type packageDetailsRequestPayload struct {
	Condition *string `json:"condition"`
	Note      *string `json:"note"`
}

type statusRequestPayload struct {
	Status string `json:"status"`
}

type packagePayload struct {
	ID              string     `json:"id"`
	RecipientID     *string    `json:"recipient_id"`
	SenderName      string     `json:"sender_name"`
	RecipientName   string     `json:"recipient_name"`
	RoomName        string     `json:"room_name"`
	ItemDescription string     `json:"item_description"`
	Condition       string     `json:"condition"`
	Note            string     `json:"note"`
	Status          string     `json:"status"`
	Gender          string     `json:"gender"`
	ArrivedAt       time.Time  `json:"arrived_at"`
	CollectedAt     *time.Time `json:"collected_at"`
}

func newPackagePayload(pkg parcels.Package) packagePayload {
	return packagePayload{
		ID:              pkg.ID,
		RecipientID:     pkg.RecipientID,
		SenderName:      pkg.SenderName,
		RecipientName:   pkg.RecipientName,
		RoomName:        pkg.RoomName(),
		ItemDescription: pkg.ItemDescription,
		Condition:       string(pkg.Condition),
		Note:            pkg.Note,
		Status:          string(pkg.Status),
		Gender:          string(pkg.Gender),
		ArrivedAt:       pkg.ArrivedAt,
		CollectedAt:     pkg.CollectedAt,
	}
}

func newPackagePayloads(packages []parcels.Package) []packagePayload {
	payloads := make([]packagePayload, 0, len(packages))
	for _, pkg := range packages {
		payloads = append(payloads, newPackagePayload(pkg))
	}
	return payloads
}

type notificationPayload struct {
	Outcome   string `json:"outcome"`
	Sent      bool   `json:"sent"`
	Recipient string `json:"recipient,omitempty"`
	Number    string `json:"number,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newNotificationPayload(result parcels.NotificationResult) notificationPayload {
	payload := notificationPayload{
		Outcome:   string(result.Outcome),
		Sent:      result.Sent(),
		Recipient: result.RecipientName,
		Number:    result.Number,
	}
	if result.Err != nil {
		payload.Error = result.Err.Error()
	}
	return payload
}

type activityPayload struct {
	ID              string    `json:"id"`
	PackageID       *string   `json:"package_id"`
	Action          string    `json:"action"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	RecipientName   string    `json:"recipient_name"`
	ItemDescription string    `json:"item_description"`
	RoomName        string    `json:"room_name"`
}

type reportPayload struct {
	From       string           `json:"from"`
	To         string           `json:"to"`
	Total      int              `json:"total"`
	Arrived    int              `json:"arrived"`
	Collected  int              `json:"collected"`
	Perishable int              `json:"perishable"`
	Packages   []packagePayload `json:"packages"`
}

type whatsAppSummaryPayload struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	HasQR  bool   `json:"has_qr"`
}
