package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
)

const (
	messageTimeLayout = "02/01/2006 15.04"
	messageFooter     = "*-- Sistem Paket Pondok --*"
)

var messageTemplates = template.Must(template.New("messages").Parse(`
{{- define "arrived" -}}
📦 *PAKET BARU DATANG* 📦

*Detail Paket:*
• Untuk: *{{.RecipientName}}*
• Pengirim: {{.SenderName}}
• Jenis: {{.ItemDescription}}
• Kamar: {{.RoomName}}
• Waktu: {{.Timestamp}}
{{- if .Perishable}}
• Kondisi: *CEPAT BASI*, mohon segera diambil
{{- end}}

📝 *Catatan:* {{.Note}}

_Segera ambil paket di loket pondok!_

{{.Footer}}
{{- end -}}

{{- define "collected" -}}
✅ *PAKET SUDAH DIAMBIL* ✅

*Detail Paket:*
• Penerima: *{{.RecipientName}}*
• Pengirim: {{.SenderName}}
• Jenis: {{.ItemDescription}}
• Kamar: {{.RoomName}}
• Waktu Diambil: {{.Timestamp}}

📝 *Catatan:* {{.Note}}

_Paket sudah diterima dengan baik_

{{.Footer}}
{{- end -}}

{{- define "reminder" -}}
⏰ *PENGINGAT PAKET* ⏰

Paket untuk *{{.RecipientName}}* belum diambil.
• Pengirim: {{.SenderName}}
• Jenis: {{.ItemDescription}}
• Kamar: {{.RoomName}}
• Datang: {{.Timestamp}}
{{- if .Perishable}}
• Kondisi: *CEPAT BASI*, mohon segera diambil
{{- end}}

📝 *Catatan:* {{.Note}}

_Segera ambil paket di loket pondok!_

{{.Footer}}
{{- end -}}
`))

type messageView struct {
	RecipientName   string
	SenderName      string
	ItemDescription string
	RoomName        string
	Timestamp       string
	Note            string
	Perishable      bool
	Footer          string
}

// RenderMessage produces the WhatsApp text for an event on a package.
func RenderMessage(event parcels.Event, pkg parcels.Package, sentAt time.Time, location *time.Location) (string, error) {
	if location == nil {
		location = time.UTC
	}
	moment := pkg.ArrivedAt
	if event == parcels.EventCollected {
		moment = sentAt
		if pkg.CollectedAt != nil {
			moment = *pkg.CollectedAt
		}
	}

	view := messageView{
		RecipientName:   pkg.RecipientName,
		SenderName:      pkg.SenderName,
		ItemDescription: pkg.ItemDescription,
		RoomName:        valueOrDash(pkg.RoomName()),
		Timestamp:       moment.In(location).Format(messageTimeLayout),
		Note:            pkg.Note,
		Perishable:      pkg.Condition == parcels.ConditionPerishable,
		Footer:          messageFooter,
	}
	if view.Note == "" {
		view.Note = "Tidak ada catatan"
	}

	var buffer bytes.Buffer
	if err := messageTemplates.ExecuteTemplate(&buffer, string(event), view); err != nil {
		return "", fmt.Errorf("render %s message: %w", event, err)
	}
	return buffer.String(), nil
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
