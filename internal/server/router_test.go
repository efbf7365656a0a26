package server

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/whatsapp"
)

func guardianPayload() recipientRequestPayload {
	return recipientRequestPayload{
		RoomName:    "Asrama Putra 1",
		DisplayName: "Ustadz Ahmad Basri",
		Phone:       "0812-3456-7890",
		Gender:      "putra",
		Role:        "pembimbing",
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{Session: newStubSession(whatsapp.Status{})}); err != errMissingParcelsService {
		t.Fatalf("expected missing parcels error, got %v", err)
	}
	environment := newTestEnvironment(t)
	service, err := parcels.NewService(parcels.ServiceConfig{Store: environment.store, IDProvider: &sequentialIDProvider{}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Parcels: service}); err != errMissingSession {
		t.Fatalf("expected missing session error, got %v", err)
	}
}

func TestHealthUsesSuccessEnvelope(t *testing.T) {
	environment := newTestEnvironment(t)
	recorder, envelope := environment.do(t, http.MethodGet, "/api/health", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !envelope.Success {
		t.Fatalf("expected success envelope, got %s", recorder.Body.String())
	}
	data := decodeData[map[string]string](t, envelope)
	if data["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", data)
	}
}

func TestRecordArrivalNotifiesLinkedRecipient(t *testing.T) {
	environment := newTestEnvironment(t)
	guardian := environment.mustCreateRecipient(t, guardianPayload())
	if guardian.Gender != "male" || guardian.Role != "guardian" {
		t.Fatalf("expected normalized gender and role, got %s/%s", guardian.Gender, guardian.Role)
	}

	arrival := environment.mustRecordArrival(t, arrivalRequestPayload{
		RecipientID:     guardian.ID,
		SenderName:      "JNE",
		RecipientName:   "Ahmad",
		ItemDescription: "Kardus buku",
		Condition:       "cepat_basi",
	})
	if arrival.Package.Status != "arrived" || arrival.Package.Condition != "perishable" {
		t.Fatalf("unexpected package %+v", arrival.Package)
	}
	if arrival.Package.RoomName != "Asrama Putra 1" {
		t.Fatalf("expected linked room, got %q", arrival.Package.RoomName)
	}
	if arrival.Notification.Outcome != "sent" || !arrival.Notification.Sent {
		t.Fatalf("expected sent notification, got %+v", arrival.Notification)
	}

	messages := environment.channel.messages()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	if messages[0].Number != "6281234567890" {
		t.Fatalf("expected normalized number, got %q", messages[0].Number)
	}
	if !strings.Contains(messages[0].Text, "Kardus buku") {
		t.Fatalf("expected item in message, got %q", messages[0].Text)
	}
}

func TestRecordArrivalValidationReturnsBadRequest(t *testing.T) {
	environment := newTestEnvironment(t)
	recorder, envelope := environment.do(t, http.MethodPost, "/api/packages", arrivalRequestPayload{
		RecipientName:   "Ahmad",
		ItemDescription: "Kardus buku",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if envelope.Success || envelope.Code != "parcels.record_arrival.missing_sender" {
		t.Fatalf("unexpected error envelope %+v", envelope)
	}
	if envelope.Error != "sender name is required" {
		t.Fatalf("expected cause message, got %q", envelope.Error)
	}
}

func TestMalformedBodyReturnsBadRequest(t *testing.T) {
	environment := newTestEnvironment(t)
	request := httptest.NewRequest(http.MethodPost, "/api/recipients", strings.NewReader("{"))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	environment.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), codeInvalidRequest) {
		t.Fatalf("expected invalid_request code, got %s", recorder.Body.String())
	}
}

func TestUnknownPackageReturnsNotFound(t *testing.T) {
	environment := newTestEnvironment(t)
	for _, route := range []struct {
		method string
		path   string
		body   any
	}{
		{method: http.MethodGet, path: "/api/packages/missing"},
		{method: http.MethodPut, path: "/api/packages/missing/status", body: statusRequestPayload{Status: "collected"}},
		{method: http.MethodPost, path: "/api/packages/missing/reminder"},
		{method: http.MethodDelete, path: "/api/packages/missing"},
	} {
		recorder, envelope := environment.do(t, route.method, route.path, route.body)
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d: %s", route.method, route.path, recorder.Code, recorder.Body.String())
		}
		if envelope.Success {
			t.Fatalf("%s %s: expected failure envelope", route.method, route.path)
		}
	}
}

func TestCollectTwiceSendsOneNotification(t *testing.T) {
	environment := newTestEnvironment(t)
	guardian := environment.mustCreateRecipient(t, guardianPayload())
	arrival := environment.mustRecordArrival(t, arrivalRequestPayload{
		RecipientID:     guardian.ID,
		SenderName:      "Ibu Siti",
		ItemDescription: "Makanan ringan",
	})

	path := "/api/packages/" + arrival.Package.ID + "/status"
	recorder, envelope := environment.do(t, http.MethodPut, path, statusRequestPayload{Status: "diambil"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	first := decodeData[statusResponse](t, envelope)
	if !first.Changed || first.Package.Status != "collected" || first.Package.CollectedAt == nil {
		t.Fatalf("unexpected first collection %+v", first)
	}
	if first.Notification.Outcome != "sent" {
		t.Fatalf("expected sent, got %s", first.Notification.Outcome)
	}

	recorder, envelope = environment.do(t, http.MethodPut, path, statusRequestPayload{Status: "collected"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	second := decodeData[statusResponse](t, envelope)
	if second.Changed {
		t.Fatalf("expected second collection to be a no-op")
	}
	if second.Notification.Outcome != "already_sent" {
		t.Fatalf("expected already_sent, got %s", second.Notification.Outcome)
	}
	if len(environment.channel.messages()) != 2 {
		t.Fatalf("expected arrival and collection messages only, got %d", len(environment.channel.messages()))
	}

	recorder, envelope = environment.do(t, http.MethodPut, path, statusRequestPayload{Status: "arrived"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for backwards transition, got %d", recorder.Code)
	}
	if envelope.Code != "parcels.change_status.invalid_transition" {
		t.Fatalf("unexpected code %q", envelope.Code)
	}

	recorder, _ = environment.do(t, http.MethodPost, "/api/packages/"+arrival.Package.ID+"/reminder", nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reminder on collected package, got %d", recorder.Code)
	}
}

func TestDeleteRecipientInUseReturnsConflict(t *testing.T) {
	environment := newTestEnvironment(t)
	guardian := environment.mustCreateRecipient(t, guardianPayload())
	arrival := environment.mustRecordArrival(t, arrivalRequestPayload{
		RecipientID:     guardian.ID,
		SenderName:      "JNT",
		ItemDescription: "Sepatu",
	})

	recorder, _ := environment.do(t, http.MethodDelete, "/api/recipients/"+guardian.ID, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder, _ = environment.do(t, http.MethodDelete, "/api/packages/"+arrival.Package.ID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected package delete to succeed, got %d", recorder.Code)
	}
	recorder, _ = environment.do(t, http.MethodDelete, "/api/recipients/"+guardian.ID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected recipient delete to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestListFiltersValidateQuery(t *testing.T) {
	environment := newTestEnvironment(t)
	for _, path := range []string{
		"/api/packages?status=lost",
		"/api/packages?gender=unknown",
		"/api/packages?from=02-03-2026",
		"/api/recipients?role=santri",
		"/api/logs?limit=zero",
		"/api/reports/packages?from=2026-03-01&to=2026-03-02&format=pdf",
	} {
		recorder, _ := environment.do(t, http.MethodGet, path, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, recorder.Code)
		}
	}
}

func TestListPackagesFiltersByStatusAndDay(t *testing.T) {
	environment := newTestEnvironment(t)
	environment.mustRecordArrival(t, arrivalRequestPayload{
		SenderName:      "Pos Indonesia",
		RecipientName:   "Fatimah",
		ItemDescription: "Surat",
		Gender:          "putri",
	})

	recorder, envelope := environment.do(t, http.MethodGet, "/api/packages?status=masuk&gender=female&from=2026-03-02&to=2026-03-02", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	packages := decodeData[[]packagePayload](t, envelope)
	if len(packages) != 1 || packages[0].RecipientName != "Fatimah" {
		t.Fatalf("unexpected packages %+v", packages)
	}

	_, envelope = environment.do(t, http.MethodGet, "/api/packages?from=2026-03-03", nil)
	if packages := decodeData[[]packagePayload](t, envelope); len(packages) != 0 {
		t.Fatalf("expected no packages after the arrival day, got %d", len(packages))
	}
}

func TestRecentActivityListsNewestFirst(t *testing.T) {
	environment := newTestEnvironment(t)
	environment.mustCreateRecipient(t, guardianPayload())
	environment.mustRecordArrival(t, arrivalRequestPayload{
		SenderName:      "Tokopedia",
		RecipientName:   "Ahmad",
		ItemDescription: "Kitab",
	})

	recorder, envelope := environment.do(t, http.MethodGet, "/api/logs?limit=2", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	entries := decodeData[[]activityPayload](t, envelope)
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Action == parcels.ActionRecipientAdded {
			t.Fatalf("expected the recipient entry to fall outside the limit, got %+v", entries)
		}
	}
}

func TestPackageReportFormats(t *testing.T) {
	environment := newTestEnvironment(t)
	environment.mustRecordArrival(t, arrivalRequestPayload{
		SenderName:      "Shopee",
		RecipientName:   "Aisyah",
		ItemDescription: "Buah",
		Condition:       "perishable",
		Gender:          "female",
	})

	recorder, envelope := environment.do(t, http.MethodGet, "/api/reports/packages?from=2026-03-01&to=2026-03-02", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	report := decodeData[reportPayload](t, envelope)
	if report.Total != 1 || report.Arrived != 1 || report.Perishable != 1 {
		t.Fatalf("unexpected report totals %+v", report)
	}
	if report.From != "2026-03-01" || report.To != "2026-03-02" {
		t.Fatalf("unexpected report range %s..%s", report.From, report.To)
	}

	recorder, _ = environment.do(t, http.MethodGet, "/api/reports/packages?from=2026-03-01&to=2026-03-02&format=csv", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("expected csv content type, got %q", recorder.Header().Get("Content-Type"))
	}
	if !strings.Contains(recorder.Header().Get("Content-Disposition"), "laporan-paket-2026-03-01-2026-03-02.csv") {
		t.Fatalf("unexpected disposition %q", recorder.Header().Get("Content-Disposition"))
	}
	rows, err := csv.NewReader(recorder.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "No" || rows[1][3] != "Aisyah" {
		t.Fatalf("unexpected csv rows %v", rows)
	}

	recorder, _ = environment.do(t, http.MethodGet, "/api/reports/packages", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a range, got %d", recorder.Code)
	}
}

func TestDatabaseAndMetricsEndpoints(t *testing.T) {
	environment := newTestEnvironment(t)
	recorder, envelope := environment.do(t, http.MethodGet, "/api/status/database", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if data := decodeData[map[string]any](t, envelope); data["connected"] != true || data["status"] != "online" {
		t.Fatalf("expected online database, got %v", data)
	}

	environment.mustRecordArrival(t, arrivalRequestPayload{
		SenderName:      "JNE",
		RecipientName:   "Umar",
		ItemDescription: "Jaket",
	})
	request := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	metricsRecorder := httptest.NewRecorder()
	environment.handler.ServeHTTP(metricsRecorder, request)
	if metricsRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", metricsRecorder.Code)
	}
	if !strings.Contains(metricsRecorder.Body.String(), "parceldesk_packages_recorded_total") {
		t.Fatalf("expected package counter in metrics output")
	}
}

func TestWhatsAppStatusEndpoints(t *testing.T) {
	environment := newTestEnvironment(t)

	recorder, envelope := environment.do(t, http.MethodGet, "/api/status/whatsapp", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	summary := decodeData[whatsAppSummaryPayload](t, envelope)
	if summary.Status != whatsapp.ConnectivityConnecting || summary.Ready || !summary.HasQR {
		t.Fatalf("unexpected summary %+v", summary)
	}

	_, envelope = environment.do(t, http.MethodGet, "/api/whatsapp/status", nil)
	status := decodeData[whatsapp.Status](t, envelope)
	if status.State != whatsapp.StateAwaitingQR || status.QRCode != "2@pairing-code" {
		t.Fatalf("unexpected status %+v", status)
	}

	recorder, envelope = environment.do(t, http.MethodPost, "/api/whatsapp/restart", nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	restarted := decodeData[whatsapp.Status](t, envelope)
	if restarted.State != whatsapp.StateUninitialized || restarted.QRCode != "" {
		t.Fatalf("expected cleared status after restart, got %+v", restarted)
	}
	if environment.session.restarts != 1 {
		t.Fatalf("expected one restart, got %d", environment.session.restarts)
	}
}

func TestWhatsAppEventsStreamStatusChanges(t *testing.T) {
	environment := newTestEnvironment(t)
	server := httptest.NewServer(environment.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/whatsapp/events", http.NoBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer response.Body.Close()
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("expected event stream, got %q", response.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(response.Body)
	first := readEvent(t, reader)
	if !strings.Contains(first, "event:status") || !strings.Contains(first, `"state":"awaiting_qr"`) {
		t.Fatalf("expected initial status event, got %q", first)
	}

	select {
	case <-environment.session.subscribed:
	case <-ctx.Done():
		t.Fatalf("stream never subscribed")
	}
	environment.session.publish(whatsapp.Status{State: whatsapp.StateReady, Connectivity: whatsapp.ConnectivityOnline, Ready: true})

	second := readEvent(t, reader)
	if !strings.Contains(second, `"state":"ready"`) || !strings.Contains(second, `"ready":true`) {
		t.Fatalf("expected ready event, got %q", second)
	}
}

func readEvent(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	var builder strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && builder.Len() > 0 {
				return builder.String()
			}
			t.Fatalf("read event: %v", err)
		}
		if strings.TrimSpace(line) == "" {
			if builder.Len() > 0 {
				return builder.String()
			}
			continue
		}
		builder.WriteString(line)
	}
}

func TestCORSPreflightAllowsDeskMethods(t *testing.T) {
	environment := newTestEnvironment(t)
	request := httptest.NewRequest(http.MethodOptions, "/api/packages/id-001", http.NoBody)
	request.Header.Set("Origin", "https://desk.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	recorder := httptest.NewRecorder()
	environment.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		if !strings.Contains(allowMethods, method) {
			t.Fatalf("expected %s in allowed methods, got %q", method, allowMethods)
		}
	}
}
