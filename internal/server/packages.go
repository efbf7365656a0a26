package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/gin-gonic/gin"
)

const (
	queryDateLayout   = "2006-01-02"
	reportFormatJSON  = "json"
	reportFormatCSV   = "csv"
	csvContentType    = "text/csv; charset=utf-8"
	reportFilePattern = "laporan-paket-%s-%s.csv"
)

func (h *httpHandler) handleListPackages(c *gin.Context) {
	var filter parcels.PackageFilter
	if raw := c.Query("status"); strings.TrimSpace(raw) != "" {
		status, err := parcels.ParseStatus(raw)
		if err != nil {
			respondInvalid(c, err.Error())
			return
		}
		filter.Status = status
	}
	if raw := c.Query("gender"); strings.TrimSpace(raw) != "" {
		gender, err := parcels.ParseGender(raw)
		if err != nil {
			respondInvalid(c, err.Error())
			return
		}
		filter.Gender = gender
	}
	from, err := h.parseQueryDate(c, "from")
	if err != nil {
		respondInvalid(c, err.Error())
		return
	}
	to, err := h.parseQueryDate(c, "to")
	if err != nil {
		respondInvalid(c, err.Error())
		return
	}
	filter.ArrivedFrom = from
	if !to.IsZero() {
		filter.ArrivedBefore = to.AddDate(0, 0, 1)
	}

	packages, err := h.parcels.ListPackages(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, newPackagePayloads(packages))
}

func (h *httpHandler) handleRecordArrival(c *gin.Context) {
	var request arrivalRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, "request body must be a package object")
		return
	}
	result, err := h.parcels.RecordArrival(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{
		"package":      newPackagePayload(result.Package),
		"notification": newNotificationPayload(result.Notification),
	})
}

func (h *httpHandler) handleGetPackage(c *gin.Context) {
	pkg, err := h.parcels.GetPackage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, newPackagePayload(pkg))
}

func (h *httpHandler) handleUpdatePackage(c *gin.Context) {
	var request packageDetailsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, "request body must be a package details object")
		return
	}
	pkg, err := h.parcels.UpdatePackageDetails(c.Request.Context(), c.Param("id"), parcels.PackageDetailsInput{
		Condition: request.Condition,
		Note:      request.Note,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, newPackagePayload(pkg))
}

func (h *httpHandler) handleChangeStatus(c *gin.Context) {
	var request statusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Status) == "" {
		respondInvalid(c, "status is required")
		return
	}
	result, err := h.parcels.ChangeStatus(c.Request.Context(), c.Param("id"), request.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"package":      newPackagePayload(result.Package),
		"changed":      result.Changed,
		"notification": newNotificationPayload(result.Notification),
	})
}

func (h *httpHandler) handleSendReminder(c *gin.Context) {
	result, err := h.parcels.SendReminder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"notification": newNotificationPayload(result)})
}

func (h *httpHandler) handleDeletePackage(c *gin.Context) {
	if err := h.parcels.DeletePackage(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": true})
}

func (h *httpHandler) handleRecentActivity(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondInvalid(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	views, err := h.parcels.RecentActivity(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]activityPayload, 0, len(views))
	for _, view := range views {
		payloads = append(payloads, activityPayload{
			ID:              view.ID,
			PackageID:       view.PackageID,
			Action:          view.Action,
			Description:     view.Description,
			CreatedAt:       view.CreatedAt,
			RecipientName:   view.RecipientName,
			ItemDescription: view.ItemDescription,
			RoomName:        view.RoomName,
		})
	}
	respondData(c, http.StatusOK, payloads)
}

func (h *httpHandler) handlePackageReport(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", reportFormatJSON)))
	if format != reportFormatJSON && format != reportFormatCSV {
		respondInvalid(c, "format must be json or csv")
		return
	}
	from, err := h.parseQueryDate(c, "from")
	if err != nil {
		respondInvalid(c, err.Error())
		return
	}
	to, err := h.parseQueryDate(c, "to")
	if err != nil {
		respondInvalid(c, err.Error())
		return
	}

	report, err := h.parcels.Report(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}

	location := h.parcels.Location()
	fromDay := report.From.In(location).Format(queryDateLayout)
	toDay := report.To.In(location).Format(queryDateLayout)
	if format == reportFormatCSV {
		var buffer bytes.Buffer
		if err := parcels.WriteReportCSV(&buffer, report, location); err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf(reportFilePattern, fromDay, toDay)))
		c.Data(http.StatusOK, csvContentType, buffer.Bytes())
		return
	}

	respondData(c, http.StatusOK, reportPayload{
		From:       fromDay,
		To:         toDay,
		Total:      report.Total,
		Arrived:    report.Arrived,
		Collected:  report.Collected,
		Perishable: report.Perishable,
		Packages:   newPackagePayloads(report.Packages),
	})
}

// parseQueryDate reads a calendar day in the desk's time zone; an absent value yields the
// zero time.
func (h *httpHandler) parseQueryDate(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(queryDateLayout, raw, h.parcels.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date formatted as YYYY-MM-DD", key)
	}
	return day, nil
}
