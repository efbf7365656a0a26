package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeat    = 25 * time.Second
	eventStatus         = "status"
	eventHeartbeat      = "heartbeat"
	realtimeSourceLabel = "parcel-desk"
)

func (h *httpHandler) handleWhatsAppSummary(c *gin.Context) {
	status := h.session.Status()
	respondData(c, http.StatusOK, whatsAppSummaryPayload{
		Status: status.Connectivity,
		Ready:  status.Ready,
		HasQR:  status.QRCode != "",
	})
}

func (h *httpHandler) handleWhatsAppStatus(c *gin.Context) {
	respondData(c, http.StatusOK, h.session.Status())
}

func (h *httpHandler) handleWhatsAppRestart(c *gin.Context) {
	if err := h.session.Restart(c.Request.Context()); err != nil {
		h.logger.Warn("whatsapp restart closed with error", zap.Error(err))
	}
	respondData(c, http.StatusAccepted, h.session.Status())
}

// handleWhatsAppEvents streams the current status followed by every change as server-sent
// events, with periodic heartbeats while idle.
func (h *httpHandler) handleWhatsAppEvents(c *gin.Context) {
	ctx := c.Request.Context()
	updates, cleanup := h.session.Subscribe(ctx)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(eventStatus, h.session.Status())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case status, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(eventStatus, status)
			return true
		case <-ticker.C:
			c.SSEvent(eventHeartbeat, gin.H{"source": realtimeSourceLabel, "timestamp": time.Now().UTC().Unix()})
			return true
		}
	})
}
