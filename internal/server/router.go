package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/whatsapp"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingParcelsService = errors.New("parcels service dependency required")
	errMissingSession        = errors.New("whatsapp session dependency required")
)

// Session is the part of the WhatsApp session the desk API exposes.
type Session interface {
	Status() whatsapp.Status
	Subscribe(ctx context.Context) (<-chan whatsapp.Status, func())
	Restart(ctx context.Context) error
}

type Dependencies struct {
	Parcels *parcels.Service
	Session Session
	Logger  *zap.Logger
	// Heartbeat is the idle interval between keep-alive comments on the status stream.
	Heartbeat time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Parcels == nil {
		return nil, errMissingParcelsService
	}
	if deps.Session == nil {
		return nil, errMissingSession
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		parcels:   deps.Parcels,
		session:   deps.Session,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/metrics", gin.WrapH(metrics.PromHandler()))

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)

	api.GET("/recipients", handler.handleListRecipients)
	api.POST("/recipients", handler.handleCreateRecipient)
	api.GET("/recipients/:id", handler.handleGetRecipient)
	api.PUT("/recipients/:id", handler.handleUpdateRecipient)
	api.DELETE("/recipients/:id", handler.handleDeleteRecipient)

	api.GET("/packages", handler.handleListPackages)
	api.POST("/packages", handler.handleRecordArrival)
	api.GET("/packages/:id", handler.handleGetPackage)
	api.PUT("/packages/:id", handler.handleUpdatePackage)
	api.PUT("/packages/:id/status", handler.handleChangeStatus)
	api.POST("/packages/:id/reminder", handler.handleSendReminder)
	api.DELETE("/packages/:id", handler.handleDeletePackage)

	api.GET("/logs", handler.handleRecentActivity)
	api.GET("/reports/packages", handler.handlePackageReport)

	api.GET("/status/database", handler.handleDatabaseStatus)
	api.GET("/status/whatsapp", handler.handleWhatsAppSummary)
	api.GET("/whatsapp/status", handler.handleWhatsAppStatus)
	api.GET("/whatsapp/events", handler.handleWhatsAppEvents)
	api.POST("/whatsapp/restart", handler.handleWhatsAppRestart)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	parcels   *parcels.Service
	session   Session
	logger    *zap.Logger
	heartbeat time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	respondData(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDatabaseStatus(c *gin.Context) {
	if err := h.parcels.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("database ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "database unavailable",
			"code":    serviceErrorCode(err),
			"data":    gin.H{"connected": false, "status": "offline"},
		})
		return
	}
	respondData(c, http.StatusOK, gin.H{"connected": true, "status": "online"})
}
