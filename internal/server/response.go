package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest = "invalid_request"
	codeInternal       = "internal_error"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func respondInvalid(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, envelope{Success: false, Error: message, Code: codeInvalidRequest})
}

// respondError maps the service error taxonomy onto HTTP statuses. Persistence details are
// logged but not echoed to the client.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	message := "internal error"
	var serviceErr *parcels.ServiceError
	if status != http.StatusInternalServerError && errors.As(err, &serviceErr) {
		message = serviceErr.Message()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, envelope{Success: false, Error: message, Code: serviceErrorCode(err)})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, parcels.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, parcels.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, parcels.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func serviceErrorCode(err error) string {
	var serviceErr *parcels.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return codeInternal
}
