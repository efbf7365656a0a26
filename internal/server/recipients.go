package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListRecipients(c *gin.Context) {
	filter := parcels.RecipientFilter{Query: strings.TrimSpace(c.Query("q"))}
	if raw := c.Query("gender"); strings.TrimSpace(raw) != "" {
		gender, err := parcels.ParseGender(raw)
		if err != nil {
			respondInvalid(c, err.Error())
			return
		}
		filter.Gender = gender
	}
	if raw := c.Query("role"); strings.TrimSpace(raw) != "" {
		role, err := parcels.ParseRole(raw)
		if err != nil {
			respondInvalid(c, err.Error())
			return
		}
		filter.Role = role
	}

	recipients, err := h.parcels.ListRecipients(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]recipientPayload, 0, len(recipients))
	for _, recipient := range recipients {
		payloads = append(payloads, newRecipientPayload(recipient))
	}
	respondData(c, http.StatusOK, payloads)
}

func (h *httpHandler) handleCreateRecipient(c *gin.Context) {
	var request recipientRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, "request body must be a recipient object")
		return
	}
	recipient, err := h.parcels.CreateRecipient(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, newRecipientPayload(recipient))
}

func (h *httpHandler) handleGetRecipient(c *gin.Context) {
	recipient, err := h.parcels.GetRecipient(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, newRecipientPayload(recipient))
}

func (h *httpHandler) handleUpdateRecipient(c *gin.Context) {
	var request recipientRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalid(c, "request body must be a recipient object")
		return
	}
	recipient, err := h.parcels.UpdateRecipient(c.Request.Context(), c.Param("id"), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, newRecipientPayload(recipient))
}

func (h *httpHandler) handleDeleteRecipient(c *gin.Context) {
	if err := h.parcels.DeleteRecipient(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": true})
}
