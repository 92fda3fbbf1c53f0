package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/pipeline"
	"messaging-service/internal/presence"
	"messaging-service/internal/ws"
)

// PresenceHandler exposes presence tracking and aggregation over HTTP.
// The websocket hub feeds the same store; these endpoints cover non-socket
// clients (heartbeat pollers) and explicit status changes.
type PresenceHandler struct {
	pipe     *pipeline.Pipeline
	presence *presence.Store
	hub      *ws.Hub
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(pipe *pipeline.Pipeline, store *presence.Store, hub *ws.Hub) *PresenceHandler {
	return &PresenceHandler{pipe: pipe, presence: store, hub: hub}
}

// UpdatePresence upserts the caller's presence record for one connection.
func (h *PresenceHandler) UpdatePresence(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		ConnID string `json:"conn_id" binding:"required"`
		Online bool   `json:"online"`
		Device string `json:"device"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.pipe.Execute(c.Request.Context(), "update_presence", func(ctx context.Context) error {
		h.presence.UpdateConnection(userID, req.ConnID, req.Online, req.Device)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.broadcast(userID)
	c.Status(http.StatusNoContent)
}

// SetStatus records or clears the caller's manual status override.
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		Status models.PresenceStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.pipe.Execute(c.Request.Context(), "set_presence_status", func(ctx context.Context) error {
		if req.Status == "" || req.Status == models.StatusOnline {
			h.presence.ClearManualStatus(userID)
			return nil
		}
		return h.presence.SetManualStatus(userID, req.Status)
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.broadcast(userID)
	c.Status(http.StatusNoContent)
}

// GetPresence returns one user's aggregated presence.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, ok := intParam(c, "user_id")
	if !ok {
		return
	}

	var agg models.AggregatedPresence
	err := h.pipe.Execute(c.Request.Context(), "get_presence", func(ctx context.Context) error {
		agg = h.presence.GetAggregatedPresence(userID)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// GetPresenceMany returns aggregated presence for a batch of users. Every
// requested id appears in the response; unknown users read as offline.
func (h *PresenceHandler) GetPresenceMany(c *gin.Context) {
	var req struct {
		UserIDs []int `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var result map[int]models.AggregatedPresence
	err := h.pipe.Execute(c.Request.Context(), "get_presence_many", func(ctx context.Context) error {
		result = h.presence.GetAggregatedPresenceMany(req.UserIDs)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": result})
}

// ListOnline returns everyone whose aggregated status is online.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	var online []models.AggregatedPresence
	err := h.pipe.Execute(c.Request.Context(), "list_online", func(ctx context.Context) error {
		online = h.presence.ListOnlineUsers()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": online})
}

func (h *PresenceHandler) broadcast(userID int) {
	if h.hub == nil {
		return
	}
	h.hub.BroadcastPresence(h.presence.GetAggregatedPresence(userID))
}
