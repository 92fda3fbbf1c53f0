package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/delivery"
	"messaging-service/internal/directory"
	"messaging-service/internal/errs"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/pipeline"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

// MessageHandler exposes the message commands and queries over HTTP.
type MessageHandler struct {
	pipe        *pipeline.Pipeline
	delivery    *delivery.Service
	broadcaster *broadcast.Coordinator
	directory   directory.Directory
	hub         *ws.Hub
	emitter     *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(pipe *pipeline.Pipeline, svc *delivery.Service, broadcaster *broadcast.Coordinator, dir directory.Directory, hub *ws.Hub, emitter *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		pipe:        pipe,
		delivery:    svc,
		broadcaster: broadcaster,
		directory:   dir,
		hub:         hub,
		emitter:     emitter,
	}
}

// SendMessage creates a 1:1 message in state sent and pushes it to the
// receiver's live connections.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		ReceiverID int                `json:"receiver_id" binding:"required"`
		Content    string             `json:"content"`
		Kind       models.MessageKind `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var msg models.Message
	err := h.pipe.Execute(c.Request.Context(), "send_message", func(ctx context.Context) error {
		created, err := h.delivery.Create(ctx, userID, req.ReceiverID, req.Content, req.Kind)
		if err != nil {
			return err
		}
		msg = created
		h.emitter.Emit(ctx, "INFO", "message sent", &userID)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.pushToReceiver(msg)
	c.JSON(http.StatusCreated, msg)
}

// Broadcast fans one message out to many receivers. Partial success is the
// designed behavior: created messages and per-receiver failures come back
// together.
func (h *MessageHandler) Broadcast(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		ReceiverIDs []int              `json:"receiver_ids" binding:"required"`
		Content     string             `json:"content"`
		Kind        models.MessageKind `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var result broadcast.Result
	err := h.pipe.Execute(c.Request.Context(), "broadcast_message", func(ctx context.Context) error {
		res, err := h.broadcaster.Broadcast(ctx, models.BroadcastRequest{
			SenderID:    userID,
			ReceiverIDs: req.ReceiverIDs,
			Content:     req.Content,
			Kind:        req.Kind,
		})
		if err != nil {
			return err
		}
		result = res
		h.emitter.Emit(ctx, "INFO", "broadcast sent", &userID)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	for _, msg := range result.Messages {
		h.pushToReceiver(msg)
	}
	c.JSON(http.StatusOK, result)
}

// MarkDelivered acknowledges delivery of one message to its receiver.
// Re-acking an already delivered or read message reports transitioned=false.
func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	h.markOne(c, "mark_delivered", h.delivery.MarkDelivered)
}

// MarkRead marks one message read, backfilling the delivered stamp when
// the read ack arrives first.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	h.markOne(c, "mark_read", func(ctx context.Context, id string, receiverID int) (bool, error) {
		changed, err := h.delivery.MarkRead(ctx, id, receiverID)
		if err == nil && changed {
			h.notifyRead(ctx, id, receiverID)
		}
		return changed, err
	})
}

// MarkManyDelivered is the bulk delivery ack.
func (h *MessageHandler) MarkManyDelivered(c *gin.Context) {
	h.markMany(c, "mark_many_delivered", h.delivery.MarkManyDelivered)
}

// MarkManyRead is the bulk read ack.
func (h *MessageHandler) MarkManyRead(c *gin.Context) {
	h.markMany(c, "mark_many_read", h.delivery.MarkManyRead)
}

// MarkFailed closes out a message whose out-of-band delivery definitively
// failed. Called by the push-notification collaborator.
func (h *MessageHandler) MarkFailed(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.pipe.Execute(c.Request.Context(), "mark_failed", func(ctx context.Context) error {
		if err := h.delivery.MarkFailed(ctx, messageID, req.Reason); err != nil {
			return err
		}
		h.emitter.Emit(ctx, "WARN", "message delivery failed: "+req.Reason, &userID)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessage soft-deletes a message. Sender only.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetInt(middleware.UserIDKey)

	err := h.pipe.Execute(c.Request.Context(), "delete_message", func(ctx context.Context) error {
		return h.delivery.Delete(ctx, messageID, userID)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetThread returns the conversation with another user, newest first, with
// sender profiles attached best-effort.
func (h *MessageHandler) GetThread(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)
	otherID, ok := intParam(c, "user_id")
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 0)
	before, ok := timeQuery(c, "before")
	if !ok {
		return
	}

	var msgs []models.Message
	err := h.pipe.Execute(c.Request.Context(), "get_thread", func(ctx context.Context) error {
		loaded, err := h.delivery.GetThread(ctx, userID, otherID, limit, before)
		if err != nil {
			return err
		}
		msgs = loaded
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": h.withSenderProfiles(c.Request.Context(), msgs)})
}

// GetUndelivered returns the caller's messages still waiting for a
// delivery ack, oldest first.
func (h *MessageHandler) GetUndelivered(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)
	limit := intQuery(c, "limit", 0)

	var msgs []models.Message
	err := h.pipe.Execute(c.Request.Context(), "get_undelivered", func(ctx context.Context) error {
		loaded, err := h.delivery.GetUndelivered(ctx, userID, limit)
		if err != nil {
			return err
		}
		msgs = loaded
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetUnreadCount returns how many of the caller's messages are unread.
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)

	var count int
	err := h.pipe.Execute(c.Request.Context(), "get_unread_count", func(ctx context.Context) error {
		n, err := h.delivery.GetUnreadCount(ctx, userID)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *MessageHandler) markOne(c *gin.Context, kind string, mark func(context.Context, string, int) (bool, error)) {
	messageID := c.Param("message_id")
	userID := c.GetInt(middleware.UserIDKey)

	var changed bool
	err := h.pipe.Execute(c.Request.Context(), kind, func(ctx context.Context) error {
		result, err := mark(ctx, messageID, userID)
		if err != nil {
			return err
		}
		changed = result
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitioned": changed})
}

func (h *MessageHandler) markMany(c *gin.Context, kind string, mark func(context.Context, []string, int) (int, error)) {
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		MessageIDs []string `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var count int
	err := h.pipe.Execute(c.Request.Context(), kind, func(ctx context.Context) error {
		n, err := mark(ctx, req.MessageIDs, userID)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitioned": count})
}

func (h *MessageHandler) pushToReceiver(msg models.Message) {
	if h.hub == nil {
		return
	}
	h.hub.SendToUser(msg.ReceiverID, models.WireEvent{Type: "message", Message: &msg})
}

func (h *MessageHandler) notifyRead(ctx context.Context, messageID string, readerID int) {
	if h.hub == nil {
		return
	}
	msg, err := h.delivery.GetByID(ctx, messageID)
	if err != nil {
		return
	}
	h.hub.SendToUser(msg.SenderID, models.WireEvent{Type: "read_receipt", MessageID: messageID, ReaderID: readerID})
}

type threadMessage struct {
	models.Message
	SenderUsername string `json:"sender_username,omitempty"`
}

// withSenderProfiles attaches usernames via the cached directory. Profile
// lookup is enrichment only, so failures degrade to bare messages.
func (h *MessageHandler) withSenderProfiles(ctx context.Context, msgs []models.Message) []threadMessage {
	senderIDs := make([]int, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
	}

	profiles := map[int]directory.UserProfile{}
	if h.directory != nil && len(senderIDs) > 0 {
		loaded, err := h.directory.BulkUsers(ctx, senderIDs)
		if err != nil {
			log.Printf("thread profile lookup failed err=%v", err)
		} else {
			profiles = loaded
		}
	}

	result := make([]threadMessage, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, threadMessage{Message: m, SenderUsername: profiles[m.SenderID].Username})
	}
	return result
}

func respondError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}

func intParam(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " timestamp"})
		return time.Time{}, false
	}
	return value, true
}
