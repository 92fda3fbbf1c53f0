package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
)

// TokenValidator resolves a bearer token into a user id.
type TokenValidator func(token string) (int, error)

// SocketHandler upgrades realtime connections and ties their lifecycle to
// the presence store.
type SocketHandler struct {
	hub       *Hub
	presence  *presence.Store
	publisher rabbitmq.Publisher
	validate  TokenValidator
}

// NewSocketHandler constructs a SocketHandler.
func NewSocketHandler(hub *Hub, presenceStore *presence.Store, publisher rabbitmq.Publisher, validate TokenValidator) *SocketHandler {
	return &SocketHandler{hub: hub, presence: presenceStore, publisher: publisher, validate: validate}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request, registers the client and blocks in the read
// pump until the socket closes. Browsers cannot set headers on websocket
// requests, so the token may arrive as a query parameter.
func (h *SocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Device:      observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	client := NewClient(h.hub, conn, info, h.presence)
	h.hub.Register(client)
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, "ws_connect", info, "")
	h.hub.BroadcastPresence(h.presence.GetAggregatedPresence(userID))

	closeReason := client.Run()

	observability.IncWSEvent("ws_disconnect")
	if closeReason != "" {
		observability.IncWSEvent("ws_error")
	}
	h.publishLifecycle(ctx, "ws_disconnect", info, closeReason)
	h.hub.BroadcastPresence(h.presence.GetAggregatedPresence(userID))
}

func (h *SocketHandler) publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	if h.publisher == nil {
		return
	}
	envelope := observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id": info.UserID,
				"device":  info.Device,
				"ip":      info.IP,
			},
		},
	}
	_ = h.publisher.Publish(ctx, "ws_events.connections", envelope)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return c.Query("token")
}
