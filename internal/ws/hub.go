package ws

import (
	"encoding/json"
	"log"
	"sync"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
)

// Hub maintains the active websocket clients per user and feeds the
// presence store as connections come and go. Each client owns a bounded
// send channel; a full channel marks the client as slow and it is dropped
// rather than blocking the hub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int]map[*Client]bool
	presence *presence.Store
}

// NewHub creates an empty hub wired to the presence store.
func NewHub(presenceStore *presence.Store) *Hub {
	return &Hub{
		clients:  make(map[int]map[*Client]bool),
		presence: presenceStore,
	}
}

// Register adds a client and marks its connection online.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]bool)
	}
	h.clients[c.userID][c] = true
	h.mu.Unlock()

	h.presence.UpdateConnection(c.userID, c.info.ConnID, true, c.info.Device)
	observability.IncWSActive()
}

// Unregister removes a client and marks its connection offline.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := false
	if set, ok := h.clients[c.userID]; ok {
		if set[c] {
			delete(set, c)
			c.closeSend()
			removed = true
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()

	if removed {
		h.presence.UpdateConnection(c.userID, c.info.ConnID, false, c.info.Device)
		observability.DecWSActive()
	}
}

// SendToUser pushes an event to every connection of one user. Offline
// users are a no-op; delivery of missed messages happens through the
// undelivered query when they reconnect.
func (h *Hub) SendToUser(userID int, event models.WireEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws marshal failed user_id=%d type=%s err=%v", userID, event.Type, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, payload)
	}
}

// BroadcastPresence pushes a presence change to every connected client.
func (h *Hub) BroadcastPresence(agg models.AggregatedPresence) {
	payload, err := json.Marshal(models.WireEvent{Type: "presence", Presence: &agg})
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, set := range h.clients {
		for c := range set {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, payload)
	}
}

func (h *Hub) deliver(c *Client, payload []byte) {
	queued, closed := c.trySend(payload)
	if queued || closed {
		return
	}
	// Slow or broken client: drop it instead of blocking everyone.
	log.Printf("ws dropped slow client user_id=%d conn_id=%s", c.userID, c.info.ConnID)
	observability.IncWSEvent("ws_slow_drop")
	h.Unregister(c)
	c.conn.Close()
}
