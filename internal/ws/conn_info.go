package ws

import "time"

// ConnInfo identifies one websocket connection for presence and events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Device      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
