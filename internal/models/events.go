package models

// WireEvent is pushed to connected clients over the websocket.
type WireEvent struct {
	Type      string              `json:"type"`
	Message   *Message            `json:"message,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	ReaderID  int                 `json:"reader_id,omitempty"`
	Presence  *AggregatedPresence `json:"presence,omitempty"`
}
