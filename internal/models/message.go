package models

import "time"

// MessageKind classifies a message. Kinds serialize as their symbolic
// names so the wire format stays stable if new kinds are added.
type MessageKind string

const (
	KindChat         MessageKind = "chat"
	KindSystem       MessageKind = "system"
	KindNotification MessageKind = "notification"
	KindAnnouncement MessageKind = "announcement"
	KindPrivate      MessageKind = "private"
)

// Valid reports whether the kind is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindChat, KindSystem, KindNotification, KindAnnouncement, KindPrivate:
		return true
	}
	return false
}

// DeliveryState is the lifecycle stage of a message. It only ever moves
// forward: sent -> delivered -> read, or sent -> failed. Read and failed
// are terminal.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
	StateFailed    DeliveryState = "failed"
)

// Message represents a single message between two users.
type Message struct {
	ID          string        `db:"id" json:"id"`
	SenderID    int           `db:"sender_id" json:"sender_id"`
	ReceiverID  int           `db:"receiver_id" json:"receiver_id"`
	Content     string        `db:"content" json:"content"`
	Kind        MessageKind   `db:"kind" json:"kind"`
	State       DeliveryState `db:"state" json:"state"`
	FailReason  string        `db:"fail_reason" json:"fail_reason,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	DeliveredAt *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `db:"read_at" json:"read_at,omitempty"`
	FailedAt    *time.Time    `db:"failed_at" json:"failed_at,omitempty"`
	Deleted     bool          `db:"deleted" json:"-"`
}

// BroadcastRequest is the input for a fan-out send. It is never persisted;
// it expands into one Message per receiver.
type BroadcastRequest struct {
	SenderID    int         `json:"sender_id"`
	ReceiverIDs []int       `json:"receiver_ids"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"kind"`
}
