package repositories

import (
	"context"
	"errors"
	"time"

	"messaging-service/internal/models"
)

var (
	// ErrMessageNotFound means the message does not exist or the caller is
	// not its receiver.
	ErrMessageNotFound = errors.New("message not found")
	// ErrIllegalTransition means the message exists but its current state
	// forbids the requested transition (e.g. marking a failed message read).
	ErrIllegalTransition = errors.New("illegal state transition")
)

// MessageStore is the persistence contract for messages. Implementations
// must make each conditional transition atomic per message ID: the
// check-then-act of MarkDelivered/MarkRead/MarkFailed may never interleave
// for the same message.
//
// Transition methods return (false, nil) when the message is already at or
// past the target state, so duplicate network retries stay cheap no-ops.
type MessageStore interface {
	Insert(ctx context.Context, msg models.Message) error
	Get(ctx context.Context, id string) (models.Message, error)

	MarkDelivered(ctx context.Context, id string, receiverID int, at time.Time) (bool, error)
	// MarkRead also backfills delivered_at with the read timestamp when it
	// was never set, preserving delivered_at <= read_at.
	MarkRead(ctx context.Context, id string, receiverID int, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
	MarkDeleted(ctx context.Context, id string) error

	// Thread returns messages between two users, newest first, optionally
	// only those created strictly before the cursor.
	Thread(ctx context.Context, userA, userB int, limit int, before time.Time) ([]models.Message, error)
	// Undelivered returns the receiver's messages still in state sent,
	// oldest first.
	Undelivered(ctx context.Context, receiverID int, limit int) ([]models.Message, error)
	// UnreadCount counts the receiver's messages not yet read or failed.
	UnreadCount(ctx context.Context, receiverID int) (int, error)
}
