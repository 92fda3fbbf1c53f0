package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, content, kind, state, fail_reason, created_at, delivered_at, read_at, failed_at, deleted`

// MessageRepo is a sqlx-backed MessageStore. State transitions are single
// conditional UPDATEs, so the database enforces per-message atomicity.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a freshly created message.
func (r *MessageRepo) Insert(ctx context.Context, msg models.Message) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, sender_id, receiver_id, content, kind, state, fail_reason, created_at, delivered_at, read_at, failed_at, deleted)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Kind, msg.State, msg.FailReason,
		msg.CreatedAt, msg.DeliveredAt, msg.ReadAt, msg.FailedAt, msg.Deleted)
	return err
}

// Get retrieves a single message by id.
func (r *MessageRepo) Get(ctx context.Context, id string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND deleted = FALSE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkDelivered advances sent -> delivered.
func (r *MessageRepo) MarkDelivered(ctx context.Context, id string, receiverID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET state=$4, delivered_at=$3
        WHERE id=$1 AND receiver_id=$2 AND deleted = FALSE AND state=$5`,
		id, receiverID, at, models.StateDelivered, models.StateSent)
	if err != nil {
		return false, err
	}
	return r.transitionOutcome(ctx, res, id, receiverID, models.StateDelivered, models.StateRead)
}

// MarkRead advances sent or delivered -> read, backfilling delivered_at.
func (r *MessageRepo) MarkRead(ctx context.Context, id string, receiverID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET state=$4, read_at=$3, delivered_at=COALESCE(delivered_at, $3)
        WHERE id=$1 AND receiver_id=$2 AND deleted = FALSE AND state IN ($5, $6)`,
		id, receiverID, at, models.StateRead, models.StateSent, models.StateDelivered)
	if err != nil {
		return false, err
	}
	return r.transitionOutcome(ctx, res, id, receiverID, models.StateRead)
}

// MarkFailed closes out a message that will never be delivered. Only legal
// from sent.
func (r *MessageRepo) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET state=$4, fail_reason=$2, failed_at=$3
        WHERE id=$1 AND deleted = FALSE AND state=$5`,
		id, reason, at, models.StateFailed, models.StateSent)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrIllegalTransition
}

// MarkDeleted soft-deletes a message.
func (r *MessageRepo) MarkDeleted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE id=$1 AND deleted = FALSE`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Thread returns the conversation between two users, newest first.
func (r *MessageRepo) Thread(ctx context.Context, userA, userB int, limit int, before time.Time) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE deleted = FALSE
        AND ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))`
	args := []any{userA, userB}
	if !before.IsZero() {
		query += ` AND created_at < $3`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// Undelivered returns the receiver's pending messages, oldest first.
func (r *MessageRepo) Undelivered(ctx context.Context, receiverID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE receiver_id=$1 AND state=$2 AND deleted = FALSE
        ORDER BY created_at ASC LIMIT $3`, receiverID, models.StateSent, limit)
	return msgs, err
}

// UnreadCount counts sent and delivered messages for the receiver.
func (r *MessageRepo) UnreadCount(ctx context.Context, receiverID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE receiver_id=$1 AND state IN ($2, $3) AND deleted = FALSE`,
		receiverID, models.StateSent, models.StateDelivered)
	return count, err
}

// transitionOutcome disambiguates a zero-row conditional UPDATE: either the
// message is missing (or belongs to someone else), already at or past the
// target state, or in a state the transition is illegal from.
func (r *MessageRepo) transitionOutcome(ctx context.Context, res sql.Result, id string, receiverID int, noopStates ...models.DeliveryState) (bool, error) {
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if count == 1 {
		return true, nil
	}

	msg, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if msg.ReceiverID != receiverID {
		return false, ErrMessageNotFound
	}
	for _, s := range noopStates {
		if msg.State == s {
			return false, nil
		}
	}
	return false, ErrIllegalTransition
}

var _ MessageStore = (*MessageRepo)(nil)
