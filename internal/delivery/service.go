// Package delivery implements the message delivery state machine. Every
// mutation of a message's state goes through this service, which owns the
// transition rules; the store underneath only provides atomic conditional
// writes.
package delivery

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/errs"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const defaultPageLimit = 50

// Service enforces delivery state transitions and answers message queries.
type Service struct {
	store repositories.MessageStore
	now   func() time.Time
}

// NewService constructs a Service over the given store.
func NewService(store repositories.MessageStore) *Service {
	return &Service{store: store, now: time.Now}
}

// NewServiceWithClock is used by tests that need deterministic timestamps.
func NewServiceWithClock(store repositories.MessageStore, now func() time.Time) *Service {
	return &Service{store: store, now: now}
}

// Create validates the input and stores a new message in state sent.
func (s *Service) Create(ctx context.Context, senderID, receiverID int, content string, kind models.MessageKind) (models.Message, error) {
	if senderID <= 0 {
		return models.Message{}, errs.Validationf("sender id must be positive, got %d", senderID)
	}
	if receiverID <= 0 {
		return models.Message{}, errs.Validationf("receiver id must be positive, got %d", receiverID)
	}
	if !kind.Valid() {
		return models.Message{}, errs.Validationf("unknown message kind %q", kind)
	}
	if senderID == receiverID && (kind == models.KindChat || kind == models.KindPrivate) {
		return models.Message{}, errs.Validationf("%s messages cannot be sent to yourself", kind)
	}
	if content == "" && kind == models.KindChat {
		return models.Message{}, errs.Validationf("chat messages cannot be empty")
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Kind:       kind,
		State:      models.StateSent,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Insert(ctx, msg); err != nil {
		return models.Message{}, errs.Transient("store message", err)
	}
	observability.IncTransition(string(models.StateSent))
	return msg, nil
}

// MarkDelivered transitions sent -> delivered and stamps delivered_at.
// Returns false without error when the message is already delivered or
// read, so flaky clients can retry freely.
func (s *Service) MarkDelivered(ctx context.Context, id string, receiverID int) (bool, error) {
	if id == "" {
		return false, errs.Validationf("message id is required")
	}
	changed, err := s.store.MarkDelivered(ctx, id, receiverID, s.now().UTC())
	if err != nil {
		return false, s.mapStoreError(err, id)
	}
	if changed {
		observability.IncTransition(string(models.StateDelivered))
	}
	return changed, nil
}

// MarkRead transitions sent or delivered -> read. Skipping delivered is
// legal: a client may read before the delivered ack arrives, in which case
// delivered_at is backfilled with the read timestamp.
func (s *Service) MarkRead(ctx context.Context, id string, receiverID int) (bool, error) {
	if id == "" {
		return false, errs.Validationf("message id is required")
	}
	changed, err := s.store.MarkRead(ctx, id, receiverID, s.now().UTC())
	if err != nil {
		return false, s.mapStoreError(err, id)
	}
	if changed {
		observability.IncTransition(string(models.StateRead))
	}
	return changed, nil
}

// MarkManyDelivered applies the single-item rule per id and returns how
// many messages actually transitioned. Per-id not-found and conflict
// outcomes are skipped, not surfaced: bulk acks are retried wholesale and
// must stay idempotent.
func (s *Service) MarkManyDelivered(ctx context.Context, ids []string, receiverID int) (int, error) {
	return s.markMany(ctx, ids, receiverID, s.MarkDelivered)
}

// MarkManyRead is the bulk variant of MarkRead.
func (s *Service) MarkManyRead(ctx context.Context, ids []string, receiverID int) (int, error) {
	return s.markMany(ctx, ids, receiverID, s.MarkRead)
}

// MarkFailed closes out a message that out-of-band delivery gave up on.
// Only legal from sent.
func (s *Service) MarkFailed(ctx context.Context, id string, reason string) error {
	if id == "" {
		return errs.Validationf("message id is required")
	}
	if err := s.store.MarkFailed(ctx, id, reason, s.now().UTC()); err != nil {
		return s.mapStoreError(err, id)
	}
	observability.IncTransition(string(models.StateFailed))
	return nil
}

// GetByID fetches a single message.
func (s *Service) GetByID(ctx context.Context, id string) (models.Message, error) {
	msg, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Message{}, s.mapStoreError(err, id)
	}
	return msg, nil
}

// Delete soft-deletes a message. Only its sender may do so.
func (s *Service) Delete(ctx context.Context, id string, callerID int) error {
	msg, err := s.store.Get(ctx, id)
	if err != nil {
		return s.mapStoreError(err, id)
	}
	if msg.SenderID != callerID {
		return errs.Authorizationf("only the sender can delete message %s", id)
	}
	if err := s.store.MarkDeleted(ctx, id); err != nil {
		return s.mapStoreError(err, id)
	}
	return nil
}

// GetThread returns the conversation between two users, newest first. A
// zero before means the newest page.
func (s *Service) GetThread(ctx context.Context, userA, userB int, limit int, before time.Time) ([]models.Message, error) {
	if userA <= 0 || userB <= 0 {
		return nil, errs.Validationf("user ids must be positive")
	}
	msgs, err := s.store.Thread(ctx, userA, userB, normalizeLimit(limit), before)
	if err != nil {
		return nil, errs.Transient("load thread", err)
	}
	return msgs, nil
}

// GetUndelivered returns messages still waiting for a delivery ack.
func (s *Service) GetUndelivered(ctx context.Context, receiverID int, limit int) ([]models.Message, error) {
	if receiverID <= 0 {
		return nil, errs.Validationf("user id must be positive")
	}
	msgs, err := s.store.Undelivered(ctx, receiverID, normalizeLimit(limit))
	if err != nil {
		return nil, errs.Transient("load undelivered", err)
	}
	return msgs, nil
}

// GetUnreadCount counts the receiver's unread messages.
func (s *Service) GetUnreadCount(ctx context.Context, receiverID int) (int, error) {
	if receiverID <= 0 {
		return 0, errs.Validationf("user id must be positive")
	}
	count, err := s.store.UnreadCount(ctx, receiverID)
	if err != nil {
		return 0, errs.Transient("count unread", err)
	}
	return count, nil
}

func (s *Service) markMany(ctx context.Context, ids []string, receiverID int, mark func(context.Context, string, int) (bool, error)) (int, error) {
	count := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		changed, err := mark(ctx, id, receiverID)
		if err != nil {
			if errs.IsNotFound(err) || errs.IsConflict(err) || errs.IsValidation(err) {
				log.Printf("bulk ack skipped message_id=%s receiver_id=%d err=%v", id, receiverID, err)
				continue
			}
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (s *Service) mapStoreError(err error, id string) error {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		return errs.NotFoundf("message %s not found", id)
	case errors.Is(err, repositories.ErrIllegalTransition):
		return errs.Conflictf("message %s is in a terminal state", id)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errs.Transient("message store", err)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	return limit
}
