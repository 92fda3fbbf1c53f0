package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"messaging-service/internal/models"
)

// MemoryMessageStore is an in-process MessageStore for single-node
// deployments and tests. The index lock is only held while locating an
// entry; each transition then runs under that entry's own mutex, so
// distinct messages never contend with each other.
type MemoryMessageStore struct {
	mu      sync.RWMutex
	entries map[string]*messageEntry
}

type messageEntry struct {
	mu  sync.Mutex
	msg models.Message
}

// NewMemoryMessageStore constructs an empty store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{entries: make(map[string]*messageEntry)}
}

// Insert stores a freshly created message.
func (s *MemoryMessageStore) Insert(ctx context.Context, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[msg.ID] = &messageEntry{msg: msg}
	return nil
}

// Get retrieves a single message by id.
func (s *MemoryMessageStore) Get(ctx context.Context, id string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	entry, ok := s.lookup(id)
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.msg.Deleted {
		return models.Message{}, ErrMessageNotFound
	}
	return entry.msg, nil
}

// MarkDelivered advances sent -> delivered.
func (s *MemoryMessageStore) MarkDelivered(ctx context.Context, id string, receiverID int, at time.Time) (bool, error) {
	return s.transition(ctx, id, receiverID, func(msg *models.Message) (bool, error) {
		switch msg.State {
		case models.StateSent:
			stamp := at
			msg.State = models.StateDelivered
			msg.DeliveredAt = &stamp
			return true, nil
		case models.StateDelivered, models.StateRead:
			return false, nil
		default:
			return false, ErrIllegalTransition
		}
	})
}

// MarkRead advances sent or delivered -> read, backfilling delivered_at.
func (s *MemoryMessageStore) MarkRead(ctx context.Context, id string, receiverID int, at time.Time) (bool, error) {
	return s.transition(ctx, id, receiverID, func(msg *models.Message) (bool, error) {
		switch msg.State {
		case models.StateSent, models.StateDelivered:
			stamp := at
			msg.State = models.StateRead
			msg.ReadAt = &stamp
			if msg.DeliveredAt == nil {
				msg.DeliveredAt = &stamp
			}
			return true, nil
		case models.StateRead:
			return false, nil
		default:
			return false, ErrIllegalTransition
		}
	})
}

// MarkFailed closes out a message that will never be delivered.
func (s *MemoryMessageStore) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	entry, ok := s.lookup(id)
	if !ok {
		return ErrMessageNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.msg.Deleted {
		return ErrMessageNotFound
	}
	if entry.msg.State != models.StateSent {
		return ErrIllegalTransition
	}
	stamp := at
	entry.msg.State = models.StateFailed
	entry.msg.FailReason = reason
	entry.msg.FailedAt = &stamp
	return nil
}

// MarkDeleted soft-deletes a message.
func (s *MemoryMessageStore) MarkDeleted(ctx context.Context, id string) error {
	entry, ok := s.lookup(id)
	if !ok {
		return ErrMessageNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.msg.Deleted {
		return ErrMessageNotFound
	}
	entry.msg.Deleted = true
	return nil
}

// Thread returns the conversation between two users, newest first.
func (s *MemoryMessageStore) Thread(ctx context.Context, userA, userB int, limit int, before time.Time) ([]models.Message, error) {
	msgs, err := s.snapshot(ctx, func(m models.Message) bool {
		inPair := (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA)
		return inPair && (before.IsZero() || m.CreatedAt.Before(before))
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// Undelivered returns the receiver's pending messages, oldest first.
func (s *MemoryMessageStore) Undelivered(ctx context.Context, receiverID int, limit int) ([]models.Message, error) {
	msgs, err := s.snapshot(ctx, func(m models.Message) bool {
		return m.ReceiverID == receiverID && m.State == models.StateSent
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// UnreadCount counts sent and delivered messages for the receiver.
func (s *MemoryMessageStore) UnreadCount(ctx context.Context, receiverID int) (int, error) {
	msgs, err := s.snapshot(ctx, func(m models.Message) bool {
		return m.ReceiverID == receiverID && (m.State == models.StateSent || m.State == models.StateDelivered)
	})
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (s *MemoryMessageStore) lookup(id string) (*messageEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

func (s *MemoryMessageStore) transition(ctx context.Context, id string, receiverID int, apply func(*models.Message) (bool, error)) (bool, error) {
	entry, ok := s.lookup(id)
	if !ok {
		return false, ErrMessageNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	// Cancellation must leave the message untouched, so the check sits
	// before apply rather than after.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if entry.msg.Deleted || entry.msg.ReceiverID != receiverID {
		return false, ErrMessageNotFound
	}
	return apply(&entry.msg)
}

func (s *MemoryMessageStore) snapshot(ctx context.Context, keep func(models.Message) bool) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]*messageEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var msgs []models.Message
	for _, entry := range entries {
		entry.mu.Lock()
		msg := entry.msg
		entry.mu.Unlock()
		if !msg.Deleted && keep(msg) {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

var _ MessageStore = (*MemoryMessageStore)(nil)
