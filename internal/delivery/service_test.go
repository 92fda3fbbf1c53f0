package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/errs"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// steppingClock returns a clock that advances one second per call, so
// every timestamp in a test is distinct and ordered.
func steppingClock() func() time.Time {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestService() (*Service, *repositories.MemoryMessageStore) {
	store := repositories.NewMemoryMessageStore()
	return NewServiceWithClock(store, steppingClock()), store
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name       string
		senderID   int
		receiverID int
		content    string
		kind       models.MessageKind
	}{
		{"zero sender", 0, 2, "hi", models.KindChat},
		{"negative receiver", 1, -2, "hi", models.KindChat},
		{"unknown kind", 1, 2, "hi", models.MessageKind("carrier_pigeon")},
		{"chat to self", 1, 1, "hi", models.KindChat},
		{"private to self", 1, 1, "hi", models.KindPrivate},
		{"empty chat content", 1, 2, "", models.KindChat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.senderID, tc.receiverID, tc.content, tc.kind)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestCreateSystemMessageToSelfAllowed(t *testing.T) {
	svc, _ := newTestService()

	msg, err := svc.Create(context.Background(), 1, 1, "maintenance tonight", models.KindSystem)
	require.NoError(t, err)
	assert.Equal(t, models.StateSent, msg.State)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestDeliveryLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	msg, err := svc.Create(ctx, 1, 2, "hello", models.KindChat)
	require.NoError(t, err)

	changed, err := svc.MarkDelivered(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.True(t, changed)

	// Duplicate ack is a no-op, not an error.
	changed, err = svc.MarkDelivered(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = svc.MarkRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.MarkRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := svc.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRead, stored.State)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.ReadAt)
	assert.False(t, stored.ReadAt.Before(*stored.DeliveredAt))
}

func TestReadBeforeDeliveredBackfills(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	msg, err := svc.Create(ctx, 1, 2, "hello", models.KindChat)
	require.NoError(t, err)

	changed, err := svc.MarkRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := svc.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.ReadAt)
	assert.True(t, stored.DeliveredAt.Equal(*stored.ReadAt), "delivered_at should be backfilled with the read stamp")

	// A late delivery ack after read is still a silent no-op.
	changed, err = svc.MarkDelivered(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMarkFailedOnlyFromSent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	msg, err := svc.Create(ctx, 1, 2, "hello", models.KindChat)
	require.NoError(t, err)
	require.NoError(t, svc.MarkFailed(ctx, msg.ID, "push gateway timeout"))

	stored, err := svc.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, stored.State)
	assert.Equal(t, "push gateway timeout", stored.FailReason)
	require.NotNil(t, stored.FailedAt)
	assert.True(t, stored.FailedAt.After(stored.CreatedAt))

	// Failed is terminal: later acks conflict instead of resurrecting it.
	_, err = svc.MarkDelivered(ctx, msg.ID, 2)
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	delivered, err := svc.Create(ctx, 1, 2, "second", models.KindChat)
	require.NoError(t, err)
	_, err = svc.MarkDelivered(ctx, delivered.ID, 2)
	require.NoError(t, err)
	err = svc.MarkFailed(ctx, delivered.ID, "too late")
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))
}

func TestMarkDeliveredWrongReceiver(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	msg, err := svc.Create(ctx, 1, 2, "hello", models.KindChat)
	require.NoError(t, err)

	_, err = svc.MarkDelivered(ctx, msg.ID, 3)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err), "another user's ack must look like a missing message")
}

func TestMarkDeliveredUnknownMessage(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.MarkDelivered(context.Background(), "no-such-id", 2)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestMarkManyReadSkipsBadIDs(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, 2, "one", models.KindChat)
	require.NoError(t, err)
	second, err := svc.Create(ctx, 1, 2, "two", models.KindChat)
	require.NoError(t, err)
	already, err := svc.Create(ctx, 1, 2, "three", models.KindChat)
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, already.ID, 2)
	require.NoError(t, err)

	count, err := svc.MarkManyRead(ctx, []string{first.ID, "missing", second.ID, already.ID}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "only fresh transitions count")
}

func TestMarkManyAbortsOnCancellation(t *testing.T) {
	svc, _ := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count, err := svc.MarkManyDelivered(ctx, []string{"a", "b"}, 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, count)
}

func TestDeleteSenderOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	msg, err := svc.Create(ctx, 1, 2, "hello", models.KindChat)
	require.NoError(t, err)

	err = svc.Delete(ctx, msg.ID, 2)
	require.Error(t, err)
	assert.True(t, errs.IsAuthorization(err))

	require.NoError(t, svc.Delete(ctx, msg.ID, 1))

	_, err = svc.GetByID(ctx, msg.ID)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestGetThreadOrderingAndCursor(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	var msgs []models.Message
	for i := 0; i < 5; i++ {
		msg, err := svc.Create(ctx, 1, 2, "msg", models.KindChat)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	// Noise from an unrelated pair must not leak into the thread.
	_, err := svc.Create(ctx, 1, 3, "other", models.KindChat)
	require.NoError(t, err)

	thread, err := svc.GetThread(ctx, 2, 1, 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, thread, 5)
	for i := 1; i < len(thread); i++ {
		assert.True(t, thread[i].CreatedAt.Before(thread[i-1].CreatedAt), "thread must be newest first")
	}

	// Cursor is exclusive: paging before the third message yields the two older ones.
	page, err := svc.GetThread(ctx, 1, 2, 0, msgs[2].CreatedAt)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, msgs[1].ID, page[0].ID)
	assert.Equal(t, msgs[0].ID, page[1].ID)

	limited, err := svc.GetThread(ctx, 1, 2, 2, time.Time{})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGetThreadValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GetThread(context.Background(), 0, 2, 0, time.Time{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestGetUndeliveredOldestFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, 2, "one", models.KindChat)
	require.NoError(t, err)
	second, err := svc.Create(ctx, 3, 2, "two", models.KindChat)
	require.NoError(t, err)
	acked, err := svc.Create(ctx, 1, 2, "three", models.KindChat)
	require.NoError(t, err)
	_, err = svc.MarkDelivered(ctx, acked.ID, 2)
	require.NoError(t, err)

	pending, err := svc.GetUndelivered(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestGetUnreadCount(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, 2, "one", models.KindChat)
	require.NoError(t, err)
	delivered, err := svc.Create(ctx, 1, 2, "two", models.KindChat)
	require.NoError(t, err)
	read, err := svc.Create(ctx, 1, 2, "three", models.KindChat)
	require.NoError(t, err)

	_, err = svc.MarkDelivered(ctx, delivered.ID, 2)
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, read.ID, 2)
	require.NoError(t, err)

	count, err := svc.GetUnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCreateStoreErrorIsTransient(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	svc := NewService(store)
	store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	_, err := svc.Create(context.Background(), 1, 2, "hello", models.KindChat)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	store.AssertExpectations(t)
}
