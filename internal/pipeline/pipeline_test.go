package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteMintsCorrelationID(t *testing.T) {
	pipe := Default()

	var captured string
	err := pipe.Execute(context.Background(), "test_op", func(ctx context.Context) error {
		captured = CorrelationIDFromContext(ctx)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, captured)
	_, err = uuid.Parse(captured)
	assert.NoError(t, err, "minted correlation id is a uuid")
}

func TestExecuteReusesInboundCorrelationID(t *testing.T) {
	pipe := Default()
	ctx := WithCorrelationID(context.Background(), "req-abc-123")

	var captured string
	err := pipe.Execute(ctx, "test_op", func(ctx context.Context) error {
		captured = CorrelationIDFromContext(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req-abc-123", captured)
}

func TestExecuteTagsRequestKind(t *testing.T) {
	pipe := Default()

	var kind string
	err := pipe.Execute(context.Background(), "mark_read", func(ctx context.Context) error {
		kind = RequestKindFromContext(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "mark_read", kind)

	assert.Equal(t, "unknown", RequestKindFromContext(context.Background()))
}

func TestExecutePassesErrorThroughUnchanged(t *testing.T) {
	pipe := Default()
	boom := errors.New("handler exploded")

	err := pipe.Execute(context.Background(), "test_op", func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context) error {
				order = append(order, name+":before")
				err := next(ctx)
				order = append(order, name+":after")
				return err
			}
		}
	}

	pipe := New(tag("outer"), tag("inner"))
	err := pipe.Execute(context.Background(), "test_op", func(ctx context.Context) error {
		order = append(order, "op")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "op", "inner:after", "outer:after"}, order)
}

func TestResultsTravelByClosureCapture(t *testing.T) {
	pipe := Default()

	var result int
	err := pipe.Execute(context.Background(), "test_op", func(ctx context.Context) error {
		result = 7
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}
