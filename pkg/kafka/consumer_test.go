package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/pkg/domain"
)

func newTestConsumer() *Consumer {
	return &Consumer{
		logger:     zap.NewNop(),
		backoff:    time.Millisecond,
		maxBackoff: 4 * time.Millisecond,
	}
}

func TestDispatch_RetriesSameMessageOnContention(t *testing.T) {
	c := newTestConsumer()
	msg := kafkago.Message{Topic: "maintenance.events", Offset: 5}

	var offsets []int64
	handler := func(_ context.Context, m kafkago.Message) error {
		offsets = append(offsets, m.Offset)
		if len(offsets) == 1 {
			return domain.NewContentionError(errors.New("lock timeout"))
		}
		return nil
	}

	require.NoError(t, c.dispatch(context.Background(), handler, msg))
	assert.Equal(t, []int64{5, 5}, offsets)
}

func TestDispatch_NonRetryableErrorIsNotRetried(t *testing.T) {
	c := newTestConsumer()
	calls := 0
	handler := func(context.Context, kafkago.Message) error {
		calls++
		return domain.NewValidationError("bad window")
	}

	require.NoError(t, c.dispatch(context.Background(), handler, kafkago.Message{Offset: 9}))
	assert.Equal(t, 1, calls)

	calls = 0
	handler = func(context.Context, kafkago.Message) error {
		calls++
		return errors.New("boom")
	}
	require.NoError(t, c.dispatch(context.Background(), handler, kafkago.Message{Offset: 10}))
	assert.Equal(t, 1, calls)
}

func TestDispatch_StopsRetryingWhenContextEnds(t *testing.T) {
	c := newTestConsumer()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	handler := func(context.Context, kafkago.Message) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return domain.NewContentionError(nil)
	}

	err := c.dispatch(ctx, handler, kafkago.Message{Offset: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}
