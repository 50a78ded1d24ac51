package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestHandleRetriesUntilSuccess(t *testing.T) {
	calls := 0
	h := func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("smtp down")
		}
		return nil
	}

	err := handle(context.Background(), h, kafka.Message{Topic: "order.created"}, 5, time.Millisecond, zerolog.Nop())
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHandleGivesUp(t *testing.T) {
	calls := 0
	h := func(context.Context, kafka.Message) error {
		calls++
		return errors.New("smtp down")
	}

	err := handle(context.Background(), h, kafka.Message{}, 3, time.Millisecond, zerolog.Nop())
	assert.EqualError(t, err, "smtp down")
	assert.Equal(t, 3, calls)
}

func TestHandleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(context.Context, kafka.Message) error {
		calls++
		cancel()
		return errors.New("smtp down")
	}

	err := handle(ctx, h, kafka.Message{}, 5, time.Hour, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWorkerPinsPartition(t *testing.T) {
	a := kafka.Message{Topic: "order.created", Partition: 3, Offset: 1}
	b := kafka.Message{Topic: "order.created", Partition: 3, Offset: 99}
	assert.Equal(t, worker(a, 8), worker(b, 8))

	for p := 0; p < 32; p++ {
		w := worker(kafka.Message{Topic: "order.cancelled", Partition: p}, 8)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 8)
	}
}
