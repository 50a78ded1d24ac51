package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ariefcatur/heirloom-checkout/internal/kafka"
)

func TestNewEnvelope(t *testing.T) {
	o := pendingOrder("buyer-1", line(locket(2), 1))
	env := NewEnvelope(context.Background(), "heirloom-checkout", EventOrderCreated, o.ID, CreatedPayload(o))

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, EventOrderCreated, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, o.ID, env.CorrelationID)
	assert.Empty(t, env.TraceID)

	p, err := kafkax.UnwrapPayload[OrderCreatedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, p.OrderNumber)
	assert.True(t, o.TotalAmount.Equal(p.TotalAmount))
}

func TestEveryEventHasATopic(t *testing.T) {
	for _, ev := range []string{EventOrderCreated, EventOrderConfirmed, EventOrderCancelled, EventOrderStatusOverridden} {
		assert.NotEmpty(t, TopicFor(ev), ev)
	}
	assert.Empty(t, TopicFor("Unknown"))
}
