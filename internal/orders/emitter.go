package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/heirloom-checkout/internal/kafka"
)

// Emitter publishes lifecycle events after the state change is committed.
// Delivery is best-effort; a failed emit never undoes the change.
type Emitter interface {
	Emit(ctx context.Context, eventType, orderID string, payload any)
}

// NopEmitter is used when no broker is configured.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, string, any) {}

type KafkaEmitter struct {
	Producer *kafkax.Producer
	Service  string
}

func (e *KafkaEmitter) Emit(ctx context.Context, eventType, orderID string, payload any) {
	ev := NewEnvelope(ctx, e.Service, eventType, orderID, payload)
	e.Producer.Publish(TopicFor(eventType), PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func NewEnvelope(ctx context.Context, producer, eventType, orderID string, payload any) Envelope {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	return ev
}
