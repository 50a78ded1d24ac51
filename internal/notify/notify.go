package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/heirloom-checkout/internal/kafka"
	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
)

// Topics the notifier subscribes to.
var Topics = []string{orders.TopicOrderCreated, orders.TopicOrderConfirmed, orders.TopicOrderCancelled}

type Message struct {
	BuyerID     string
	OrderNumber string
	Subject     string
	Body        string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Deduper remembers which events were already handled.
type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct{ Log zerolog.Logger }

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.Info().Str("buyer_id", m.BuyerID).Str("order_number", m.OrderNumber).
		Str("subject", m.Subject).Msg(m.Body)
	return nil
}

type Service struct {
	Sender  Sender
	Dedup   Deduper // nil disables dedup
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Handle is installed as the consumer handler.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and commit past it
		s.Log.Error().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("undecodable event")
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.First(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup: %w", err)
		}
		if !first {
			s.Metrics.Notification(env.EventType, "duplicate")
			return nil
		}
	}

	msg, ok, err := render(env)
	if err == nil && ok {
		err = s.Sender.Send(ctx, msg)
	}
	if err != nil {
		if s.Dedup != nil {
			_ = s.Dedup.Forget(context.WithoutCancel(ctx), env.EventID)
		}
		s.Metrics.Notification(env.EventType, "failed")
		return err
	}
	if !ok {
		s.Metrics.Notification(env.EventType, "ignored")
		return nil
	}
	s.Metrics.Notification(env.EventType, "sent")
	return nil
}

func render(env orders.Envelope) (Message, bool, error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return Message{}, false, err
		}
		m := Message{BuyerID: p.BuyerID, OrderNumber: p.OrderNumber}
		if p.PaymentMethod == orders.MethodPromptPay {
			m.Subject = "Order " + p.OrderNumber + " is waiting for your transfer"
			m.Body = fmt.Sprintf("Please transfer %s %s by PromptPay and quote %s. We will confirm your order once the payment is verified.",
				p.TotalAmount.StringFixed(2), strings.ToUpper(p.Currency), p.OrderNumber)
		} else {
			m.Subject = "Order " + p.OrderNumber + " received"
			m.Body = fmt.Sprintf("We have reserved your pieces. Total %s %s, awaiting card payment.",
				p.TotalAmount.StringFixed(2), strings.ToUpper(p.Currency))
		}
		return m, true, nil

	case orders.EventOrderConfirmed:
		p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
		if err != nil {
			return Message{}, false, err
		}
		return Message{
			BuyerID:     p.BuyerID,
			OrderNumber: p.OrderNumber,
			Subject:     "Payment received for order " + p.OrderNumber,
			Body:        fmt.Sprintf("Thank you. We received %s %s and will prepare your order.", p.TotalAmount.StringFixed(2), strings.ToUpper(p.Currency)),
		}, true, nil

	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return Message{}, false, err
		}
		body := "Your order was cancelled and the reserved pieces were released."
		if p.Reason == orders.EventExpired {
			body = "We did not receive payment in time, so your order was cancelled and the reserved pieces were released."
		}
		return Message{
			BuyerID:     p.BuyerID,
			OrderNumber: p.OrderNumber,
			Subject:     "Order " + p.OrderNumber + " cancelled",
			Body:        body,
		}, true, nil
	}
	return Message{}, false, nil
}
