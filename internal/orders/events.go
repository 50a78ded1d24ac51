package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated          = "OrderCreated"
	EventOrderConfirmed        = "OrderConfirmed"
	EventOrderCancelled        = "OrderCancelled"
	EventOrderStatusOverridden = "OrderStatusOverridden"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderCreatedPayload struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	BuyerID       string          `json:"buyer_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []LineItem      `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
}

type OrderConfirmedPayload struct {
	OrderID         string          `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	BuyerID         string          `json:"buyer_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
}

type OrderCancelledPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	BuyerID     string `json:"buyer_id"`
	Reason      Event  `json:"reason"`
}

type OrderStatusOverriddenPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Actor       string `json:"actor"`
	Previous    State  `json:"previous"`
	Current     State  `json:"current"`
}

func CreatedPayload(o *Order) OrderCreatedPayload {
	return OrderCreatedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		BuyerID:       o.BuyerID,
		PaymentMethod: o.PaymentMethod,
		Items:         o.Items,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
	}
}
