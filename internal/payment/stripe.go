package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/ariefcatur/heirloom-checkout/internal/checkout"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
)

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Stripe opens and verifies hosted Checkout Sessions.
type Stripe struct {
	sessions sessionAPI
}

func NewStripe(secretKey string) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Stripe{sessions: sc.CheckoutSessions}
}

func (s *Stripe) CreateSession(ctx context.Context, req checkout.SessionRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.OrderID),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	params.AddMetadata("buyer_id", req.BuyerID)

	for _, it := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(it.Name)}
		if it.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{it.ImageURL})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(MinorUnits(it.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(it.Quantity)),
		})
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return "", &orders.GatewayError{Op: "create session", Err: err}
	}
	return sess.ID, nil
}

func (s *Stripe) VerifySession(ctx context.Context, sessionID string) (orders.SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return orders.SessionStatus{}, &orders.GatewayError{Op: "verify session", Err: err}
	}
	if sess == nil {
		return orders.SessionStatus{}, &orders.GatewayError{Op: "verify session", Err: errors.New("empty session")}
	}
	st := orders.SessionStatus{
		Paid:    sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		OrderID: sess.Metadata["order_id"],
	}
	if st.OrderID == "" {
		st.OrderID = sess.ClientReferenceID
	}
	if sess.PaymentIntent != nil {
		st.PaymentIntentID = sess.PaymentIntent.ID
	}
	return st, nil
}

// MinorUnits converts a two-decimal currency amount to its smallest unit,
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
