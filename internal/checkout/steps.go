package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/heirloom-checkout/internal/orders"
)

// createOrderStep persists the order and takes its stock. Compensation
// cancels it, which puts the stock back.
type createOrderStep struct {
	store orders.Store
	svc   *orders.Service
	order *orders.Order
}

func (s *createOrderStep) Name() string { return "create-order" }

func (s *createOrderStep) Execute(ctx context.Context) error {
	return s.store.Create(ctx, s.order)
}

func (s *createOrderStep) Compensate(ctx context.Context) error {
	_, err := s.svc.Cancel(ctx, s.order.ID, orders.EventPaymentFailed)
	return err
}

// createSessionStep opens the hosted payment page. An unused session
// expires at the provider, so there is nothing to undo.
type createSessionStep struct {
	gateway   SessionCreator
	req       SessionRequest
	sessionID string
}

func (s *createSessionStep) Name() string { return "create-session" }

func (s *createSessionStep) Execute(ctx context.Context) error {
	id, err := s.gateway.CreateSession(ctx, s.req)
	if err != nil {
		var ge *orders.GatewayError
		if errors.As(err, &ge) {
			return err
		}
		return &orders.GatewayError{Op: "create session", Err: err}
	}
	if id == "" {
		return &orders.GatewayError{Op: "create session", Err: errors.New("empty session id")}
	}
	s.sessionID = id
	return nil
}

func (s *createSessionStep) Compensate(context.Context) error { return nil }

// attachSessionStep stores the session id on the order so the payment
// callback can be matched to it.
type attachSessionStep struct {
	store   orders.Store
	order   *orders.Order
	session *createSessionStep
}

func (s *attachSessionStep) Name() string { return "attach-session" }

func (s *attachSessionStep) Execute(ctx context.Context) error {
	if err := s.store.AttachSession(ctx, s.order.ID, s.session.sessionID); err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	return nil
}

func (s *attachSessionStep) Compensate(context.Context) error { return nil }
