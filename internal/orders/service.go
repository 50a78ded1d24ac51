package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

var tracer = otel.Tracer("heirloom-checkout/orders")

// SessionStatus is what the gateway reports about a hosted checkout session.
type SessionStatus struct {
	Paid            bool
	PaymentIntentID string
	// OrderID is the order the session was opened for.
	OrderID string
}

type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (SessionStatus, error)
}

// Cache is a read-through projection of orders keyed by order number.
// Implementations swallow their own failures; a miss is always safe.
type Cache interface {
	Get(ctx context.Context, number string) (*Order, bool)
	Set(ctx context.Context, o *Order)
	Invalidate(ctx context.Context, number string)
}

type Service struct {
	store    Store
	verifier SessionVerifier
	emit     Emitter
	cache    Cache
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithCache(c Cache) Option             { return func(s *Service) { s.cache = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, verifier SessionVerifier, emit Emitter, log zerolog.Logger, opts ...Option) *Service {
	if emit == nil {
		emit = NopEmitter{}
	}
	s := &Service{store: store, verifier: verifier, emit: emit, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() Store     { return s.store }
func (s *Service) Emitter() Emitter { return s.emit }

// Get returns the full projection of one order.
func (s *Service) Get(ctx context.Context, number string) (*Order, error) {
	if s.cache != nil {
		if o, ok := s.cache.Get(ctx, number); ok {
			return o, nil
		}
	}
	o, err := s.store.ByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, o)
	}
	return o, nil
}

// ListMine pages through one buyer's orders, newest first.
func (s *Service) ListMine(ctx context.Context, q ListQuery) (Page, error) {
	if q.BuyerID == "" {
		return Page{}, ErrUnauthenticated
	}
	if q.Status != "" && !q.Status.Valid() {
		return Page{}, fmt.Errorf("%w: %q", ErrInvalidStatus, q.Status)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return s.store.ListByBuyer(ctx, q)
}

// ConfirmPayment moves a card order to (confirmed, paid) once the gateway
// reports its session as paid and as opened for that same order.
// Confirming an already paid order is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID, orderID string) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.ConfirmPayment", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	if sessionID == "" || orderID == "" {
		return nil, ErrMissingParams
	}
	o, err := s.store.ByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != MethodCard {
		s.metrics.Confirmation("not_card")
		return nil, fmt.Errorf("%w: order %s is paid by %s", ErrInvalidMethod, o.OrderNumber, o.PaymentMethod)
	}
	if o.GatewaySessionID != "" && o.GatewaySessionID != sessionID {
		s.metrics.Confirmation("mismatch")
		return nil, ErrSessionMismatch
	}
	if o.State() == StatePaid {
		s.metrics.Confirmation("already_paid")
		return o, nil
	}
	if s.verifier == nil {
		return nil, &GatewayError{Op: "verify session", Err: errors.New("no payment gateway configured")}
	}

	st, err := s.verifier.VerifySession(ctx, sessionID)
	if err != nil {
		s.metrics.Confirmation("gateway_error")
		var ge *GatewayError
		if errors.As(err, &ge) {
			return nil, err
		}
		return nil, &GatewayError{Op: "verify session", Err: err}
	}
	if st.OrderID != o.ID {
		s.metrics.Confirmation("mismatch")
		s.log.Warn().Str("order_number", o.OrderNumber).Str("session_id", sessionID).
			Str("session_order_id", st.OrderID).Msg("session opened for another order")
		return nil, ErrSessionMismatch
	}
	if !st.Paid {
		s.metrics.Confirmation("not_paid")
		return nil, ErrPaymentNotCompleted
	}

	next, err := Next(o.State(), EventPaymentSucceeded)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Transition(ctx, o.ID, o.State(), next, TransitionOpts{PaymentIntentID: st.PaymentIntentID})
	if errors.Is(err, ErrStateConflict) {
		// a concurrent confirmation may have won
		if cur, gerr := s.store.ByID(ctx, o.ID); gerr == nil && cur.State() == StatePaid {
			s.metrics.Confirmation("already_paid")
			return cur, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, updated.OrderNumber)
	s.metrics.Confirmation("paid")
	s.log.Info().Str("order_number", updated.OrderNumber).Str("payment_intent", st.PaymentIntentID).Msg("payment confirmed")
	s.emit.Emit(ctx, EventOrderConfirmed, updated.ID, OrderConfirmedPayload{
		OrderID:         updated.ID,
		OrderNumber:     updated.OrderNumber,
		BuyerID:         updated.BuyerID,
		PaymentIntentID: updated.PaymentIntentID,
		TotalAmount:     updated.TotalAmount,
		Currency:        updated.Currency,
	})
	return updated, nil
}

// Override writes status, payment status and notes as given. Values must be
// members of their enumerations; adjacency is not checked.
func (s *Service) Override(ctx context.Context, number string, ov Override) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.Override", trace.WithAttributes(
		attribute.String("order.number", number),
	))
	defer func() { endSpan(span, err) }()

	if ov.Status != "" && !ov.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, ov.Status)
	}
	if ov.PaymentStatus != "" && !ov.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: payment status %q", ErrInvalidStatus, ov.PaymentStatus)
	}

	o, prev, err := s.store.Override(ctx, number, ov)
	if err != nil {
		return nil, err
	}
	cur := o.State()

	s.invalidate(ctx, number)
	s.metrics.Override()
	ev := s.log.Warn().
		Str("order_number", number).
		Str("previous", prev.String()).
		Str("current", cur.String()).
		Str("actor", ov.Actor)
	if !onGraph(prev, cur) {
		ev = ev.Bool("off_graph", true)
	}
	ev.Msg("order status overridden")

	s.emit.Emit(ctx, EventOrderStatusOverridden, o.ID, OrderStatusOverriddenPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Actor:       ov.Actor,
		Previous:    prev,
		Current:     cur,
	})
	return o, nil
}

// Cancel applies a cancelling event to a (pending, pending) order and puts
// its stock back.
func (s *Service) Cancel(ctx context.Context, orderID string, ev Event) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("event", string(ev)),
	))
	defer func() { endSpan(span, err) }()

	o, err := s.store.ByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	next, err := Next(o.State(), ev)
	if err != nil {
		return nil, err
	}
	if next.Status != StatusCancelled {
		return nil, fmt.Errorf("%w: %s does not cancel", ErrInvalidTransition, ev)
	}
	updated, err := s.store.Transition(ctx, o.ID, o.State(), next, TransitionOpts{ReleaseStock: true})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, updated.OrderNumber)
	s.log.Info().Str("order_number", updated.OrderNumber).Str("reason", string(ev)).Msg("order cancelled")
	s.emit.Emit(ctx, EventOrderCancelled, updated.ID, OrderCancelledPayload{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		BuyerID:     updated.BuyerID,
		Reason:      ev,
	})
	return updated, nil
}

// ExpireStale cancels pending orders older than maxAge, in batches, and
// returns how many were cancelled. Orders that moved in the meantime are
// skipped.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	const batch = 100
	cutoff := s.now().Add(-maxAge)
	seen := map[string]bool{}
	n := 0
	for {
		stale, err := s.store.PendingBefore(ctx, cutoff, batch)
		if err != nil {
			return n, err
		}
		progressed := false
		for _, o := range stale {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			progressed = true
			if _, err := s.Cancel(ctx, o.ID, EventExpired); err != nil {
				if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrInvalidTransition) {
					continue
				}
				return n, err
			}
			n++
		}
		if len(stale) < batch || !progressed {
			break
		}
	}
	s.metrics.Expire(n)
	if n > 0 {
		s.log.Info().Int("count", n).Dur("max_age", maxAge).Msg("expired stale pending orders")
	}
	return n, nil
}

// onGraph reports whether every field that changed moved along its
// adjacency table.
func onGraph(prev, cur State) bool {
	if prev.Status != cur.Status && !CanTransition(prev.Status, cur.Status) {
		return false
	}
	if prev.PaymentStatus != cur.PaymentStatus && !CanTransitionPayment(prev.PaymentStatus, cur.PaymentStatus) {
		return false
	}
	return true
}

func (s *Service) invalidate(ctx context.Context, number string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, number)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
