package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
)

const ManualPaymentNote = "Awaiting PromptPay transfer. Order will be confirmed after manual verification."

var tracer = otel.Tracer("heirloom-checkout/checkout")

// SessionRequest describes the hosted payment page to open for one order.
type SessionRequest struct {
	OrderID     string
	OrderNumber string
	BuyerID     string
	Currency    string
	Items       []orders.LineItem
	SuccessURL  string
	CancelURL   string
}

type SessionCreator interface {
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}

// Line is one cart entry as submitted. Name and ImageURL are display hints
// only; the catalog snapshot wins.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"image,omitempty"`
}

type Submission struct {
	BuyerID string
	Lines   []Line
}

type CardResult struct {
	SessionID   string `json:"sessionId"`
	OrderNumber string `json:"orderNumber"`
}

type ManualResult struct {
	OrderNumber string          `json:"orderNumber"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	OrderID     string          `json:"orderId"`
}

type Config struct {
	Currency string
	BaseURL  string
}

type Orchestrator struct {
	catalog orders.Catalog
	svc     *orders.Service
	gateway SessionCreator
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func New(catalog orders.Catalog, svc *orders.Service, gateway SessionCreator, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Orchestrator{catalog: catalog, svc: svc, gateway: gateway, cfg: cfg, metrics: m, log: log, now: time.Now}
}

// SubmitCard creates a pending card order and opens a hosted payment
// session for it. If the session cannot be opened or attached the order is
// cancelled and its stock released before the error is returned.
func (c *Orchestrator) SubmitCard(ctx context.Context, sub Submission) (_ CardResult, err error) {
	ctx, span := tracer.Start(ctx, "checkout.SubmitCard", trace.WithAttributes(
		attribute.String("buyer.id", sub.BuyerID),
		attribute.Int("cart.lines", len(sub.Lines)),
	))
	defer func() {
		c.finish(span, orders.MethodCard, err)
	}()

	if c.gateway == nil {
		return CardResult{}, &orders.GatewayError{Op: "create session", Err: errors.New("no payment gateway configured")}
	}
	o, err := c.build(ctx, sub, orders.MethodCard)
	if err != nil {
		return CardResult{}, err
	}

	create := &createOrderStep{store: c.svc.Store(), svc: c.svc, order: o}
	session := &createSessionStep{gateway: c.gateway, req: SessionRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		Currency:    o.Currency,
		Items:       o.Items,
		SuccessURL:  fmt.Sprintf("%s/orders/success?session_id={CHECKOUT_SESSION_ID}&order_id=%s", c.cfg.BaseURL, o.ID),
		CancelURL:   c.cfg.BaseURL + "/cart",
	}}
	attach := &attachSessionStep{store: c.svc.Store(), order: o, session: session}

	log := c.log.With().Str("order_number", o.OrderNumber).Logger()
	if err := runSaga(ctx, log, create, session, attach); err != nil {
		return CardResult{}, err
	}

	o.GatewaySessionID = session.sessionID
	c.svc.Emitter().Emit(ctx, orders.EventOrderCreated, o.ID, orders.CreatedPayload(o))
	log.Info().Str("session_id", session.sessionID).Str("total", o.TotalAmount.String()).Msg("card checkout created")
	span.SetAttributes(attribute.String("order.number", o.OrderNumber))
	return CardResult{SessionID: session.sessionID, OrderNumber: o.OrderNumber}, nil
}

// SubmitManual creates a pending order to be settled by bank transfer.
// It stays (pending, pending) until an administrator confirms it.
func (c *Orchestrator) SubmitManual(ctx context.Context, sub Submission) (_ ManualResult, err error) {
	ctx, span := tracer.Start(ctx, "checkout.SubmitManual", trace.WithAttributes(
		attribute.String("buyer.id", sub.BuyerID),
		attribute.Int("cart.lines", len(sub.Lines)),
	))
	defer func() {
		c.finish(span, orders.MethodPromptPay, err)
	}()

	o, err := c.build(ctx, sub, orders.MethodPromptPay)
	if err != nil {
		return ManualResult{}, err
	}
	o.Notes = ManualPaymentNote
	if err := c.svc.Store().Create(ctx, o); err != nil {
		return ManualResult{}, err
	}

	c.svc.Emitter().Emit(ctx, orders.EventOrderCreated, o.ID, orders.CreatedPayload(o))
	c.log.Info().Str("order_number", o.OrderNumber).Str("total", o.TotalAmount.String()).Msg("manual checkout created")
	span.SetAttributes(attribute.String("order.number", o.OrderNumber))
	return ManualResult{OrderNumber: o.OrderNumber, TotalAmount: o.TotalAmount, OrderID: o.ID}, nil
}

// build validates the cart against the catalog and snapshots it into a new
// (pending, pending) order. Nothing is written.
func (c *Orchestrator) build(ctx context.Context, sub Submission, method orders.PaymentMethod) (*orders.Order, error) {
	if sub.BuyerID == "" {
		return nil, orders.ErrUnauthenticated
	}
	if len(sub.Lines) == 0 {
		return nil, orders.ErrEmptyCart
	}

	need := map[string]int{}
	var ids []string
	for _, l := range sub.Lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity %d", orders.ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
		if _, seen := need[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		need[l.ProductID] += l.Quantity
	}

	products, err := c.catalog.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	items := make([]orders.LineItem, 0, len(sub.Lines))
	for _, l := range sub.Lines {
		p, ok := products[l.ProductID]
		if err := checkAvailable(l.ProductID, p, ok, need[l.ProductID]); err != nil {
			return nil, err
		}
		image := p.ImageURL
		if image == "" {
			image = l.ImageURL
		}
		items = append(items, orders.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.EffectivePrice(),
			Quantity:  l.Quantity,
			ImageURL:  image,
		})
	}

	return &orders.Order{
		ID:            uuid.NewString(),
		OrderNumber:   orders.NewOrderNumber(c.now()),
		BuyerID:       sub.BuyerID,
		Items:         items,
		TotalAmount:   orders.Total(items),
		Currency:      c.cfg.Currency,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		PaymentMethod: method,
	}, nil
}

func checkAvailable(id string, p orders.Product, found bool, requested int) error {
	e := &orders.UnavailableError{ProductID: id, Name: p.Name, Requested: requested, Available: p.StockQuantity}
	switch {
	case !found:
		e.Reason = orders.ReasonNotFound
	case !p.IsActive:
		e.Reason = orders.ReasonInactive
	case !p.IsInStock || p.StockQuantity <= 0:
		e.Reason = orders.ReasonOutOfStock
	case p.StockQuantity < requested:
		e.Reason = orders.ReasonInsufficientStock
	default:
		return nil
	}
	return e
}

func (c *Orchestrator) finish(span trace.Span, method orders.PaymentMethod, err error) {
	c.metrics.Checkout(string(method), outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	var ue *orders.UnavailableError
	var ge *orders.GatewayError
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &ue):
		return "unavailable"
	case errors.As(err, &ge):
		return "gateway_error"
	case errors.Is(err, orders.ErrEmptyCart), errors.Is(err, orders.ErrInvalidQuantity), errors.Is(err, orders.ErrUnauthenticated):
		return "invalid"
	default:
		return "error"
	}
}
