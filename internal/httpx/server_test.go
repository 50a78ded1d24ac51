package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/heirloom-checkout/internal/auth"
	"github.com/ariefcatur/heirloom-checkout/internal/checkout"
	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
)

type stubGateway struct {
	mu      sync.Mutex
	created int
	paid    map[string]string // session id -> payment intent id
	owners  map[string]string // session id -> order id
	err     error
}

func (g *stubGateway) CreateSession(_ context.Context, req checkout.SessionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.created++
	id := "cs_" + req.OrderID
	g.owners[id] = req.OrderID
	return id, nil
}

func (g *stubGateway) VerifySession(_ context.Context, id string) (orders.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.paid[id]
	return orders.SessionStatus{Paid: ok, PaymentIntentID: pi, OrderID: g.owners[id]}, nil
}

type env struct {
	t       *testing.T
	store   *orders.MemoryStore
	gateway *stubGateway
	auth    *auth.Verifier
	router  http.Handler
}

type envOpt func(*Deps)

func newEnv(t *testing.T, opts ...envOpt) *env {
	t.Helper()
	e := &env{
		t: t,
		store: orders.NewMemoryStore(orders.Product{
			ID: "x", SKU: "SKU-X", Slug: "edwardian-ring", Name: "Edwardian Ring",
			Price: decimal.NewFromInt(1000), StockQuantity: 2, IsActive: true,
		}),
		gateway: &stubGateway{paid: map[string]string{}, owners: map[string]string{}},
		auth:    auth.NewVerifier("test-secret", "admin"),
	}
	log := zerolog.Nop()
	m := metrics.New("test", prometheus.NewRegistry())
	svc := orders.NewService(e.store, e.gateway, nil, log, orders.WithMetrics(m))
	co := checkout.New(e.store, svc, e.gateway, checkout.Config{Currency: "thb", BaseURL: "https://shop.example"}, m, log)
	d := Deps{Log: log, Metrics: m, Auth: e.auth, Checkout: co, Orders: svc}
	for _, o := range opts {
		o(&d)
	}
	e.router = NewRouter(d)
	return e
}

func (e *env) token(sub, role string) string {
	tok, err := e.auth.Sign(sub, role, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const cartX2 = `{"items":[{"productId":"x","quantity":2}]}`

func TestCardCheckoutThenComplete(t *testing.T) {
	e := newEnv(t)
	buyer := e.token("buyer-1", "")

	rec := e.do(http.MethodPost, "/checkout/card", buyer, cartX2)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[checkout.CardResult](t, rec)
	assert.Regexp(t, orders.OrderNumberPattern, res.OrderNumber)
	require.NotEmpty(t, res.SessionID)

	rec = e.do(http.MethodGet, "/orders/"+res.OrderNumber, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[orders.Order](t, rec)
	assert.True(t, decimal.NewFromInt(2000).Equal(v.TotalAmount))
	assert.Equal(t, orders.StateNew, v.State())

	o, err := e.store.ByNumber(context.Background(), res.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, o.GatewaySessionID)

	// not yet paid
	body := `{"sessionId":"` + res.SessionID + `","orderId":"` + o.ID + `"}`
	rec = e.do(http.MethodPost, "/orders/complete", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "payment_not_completed", decode[errorBody](t, rec).Error)

	e.gateway.paid[res.SessionID] = "pi_123"
	rec = e.do(http.MethodPost, "/orders/complete", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[completeResp](t, rec)
	assert.True(t, done.Success)
	assert.Equal(t, res.OrderNumber, done.OrderNumber)

	v = decode[orders.Order](t, e.do(http.MethodGet, "/orders/"+res.OrderNumber, "", ""))
	assert.Equal(t, orders.StatePaid, v.State())
	o, err = e.store.ByNumber(context.Background(), res.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", o.PaymentIntentID)
}

func TestPublicOrderHidesInternalFields(t *testing.T) {
	e := newEnv(t)
	res := decode[checkout.CardResult](t, e.do(http.MethodPost, "/checkout/card", e.token("buyer-1", ""), cartX2))
	e.gateway.paid[res.SessionID] = "pi_123"
	o, err := e.store.ByNumber(context.Background(), res.OrderNumber)
	require.NoError(t, err)
	rec := e.do(http.MethodPost, "/orders/complete", "", `{"sessionId":"`+res.SessionID+`","orderId":"`+o.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decode[map[string]any](t, e.do(http.MethodGet, "/orders/"+res.OrderNumber, "", ""))
	for _, k := range []string{"id", "buyerId", "gatewaySessionId", "paymentIntentId"} {
		assert.NotContains(t, view, k)
	}
	for _, k := range []string{"orderNumber", "status", "paymentStatus", "totalAmount", "currency", "items", "notes", "createdAt", "updatedAt"} {
		assert.Contains(t, view, k)
	}
}

func TestCompleteRejectsSessionOfAnotherOrder(t *testing.T) {
	e := newEnv(t)
	buyer := e.token("buyer-1", "")
	card := decode[checkout.CardResult](t, e.do(http.MethodPost, "/checkout/card", buyer, `{"items":[{"productId":"x","quantity":1}]}`))
	manual := decode[checkout.ManualResult](t, e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`))
	e.gateway.paid[card.SessionID] = "pi_cheap"

	rec := e.do(http.MethodPost, "/orders/complete", "", `{"sessionId":"`+card.SessionID+`","orderId":"`+manual.OrderID+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	o, err := e.store.ByNumber(context.Background(), manual.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, orders.StateNew, o.State())
	assert.Empty(t, o.PaymentIntentID)
}

func TestCompleteViaRedirectQuery(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/checkout/card", e.token("buyer-1", ""), cartX2)
	res := decode[checkout.CardResult](t, rec)
	o, err := e.store.ByNumber(context.Background(), res.OrderNumber)
	require.NoError(t, err)
	e.gateway.paid[res.SessionID] = "pi_9"

	rec = e.do(http.MethodPost, "/orders/complete?session_id="+res.SessionID+"&order_id="+o.ID, "", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCompleteErrors(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/orders/complete", "", `{"sessionId":"cs_1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/orders/complete", "", `{"sessionId":"cs_1","orderId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodPost, "/orders/complete", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualCheckout(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/checkout/manual", e.token("buyer-1", ""), cartX2)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[checkout.ManualResult](t, rec)
	assert.True(t, decimal.NewFromInt(2000).Equal(res.TotalAmount))

	o := decode[orders.Order](t, e.do(http.MethodGet, "/orders/"+res.OrderNumber, "", ""))
	assert.Equal(t, checkout.ManualPaymentNote, o.Notes)
	stored, err := e.store.ByNumber(context.Background(), res.OrderNumber)
	require.NoError(t, err)
	assert.Empty(t, stored.GatewaySessionID)
	assert.Equal(t, 0, e.gateway.created)
}

func TestCheckoutFailures(t *testing.T) {
	e := newEnv(t)
	buyer := e.token("buyer-1", "")

	rec := e.do(http.MethodPost, "/checkout/card", "", cartX2)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/checkout/card", "garbage.token.here", cartX2)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/checkout/card", buyer, `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/checkout/card", buyer, `[`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/checkout/card", buyer, `{"items":[{"productId":"x","quantity":5}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	eb := decode[errorBody](t, rec)
	assert.Equal(t, "product_unavailable", eb.Error)
	assert.Equal(t, "x", eb.ProductID)
	assert.Equal(t, orders.ReasonInsufficientStock, eb.Reason)
	assert.Zero(t, e.store.Count())

	e.gateway.err = errors.New("stripe down")
	rec = e.do(http.MethodPost, "/checkout/card", buyer, cartX2)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	p, _ := e.store.Product("x")
	assert.Equal(t, 2, p.StockQuantity)
}

func TestGetOrderNotFound(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/orders/ORD-00000000-000", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/orders/not-an-order", "", "").Code)
}

func TestAdminOverride(t *testing.T) {
	e := newEnv(t)
	res := decode[checkout.ManualResult](t, e.do(http.MethodPost, "/checkout/manual", e.token("buyer-1", ""), cartX2))
	path := "/orders/" + res.OrderNumber
	body := `{"status":"completed","paymentStatus":"refunded","notes":"returned in store"}`

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPut, path, "", body).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, path, e.token("buyer-1", ""), body).Code)

	admin := e.token("staff-1", "admin")
	rec := e.do(http.MethodPut, path, admin, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[overrideResp](t, rec)
	assert.Equal(t, "Order updated", out.Message)
	assert.Equal(t, orders.StatusCompleted, out.Order.Status)

	o := decode[orders.Order](t, e.do(http.MethodGet, path, "", ""))
	assert.Equal(t, orders.StatusCompleted, o.Status)
	assert.Equal(t, orders.PaymentRefunded, o.PaymentStatus)
	assert.Equal(t, "returned in store", o.Notes)

	audit := e.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "staff-1", audit[0].Actor)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, path, admin, `{"status":"shipped"}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, path, admin, `{}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPut, "/orders/ORD-00000000-000", admin, body).Code)
}

func TestListMine(t *testing.T) {
	e := newEnv(t)
	buyer := e.token("buyer-1", "")
	e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`)
	e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`)

	rec := e.do(http.MethodGet, "/orders/mine", buyer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[orders.Page](t, rec)
	assert.Len(t, page.Orders, 2)
	assert.Equal(t, 2, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.TotalPages)

	rec = e.do(http.MethodGet, "/orders/mine?status=completed", buyer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"orders":[]`)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/orders/mine?status=lost", buyer, "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/orders/mine", "", "").Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/orders/mine?buyer=buyer-2", buyer, "").Code)

	rec = e.do(http.MethodGet, "/orders/mine?buyer=buyer-1", e.token("staff-1", "admin"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[orders.Page](t, rec).Orders, 2)
}

func TestIdempotentCheckoutReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	e := newEnv(t, func(d *Deps) { d.Idem = redisx.NewIdempotency(rdb) })
	buyer := e.token("buyer-1", "")

	first := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, e.store.Count())

	// a failed attempt does not consume the key
	fail := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":9}]}`, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusConflict, fail.Code)
	retry := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Empty(t, retry.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 2, e.store.Count())
}

func TestCheckoutRateLimited(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.RatePerSec, d.Burst = 0.001, 1 })
	buyer := e.token("buyer-1", "")

	assert.NotEqual(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[]}`).Code)
	rec := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// other routes are not limited
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/orders/ORD-00000000-000", "", "").Code)
}

func TestCheckoutRateLimitIgnoresForwardedFor(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.RatePerSec, d.Burst = 0.001, 1 })

	var codes []int
	for _, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		codes = append(codes, e.do(http.MethodPost, "/checkout/manual", "", `{"items":[]}`, "X-Forwarded-For", ip, "X-Real-IP", ip).Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestCheckoutRateLimitPerBuyer(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.RatePerSec, d.Burst = 0.001, 1 })

	assert.NotEqual(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/checkout/manual", e.token("buyer-1", ""), `{"items":[]}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/checkout/manual", e.token("buyer-1", ""), `{"items":[]}`).Code)
	// same address, different buyer
	assert.NotEqual(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/checkout/manual", e.token("buyer-2", ""), `{"items":[]}`).Code)
}

func TestCheckoutTrustsProxyHeadersWhenConfigured(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.RatePerSec, d.Burst, d.TrustProxyHeaders = 0.001, 1, true })

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/checkout/manual", "", `{"items":[]}`, "X-Forwarded-For", "203.0.113.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/checkout/manual", "", `{"items":[]}`, "X-Forwarded-For", "203.0.113.1").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/checkout/manual", "", `{"items":[]}`, "X-Forwarded-For", "203.0.113.2").Code)
}

func TestIdempotencyKeyReusedWithDifferentCart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	e := newEnv(t, func(d *Deps) { d.Idem = redisx.NewIdempotency(rdb) })
	buyer := e.token("buyer-1", "")

	first := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":1}]}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	rec := e.do(http.MethodPost, "/checkout/manual", buyer, `{"items":[{"productId":"x","quantity":2}]}`, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "idempotency_key_reused", decode[errorBody](t, rec).Error)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, e.store.Count())

	// formatting alone does not make a different cart
	same := e.do(http.MethodPost, "/checkout/manual", buyer, `{ "items": [ {"quantity":1, "productId":"x"} ] }`, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusOK, same.Code)
	assert.Equal(t, "true", same.Header().Get("Idempotent-Replayed"))
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("db down") }
	})
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/readyz", "", "").Code)

	e.do(http.MethodGet, "/orders/ORD-00000000-000", "", "")
	rec := e.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/orders/{orderNumber}"`)
}
