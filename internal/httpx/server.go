package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/ariefcatur/heirloom-checkout/internal/auth"
	"github.com/ariefcatur/heirloom-checkout/internal/checkout"
	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
)

type Deps struct {
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Auth     *auth.Verifier
	Checkout *checkout.Orchestrator
	Orders   *orders.Service
	Idem     *redisx.Idempotency
	// RatePerSec and Burst size the per-client checkout limiter; zero disables it.
	RatePerSec float64
	Burst      int
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP set the client address.
	TrustProxyHeaders bool
	// Ready reports dependency health for /readyz.
	Ready func(ctx context.Context) error
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	if d.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(hlog.NewHandler(d.Log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("http")
	}))
	r.Use(middleware.Recoverer)
	r.Use(instrument(d.Metrics))
	r.Use(middleware.Timeout(15 * time.Second))
	if d.Auth != nil {
		r.Use(d.Auth.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("not ready")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	ch := &CheckoutHandler{Checkout: d.Checkout, Idem: d.Idem}
	if d.RatePerSec > 0 {
		burst := d.Burst
		if burst < 1 {
			burst = 1
		}
		ch.Limiter = newIPLimiter(d.RatePerSec, burst).Middleware
	}
	ch.Register(r)
	(&OrdersHandler{Orders: d.Orders}).Register(r)
	return r
}

func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Request(route, r.Method, strconv.Itoa(status), float64(time.Since(start).Milliseconds()))
		})
	}
}
