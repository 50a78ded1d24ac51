package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/ariefcatur/heirloom-checkout/internal/auth"
	"github.com/ariefcatur/heirloom-checkout/internal/checkout"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
)

type CheckoutHandler struct {
	Checkout *checkout.Orchestrator
	Idem     *redisx.Idempotency // nil disables Idempotency-Key handling
	Limiter  func(http.Handler) http.Handler
}

type checkoutReq struct {
	Items []checkout.Line `json:"items"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(h.Limiter)
		}
		r.Post("/checkout/card", h.submitCard)
		r.Post("/checkout/manual", h.submitManual)
	})
}

func (h *CheckoutHandler) submitCard(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "card", func(ctx context.Context, sub checkout.Submission) (any, error) {
		return h.Checkout.SubmitCard(ctx, sub)
	})
}

func (h *CheckoutHandler) submitManual(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "manual", func(ctx context.Context, sub checkout.Submission) (any, error) {
		return h.Checkout.SubmitManual(ctx, sub)
	})
}

func (h *CheckoutHandler) submit(w http.ResponseWriter, r *http.Request, path string,
	run func(context.Context, checkout.Submission) (any, error)) {
	id := auth.FromContext(r.Context())
	if id.Anonymous() {
		writeError(w, r, orders.ErrUnauthenticated)
		return
	}

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, orders.ErrEmptyCart)
		return
	}
	sub := checkout.Submission{BuyerID: id.Subject, Lines: req.Items}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.Idem == nil {
		res, err := run(ctx, sub)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	// re-encoded so formatting differences do not count as a different cart
	canon, _ := json.Marshal(req.Items)
	fp := redisx.Fingerprint(canon)
	idemKey := redisx.Key(id.Subject, path+":"+key)
	stored, err := h.Idem.Begin(ctx, idemKey, fp)
	switch {
	case errors.Is(err, redisx.ErrInFlight), errors.Is(err, redisx.ErrKeyReused):
		writeError(w, r, err)
		return
	case err != nil:
		// redis trouble must not block checkout; proceed without replay
		hlog.FromRequest(r).Warn().Err(err).Msg("idempotency unavailable")
		idemKey = ""
	case stored != nil:
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
		return
	}

	res, err := run(ctx, sub)
	if err != nil {
		if idemKey != "" {
			_ = h.Idem.Abort(context.WithoutCancel(ctx), idemKey)
		}
		writeError(w, r, err)
		return
	}
	body, _ := json.Marshal(res)
	if idemKey != "" {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), idemKey, fp, redisx.Response{Status: http.StatusOK, Body: body}); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("store idempotent response")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
