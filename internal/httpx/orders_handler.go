package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/heirloom-checkout/internal/auth"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
)

type OrdersHandler struct {
	Orders *orders.Service
}

type completeReq struct {
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
}

type completeResp struct {
	Success     bool   `json:"success"`
	OrderNumber string `json:"orderNumber"`
}

// orderView is the public projection of an order. Internal ids and payment
// references stay out of it.
type orderView struct {
	OrderNumber   string               `json:"orderNumber"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus"`
	PaymentMethod orders.PaymentMethod `json:"paymentMethod"`
	TotalAmount   decimal.Decimal      `json:"totalAmount"`
	Currency      string               `json:"currency"`
	Items         []orders.LineItem    `json:"items"`
	Notes         string               `json:"notes"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func viewOf(o *orders.Order) orderView {
	return orderView{
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		Items:         o.Items,
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type overrideReq struct {
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus"`
	Notes         *string              `json:"notes"`
}

type overrideResp struct {
	Message string        `json:"message"`
	Order   *orders.Order `json:"order"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/complete", h.complete)
	r.Get("/orders/mine", h.listMine)
	r.Get("/orders/{orderNumber}", h.getOrder)
	r.With(requireAdmin).Put("/orders/{orderNumber}", h.override)
}

// complete accepts the ids as JSON or as the query parameters the payment
// page redirects back with.
func (h *OrdersHandler) complete(w http.ResponseWriter, r *http.Request) {
	req := completeReq{
		SessionID: r.URL.Query().Get("session_id"),
		OrderID:   r.URL.Query().Get("order_id"),
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.ConfirmPayment(ctx, req.SessionID, req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResp{Success: true, OrderNumber: o.OrderNumber})
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id.Anonymous() {
		writeError(w, r, orders.ErrUnauthenticated)
		return
	}
	q := r.URL.Query()
	buyer := q.Get("buyer")
	if buyer == "" {
		buyer = id.Subject
	}
	if buyer != id.Subject && !id.Admin {
		writeError(w, r, orders.ErrForbidden)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Orders.ListMine(ctx, orders.ListQuery{
		BuyerID:  buyer,
		Status:   orders.Status(q.Get("status")),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")
	if !orders.OrderNumberPattern.MatchString(number) {
		writeError(w, r, orders.ErrNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

func (h *OrdersHandler) override(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")
	var req overrideReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Status == "" && req.PaymentStatus == "" && req.Notes == nil {
		badRequest(w, "nothing to update")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Override(ctx, number, orders.Override{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		Notes:         req.Notes,
		Actor:         auth.FromContext(r.Context()).Subject,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overrideResp{Message: "Order updated", Order: o})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		switch {
		case id.Anonymous():
			writeError(w, r, orders.ErrUnauthenticated)
		case !id.Admin:
			writeError(w, r, orders.ErrForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
