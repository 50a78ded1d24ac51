package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/ariefcatur/heirloom-checkout/internal/orders"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"productId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

// statusFor maps a domain error onto an HTTP status and a stable error code.
func statusFor(err error) (int, errorBody) {
	var ue *orders.UnavailableError
	var ge *orders.GatewayError
	switch {
	case errors.As(err, &ue):
		return http.StatusConflict, errorBody{Error: "product_unavailable", Message: ue.Error(), ProductID: ue.ProductID, Reason: ue.Reason}
	case errors.As(err, &ge):
		return http.StatusBadGateway, errorBody{Error: "payment_gateway", Message: "payment provider unavailable, please try again"}
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()}
	case errors.Is(err, orders.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: err.Error()}
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden", Message: err.Error()}
	case errors.Is(err, orders.ErrPaymentNotCompleted):
		return http.StatusBadRequest, errorBody{Error: "payment_not_completed", Message: err.Error()}
	case errors.Is(err, orders.ErrSessionMismatch):
		return http.StatusBadRequest, errorBody{Error: "session_mismatch", Message: err.Error()}
	case errors.Is(err, orders.ErrEmptyCart),
		errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrMissingParams),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrInvalidMethod):
		return http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrStateConflict):
		return http.StatusConflict, errorBody{Error: "invalid_state", Message: err.Error()}
	case errors.Is(err, redisx.ErrKeyReused):
		return http.StatusUnprocessableEntity, errorBody{Error: "idempotency_key_reused", Message: err.Error()}
	case errors.Is(err, redisx.ErrInFlight):
		return http.StatusConflict, errorBody{Error: "duplicate_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := statusFor(err)
	lvl := hlog.FromRequest(r).Debug()
	if code >= 500 {
		lvl = hlog.FromRequest(r).Error()
	}
	lvl.Err(err).Int("status", code).Msg("request failed")
	writeJSON(w, code, body)
}
