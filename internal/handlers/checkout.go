package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/photoid-field/api/internal/platform/httpx"
	"github.com/photoid-field/api/internal/services"
)

// CheckoutHandlers exposes the endpoint that opens a hosted payment session
// for a validated order.
type CheckoutHandlers struct {
	orders services.OrderService
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(orders services.OrderService) *CheckoutHandlers {
	return &CheckoutHandlers{orders: orders}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/create-checkout-session", h.createSession)
}

type checkoutSessionResponse struct {
	URL string `json:"url"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId query parameter is required", http.StatusBadRequest))
		return
	}

	redirect, err := h.orders.BeginCheckout(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{URL: redirect.URL})
}
