package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/photoid-field/api/internal/payments"
	"github.com/photoid-field/api/internal/platform/httpx"
	"github.com/photoid-field/api/internal/platform/requestctx"
	"github.com/photoid-field/api/internal/services"

	"go.uber.org/zap"
)

// Stripe documents webhook payloads up to 64KiB; anything larger is not ours.
const maxWebhookBody = 64 * 1024

const stripeSignatureHeader = "Stripe-Signature"

// WebhookHandlers receives payment provider callbacks. Every non-2xx response
// causes the provider to redeliver, so only genuinely retryable failures may
// return an error status.
type WebhookHandlers struct {
	orders        services.OrderService
	webhookSecret string
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(orders services.OrderService, webhookSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		orders:        orders,
		webhookSecret: webhookSecret,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read webhook payload", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := payments.VerifyWebhook(payload, r.Header.Get(stripeSignatureHeader), h.webhookSecret)
	if err != nil {
		requestctx.Logger(ctx).Warn("webhook signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	checkoutEvent, relevant, err := payments.ParseCheckoutEvent(event)
	if err != nil {
		requestctx.Logger(ctx).Error("webhook payload malformed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload malformed", http.StatusBadRequest))
		return
	}
	if !relevant {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err := h.orders.HandleCheckoutEvent(ctx, checkoutEvent); err != nil {
		requestctx.Logger(ctx).Error("webhook settlement failed",
			zap.String("event_type", string(event.Type)),
			zap.String("order_id", checkoutEvent.OrderID),
			zap.Error(err),
		)
		// Non-2xx makes the provider retry; an out-of-order delivery can land
		// once the order catches up.
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		case errors.Is(err, services.ErrOrderInvalidState):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", "order is not ready for settlement", http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to settle payment event", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
