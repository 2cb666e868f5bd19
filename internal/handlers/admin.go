package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/photoid-field/api/internal/platform/httpx"
	"github.com/photoid-field/api/internal/services"
)

const maxAdminRequestBody = 8 * 1024

// AdminHandlers exposes the review endpoints used by the operator dashboard:
// listing paid orders and settling each one by approval or rejection.
type AdminHandlers struct {
	orders services.OrderService
}

// NewAdminHandlers constructs the review handlers.
func NewAdminHandlers(orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{orders: orders}
}

// Routes registers admin endpoints under the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderId}/approve", h.approveOrder)
	r.Post("/orders/{orderId}/reject", h.rejectOrder)
}

type orderPayload struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	OriginalFilename  string            `json:"originalFilename,omitempty"`
	PaymentSessionRef string            `json:"paymentSessionRef,omitempty"`
	PaymentIntentRef  string            `json:"paymentIntentRef,omitempty"`
	PrintPartnerRef   string            `json:"printPartnerRef,omitempty"`
	RejectionReason   string            `json:"rejectionReason,omitempty"`
	Recipient         *recipientPayload `json:"recipient,omitempty"`
	CreatedAt         string            `json:"createdAt,omitempty"`
	UpdatedAt         string            `json:"updatedAt,omitempty"`
}

type recipientPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type reviewableOrderPayload struct {
	orderPayload
	OriginalURL  string `json:"originalUrl,omitempty"`
	ValidatedURL string `json:"validatedUrl,omitempty"`
}

type listOrdersResponse struct {
	Orders []reviewableOrderPayload `json:"orders"`
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	reviewable, err := h.orders.ListReviewable(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := listOrdersResponse{Orders: make([]reviewableOrderPayload, 0, len(reviewable))}
	for _, item := range reviewable {
		payload.Orders = append(payload.Orders, reviewableOrderPayload{
			orderPayload: encodeOrderPayload(item.Order),
			OriginalURL:  item.OriginalURL,
			ValidatedURL: item.ValidatedURL,
		})
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminHandlers) approveOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Approve(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, encodeOrderPayload(order))
}

func (h *AdminHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req rejectOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Reject(ctx, services.RejectOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, encodeOrderPayload(order))
}

func encodeOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		Status:            string(order.Status),
		OriginalFilename:  order.OriginalFilename,
		PaymentSessionRef: order.PaymentSessionRef,
		PaymentIntentRef:  order.PaymentIntentRef,
		PrintPartnerRef:   order.PrintPartnerRef,
		RejectionReason:   order.RejectionReason,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
	if order.Recipient != nil {
		payload.Recipient = &recipientPayload{
			Name:       order.Recipient.Name,
			Line1:      order.Recipient.Line1,
			Line2:      order.Recipient.Line2,
			City:       order.Recipient.City,
			State:      order.Recipient.State,
			PostalCode: order.Recipient.PostalCode,
			Country:    order.Recipient.Country,
			Phone:      order.Recipient.Phone,
		}
	}
	return payload
}
