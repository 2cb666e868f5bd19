package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/photoid-field/api/internal/services"
)

func newCheckoutRouter(orders services.OrderService) http.Handler {
	return NewRouter(WithPaymentRoutes(NewCheckoutHandlers(orders).Routes))
}

func TestCreateCheckoutSession(t *testing.T) {
	orders := &stubOrderService{
		beginCheckoutFn: func(ctx context.Context, orderID string) (services.CheckoutRedirect, error) {
			if orderID != "ord_1" {
				t.Errorf("orderID = %q, want %q", orderID, "ord_1")
			}
			return services.CheckoutRedirect{
				OrderID:    "ord_1",
				SessionRef: "cs_test_1",
				URL:        "https://checkout.stripe.com/c/pay/cs_test_1",
			}, nil
		},
	}

	router := newCheckoutRouter(orders)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/create-checkout-session?orderId=ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["url"] != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Errorf("url = %v", payload["url"])
	}
}

func TestCreateCheckoutSessionMissingOrderID(t *testing.T) {
	router := newCheckoutRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/create-checkout-session", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreateCheckoutSessionWrongState(t *testing.T) {
	orders := &stubOrderService{
		beginCheckoutFn: func(ctx context.Context, orderID string) (services.CheckoutRedirect, error) {
			return services.CheckoutRedirect{}, services.ErrOrderInvalidState
		},
	}

	router := newCheckoutRouter(orders)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/create-checkout-session?orderId=ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCreateCheckoutSessionNotFound(t *testing.T) {
	orders := &stubOrderService{
		beginCheckoutFn: func(ctx context.Context, orderID string) (services.CheckoutRedirect, error) {
			return services.CheckoutRedirect{}, services.ErrOrderNotFound
		},
	}

	router := newCheckoutRouter(orders)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/create-checkout-session?orderId=ord_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
