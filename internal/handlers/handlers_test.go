package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/photoid-field/api/internal/domain"
	"github.com/photoid-field/api/internal/services"
)

type stubOrderService struct {
	quickCheckFn          func(ctx context.Context, cmd services.QuickCheckCommand) (services.QuickCheckResult, error)
	validateFn            func(ctx context.Context, orderID string) (services.ValidationResult, error)
	beginCheckoutFn       func(ctx context.Context, orderID string) (services.CheckoutRedirect, error)
	handleCheckoutEventFn func(ctx context.Context, event services.CheckoutEvent) error
	listReviewableFn      func(ctx context.Context) ([]services.ReviewableOrder, error)
	approveFn             func(ctx context.Context, orderID string) (services.Order, error)
	rejectFn              func(ctx context.Context, cmd services.RejectOrderCommand) (services.Order, error)
}

func (s *stubOrderService) QuickCheck(ctx context.Context, cmd services.QuickCheckCommand) (services.QuickCheckResult, error) {
	if s.quickCheckFn != nil {
		return s.quickCheckFn(ctx, cmd)
	}
	return services.QuickCheckResult{}, errors.New("quickCheckFn not configured")
}

func (s *stubOrderService) Validate(ctx context.Context, orderID string) (services.ValidationResult, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, orderID)
	}
	return services.ValidationResult{}, errors.New("validateFn not configured")
}

func (s *stubOrderService) BeginCheckout(ctx context.Context, orderID string) (services.CheckoutRedirect, error) {
	if s.beginCheckoutFn != nil {
		return s.beginCheckoutFn(ctx, orderID)
	}
	return services.CheckoutRedirect{}, errors.New("beginCheckoutFn not configured")
}

func (s *stubOrderService) HandleCheckoutEvent(ctx context.Context, event services.CheckoutEvent) error {
	if s.handleCheckoutEventFn != nil {
		return s.handleCheckoutEventFn(ctx, event)
	}
	return errors.New("handleCheckoutEventFn not configured")
}

func (s *stubOrderService) ListReviewable(ctx context.Context) ([]services.ReviewableOrder, error) {
	if s.listReviewableFn != nil {
		return s.listReviewableFn(ctx)
	}
	return nil, errors.New("listReviewableFn not configured")
}

func (s *stubOrderService) Approve(ctx context.Context, orderID string) (services.Order, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, orderID)
	}
	return services.Order{}, errors.New("approveFn not configured")
}

func (s *stubOrderService) Reject(ctx context.Context, cmd services.RejectOrderCommand) (services.Order, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.Order{}, errors.New("rejectFn not configured")
}

type stubSystemService struct {
	healthFn func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubSystemService) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return domain.SystemHealthReport{Status: domain.HealthStatusOK, GeneratedAt: time.Now()}, nil
}
