package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/photoid-field/api/internal/domain"
	"github.com/photoid-field/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	actorCustomer   = "customer"
	actorPSPWebhook = "psp-webhook"
	actorAdmin      = "admin"

	defaultReviewListLimit = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order is not in a status that permits the operation.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent mutation collided with this request.
	ErrOrderConflict = errors.New("order: conflict")
)

// statusesAtOrPastPayment holds every status an order can only reach after
// payment settled. A webhook precondition mismatch landing here is a duplicate
// delivery, not an out-of-order one.
var statusesAtOrPastPayment = map[domain.OrderStatus]bool{
	domain.OrderStatusCheckoutCompleted:           true,
	domain.OrderStatusFamilinkOrderCreated:        true,
	domain.OrderStatusFamilinkOrderCreationFailed: true,
	domain.OrderStatusRejected:                    true,
	domain.OrderStatusRefundSucceeded:             true,
	domain.OrderStatusRefundFailed:                true,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Photos      PhotoStore
	Checker     PhotoChecker
	Payments    CheckoutGateway
	Fulfillment FulfillmentGateway
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	photos      PhotoStore
	checker     PhotoChecker
	payments    CheckoutGateway
	fulfillment FulfillmentGateway
	events      OrderEventPublisher
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Photos == nil {
		return nil, errors.New("order service: photo store is required")
	}
	if deps.Checker == nil {
		return nil, errors.New("order service: photo checker is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: checkout gateway is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("order service: fulfillment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		photos:      deps.Photos,
		checker:     deps.Checker,
		payments:    deps.Payments,
		fulfillment: deps.Fulfillment,
		events:      deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// QuickCheck creates a new order, stores the uploaded photo and runs the fast
// face-count pre-screen. A photo that fails the pre-screen is a successful call
// with Report.Success false; only infrastructure faults return an error.
func (s *orderService) QuickCheck(ctx context.Context, cmd QuickCheckCommand) (QuickCheckResult, error) {
	if cmd.Photo == nil {
		return QuickCheckResult{}, fmt.Errorf("%w: photo payload is required", ErrOrderInvalidInput)
	}
	filename := strings.TrimSpace(cmd.Filename)
	if filename == "" {
		return QuickCheckResult{}, fmt.Errorf("%w: filename is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order := domain.Order{
		ID:               s.newID(),
		Status:           domain.OrderStatusCreated,
		OriginalFilename: filename,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return QuickCheckResult{}, s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, order.ID, order.Status, "", actorCustomer)

	if err := s.photos.PutOriginal(ctx, order.ID, cmd.ContentType, cmd.Photo); err != nil {
		return QuickCheckResult{}, fmt.Errorf("order %s: store original photo: %w", order.ID, err)
	}

	order, err := s.transition(ctx, order.ID, []domain.OrderStatus{domain.OrderStatusCreated}, domain.OrderStatusOriginalUploaded, actorCustomer, nil)
	if err != nil {
		return QuickCheckResult{}, err
	}

	report, err := s.checker.QuickCheck(ctx, order.ID)
	if err != nil {
		if _, terr := s.transition(ctx, order.ID, []domain.OrderStatus{domain.OrderStatusOriginalUploaded}, domain.OrderStatusQuickCheckFailed, actorCustomer, nil); terr != nil {
			s.logger(ctx, "order.quick_check.fail_transition_error", map[string]any{
				"order": order.ID,
				"error": terr.Error(),
			})
		}
		return QuickCheckResult{}, fmt.Errorf("order %s: quick check: %w", order.ID, err)
	}

	target := domain.OrderStatusQuickCheckCompleted
	if !report.Success {
		target = domain.OrderStatusQuickCheckFailed
	}
	order, err = s.transition(ctx, order.ID, []domain.OrderStatus{domain.OrderStatusOriginalUploaded}, target, actorCustomer, nil)
	if err != nil {
		return QuickCheckResult{}, err
	}

	return QuickCheckResult{
		OrderID:  order.ID,
		Report:   report,
		ImageURL: s.signOriginalURL(ctx, order.ID),
	}, nil
}

// Validate runs the full compliance validation for an order that passed the
// pre-screen. The remote service stores the processed photo alongside the
// original on success.
func (s *orderService) Validate(ctx context.Context, orderID string) (ValidationResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ValidationResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.transition(ctx, orderID, []domain.OrderStatus{domain.OrderStatusQuickCheckCompleted}, domain.OrderStatusValidationStarted, actorCustomer, nil)
	if err != nil {
		return ValidationResult{}, err
	}

	report, err := s.checker.Validate(ctx, orderID)
	if err != nil {
		if _, terr := s.transition(ctx, orderID, []domain.OrderStatus{domain.OrderStatusValidationStarted}, domain.OrderStatusValidationFailed, actorCustomer, nil); terr != nil {
			s.logger(ctx, "order.validation.fail_transition_error", map[string]any{
				"order": orderID,
				"error": terr.Error(),
			})
		}
		return ValidationResult{}, fmt.Errorf("order %s: validate photo: %w", orderID, err)
	}

	target := domain.OrderStatusValidationCompleted
	if !report.Success {
		target = domain.OrderStatusValidationFailed
	}
	order, err = s.transition(ctx, orderID, []domain.OrderStatus{domain.OrderStatusValidationStarted}, target, actorCustomer, nil)
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{OrderID: order.ID, Report: report}
	if report.Success {
		result.ImageURL = s.signValidatedURL(ctx, order.ID)
	}
	return result, nil
}

// BeginCheckout opens a hosted payment session for a validated order. The
// session is created before the status flips so a provider outage never
// strands an order in checkout_started without a session.
func (s *orderService) BeginCheckout(ctx context.Context, orderID string) (CheckoutRedirect, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CheckoutRedirect{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CheckoutRedirect{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusValidationCompleted {
		return CheckoutRedirect{}, fmt.Errorf("%w: order %s is %s, checkout requires %s",
			ErrOrderInvalidState, orderID, order.Status, domain.OrderStatusValidationCompleted)
	}

	session, err := s.payments.CreateSession(ctx, orderID)
	if err != nil {
		return CheckoutRedirect{}, fmt.Errorf("order %s: create checkout session: %w", orderID, err)
	}

	order, err = s.transition(ctx, orderID, []domain.OrderStatus{domain.OrderStatusValidationCompleted}, domain.OrderStatusCheckoutStarted, actorCustomer, func(o *domain.Order) {
		o.PaymentSessionRef = session.SessionRef
	})
	if err != nil {
		return CheckoutRedirect{}, err
	}

	return CheckoutRedirect{
		OrderID:    order.ID,
		SessionRef: session.SessionRef,
		URL:        session.URL,
	}, nil
}

// HandleCheckoutEvent settles an order when the payment provider reports a paid
// session. Deliveries are at-least-once and unordered: a mismatch against an
// order that already settled is acknowledged as a duplicate, a mismatch against
// an order that never started checkout is rejected so the provider retries.
// A paid session carrying no payment intent is acknowledged without settling:
// an order settled without an intent reference could never be refunded on
// rejection, and redelivery would carry the same payload.
func (s *orderService) HandleCheckoutEvent(ctx context.Context, event CheckoutEvent) error {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		s.logger(ctx, "order.checkout_event.no_order_reference", map[string]any{
			"kind":    event.Kind,
			"session": event.SessionRef,
		})
		return nil
	}
	if !event.Paid {
		s.logger(ctx, "order.checkout_event.unpaid_ignored", map[string]any{
			"order": orderID,
			"kind":  event.Kind,
		})
		return nil
	}
	intentRef := strings.TrimSpace(event.IntentRef)
	if intentRef == "" {
		s.logger(ctx, "order.checkout_event.no_payment_intent", map[string]any{
			"order":   orderID,
			"kind":    event.Kind,
			"session": event.SessionRef,
		})
		return nil
	}

	_, err := s.transition(ctx, orderID, []domain.OrderStatus{domain.OrderStatusCheckoutStarted}, domain.OrderStatusCheckoutCompleted, actorPSPWebhook, func(o *domain.Order) {
		if event.SessionRef != "" {
			o.PaymentSessionRef = event.SessionRef
		}
		o.PaymentIntentRef = intentRef
		if event.Recipient != nil {
			recipient := *event.Recipient
			o.Recipient = &recipient
		}
	})
	if err == nil {
		return nil
	}

	var mismatch *repositories.StatusMismatchError
	if errors.As(err, &mismatch) && statusesAtOrPastPayment[mismatch.Actual] {
		s.logger(ctx, "order.checkout_event.duplicate_delivery", map[string]any{
			"order":  orderID,
			"kind":   event.Kind,
			"status": string(mismatch.Actual),
		})
		return nil
	}
	return err
}

// ListReviewable returns orders awaiting operator review with freshly signed
// photo URLs. Orders whose print submission failed stay in the queue so the
// operator can retry the approval.
func (s *orderService) ListReviewable(ctx context.Context) ([]ReviewableOrder, error) {
	var orders []domain.Order
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusCheckoutCompleted,
		domain.OrderStatusFamilinkOrderCreationFailed,
	} {
		batch, err := s.orders.ListByStatus(ctx, status, defaultReviewListLimit)
		if err != nil {
			return nil, s.mapRepositoryError(err)
		}
		orders = append(orders, batch...)
	}

	reviewable := make([]ReviewableOrder, 0, len(orders))
	for _, order := range orders {
		reviewable = append(reviewable, ReviewableOrder{
			Order:        order,
			OriginalURL:  s.signOriginalURL(ctx, order.ID),
			ValidatedURL: s.signValidatedURL(ctx, order.ID),
		})
	}
	return reviewable, nil
}

// Approve submits a paid order to the print partner. A previously failed
// submission may be retried from familink_order_creation_failed.
func (s *orderService) Approve(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	approvable := []domain.OrderStatus{
		domain.OrderStatusCheckoutCompleted,
		domain.OrderStatusFamilinkOrderCreationFailed,
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !statusIn(order.Status, approvable) {
		return Order{}, fmt.Errorf("%w: order %s is %s, approval requires a paid order",
			ErrOrderInvalidState, orderID, order.Status)
	}
	if order.Recipient == nil || !order.Recipient.Complete() {
		return Order{}, fmt.Errorf("%w: order %s has no usable shipping recipient", ErrOrderInvalidState, orderID)
	}

	photoURL, err := s.photos.SignedValidatedURL(ctx, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: sign validated photo: %w", orderID, err)
	}

	partnerRef, err := s.fulfillment.SubmitOrder(ctx, PrintSubmission{
		OrderID:   orderID,
		PhotoURL:  photoURL,
		Recipient: *order.Recipient,
	})
	if err != nil {
		if _, terr := s.transition(ctx, orderID, approvable, domain.OrderStatusFamilinkOrderCreationFailed, actorAdmin, nil); terr != nil {
			s.logger(ctx, "order.approve.fail_transition_error", map[string]any{
				"order": orderID,
				"error": terr.Error(),
			})
		}
		return Order{}, fmt.Errorf("order %s: submit print order: %w", orderID, err)
	}

	return s.transition(ctx, orderID, approvable, domain.OrderStatusFamilinkOrderCreated, actorAdmin, func(o *domain.Order) {
		o.PrintPartnerRef = partnerRef
	})
}

// Reject records an operator rejection and refunds the captured payment. A
// refund that failed may be retried by rejecting the order again.
func (s *orderService) Reject(ctx context.Context, cmd RejectOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: rejection reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	// A rejected order whose refund failed may be retried.
	rejectable := []domain.OrderStatus{
		domain.OrderStatusCheckoutCompleted,
		domain.OrderStatusRejected,
		domain.OrderStatusRefundFailed,
	}
	if !statusIn(order.Status, rejectable) {
		return Order{}, fmt.Errorf("%w: order %s is %s, rejection requires a paid order",
			ErrOrderInvalidState, orderID, order.Status)
	}
	// Checked before the rejected transition so an order never strands in
	// rejected with nothing to refund.
	if order.PaymentIntentRef == "" {
		return Order{}, fmt.Errorf("%w: order %s has no payment to refund", ErrOrderInvalidState, orderID)
	}

	if order.Status == domain.OrderStatusCheckoutCompleted {
		order, err = s.transition(ctx, orderID, []domain.OrderStatus{domain.OrderStatusCheckoutCompleted}, domain.OrderStatusRejected, actorAdmin, func(o *domain.Order) {
			o.RejectionReason = reason
		})
		if err != nil {
			return Order{}, err
		}
	}

	refundable := []domain.OrderStatus{domain.OrderStatusRejected, domain.OrderStatusRefundFailed}
	if _, err := s.payments.Refund(ctx, order.PaymentIntentRef); err != nil {
		if _, terr := s.transition(ctx, orderID, refundable, domain.OrderStatusRefundFailed, actorAdmin, nil); terr != nil {
			s.logger(ctx, "order.reject.refund_transition_error", map[string]any{
				"order": orderID,
				"error": terr.Error(),
			})
		}
		return Order{}, fmt.Errorf("order %s: refund payment: %w", orderID, err)
	}

	return s.transition(ctx, orderID, refundable, domain.OrderStatusRefundSucceeded, actorAdmin, nil)
}

// transition runs a guarded status change and publishes the lifecycle event.
// Precondition failures carry both ErrOrderInvalidState and the underlying
// StatusMismatchError so callers can classify duplicates by actual status.
func (s *orderService) transition(ctx context.Context, orderID string, expected []domain.OrderStatus, target domain.OrderStatus, actor string, apply func(*domain.Order)) (domain.Order, error) {
	var previous domain.OrderStatus
	order, err := s.orders.Transition(ctx, orderID, expected, func(o *domain.Order) error {
		previous = o.Status
		o.Status = target
		if apply != nil {
			apply(o)
		}
		return nil
	})
	if err != nil {
		var mismatch *repositories.StatusMismatchError
		if errors.As(err, &mismatch) {
			return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidState, mismatch)
		}
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderID, target, previous, actor)
	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, orderID string, status, previous domain.OrderStatus, actor string) {
	if s.events == nil {
		return
	}
	message := OrderEventMessage{
		OrderID:        orderID,
		Status:         string(status),
		PreviousStatus: string(previous),
		Actor:          actor,
		Terminal:       status.Terminal(),
		OccurredAt:     s.clock(),
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"order":  orderID,
			"status": string(status),
			"error":  err.Error(),
		})
	}
}

func (s *orderService) signOriginalURL(ctx context.Context, orderID string) string {
	url, err := s.photos.SignedOriginalURL(ctx, orderID)
	if err != nil {
		s.logger(ctx, "order.photo.sign_original_failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
		return ""
	}
	return url
}

func (s *orderService) signValidatedURL(ctx context.Context, orderID string) string {
	url, err := s.photos.SignedValidatedURL(ctx, orderID)
	if err != nil {
		s.logger(ctx, "order.photo.sign_validated_failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
		return ""
	}
	return url
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func statusIn(status domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}
