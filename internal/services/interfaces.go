package services

import (
	"context"
	"io"
	"time"

	domain "github.com/photoid-field/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	Recipient          = domain.Recipient
	QuickCheckReport   = domain.QuickCheckReport
	ValidationReport   = domain.ValidationReport
	ValidationLogs     = domain.ValidationLogs
	CheckLog           = domain.CheckLog
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService orchestrates the print-order lifecycle from photo upload through
// payment, review, and print fulfillment.
type OrderService interface {
	QuickCheck(ctx context.Context, cmd QuickCheckCommand) (QuickCheckResult, error)
	Validate(ctx context.Context, orderID string) (ValidationResult, error)
	BeginCheckout(ctx context.Context, orderID string) (CheckoutRedirect, error)
	HandleCheckoutEvent(ctx context.Context, event CheckoutEvent) error
	ListReviewable(ctx context.Context) ([]ReviewableOrder, error)
	Approve(ctx context.Context, orderID string) (Order, error)
	Reject(ctx context.Context, cmd RejectOrderCommand) (Order, error)
}

// SystemService aggregates dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// QuickCheckCommand carries an uploaded photo into the face-count pre-screen.
type QuickCheckCommand struct {
	Filename    string
	ContentType string
	Photo       io.Reader
}

// QuickCheckResult reports the pre-screen outcome for a freshly created order.
type QuickCheckResult struct {
	OrderID  string
	Report   QuickCheckReport
	ImageURL string
}

// ValidationResult reports the full compliance validation outcome.
type ValidationResult struct {
	OrderID  string
	Report   ValidationReport
	ImageURL string
}

// CheckoutRedirect points the customer at the hosted payment page.
type CheckoutRedirect struct {
	OrderID    string
	SessionRef string
	URL        string
}

// CheckoutEvent is the normalised form of a payment provider webhook delivery.
type CheckoutEvent struct {
	Kind       string
	OrderID    string
	SessionRef string
	IntentRef  string
	Paid       bool
	Recipient  *Recipient
}

// RejectOrderCommand records an operator rejection with its mandatory reason.
type RejectOrderCommand struct {
	OrderID string
	Reason  string
}

// ReviewableOrder pairs a paid order with freshly signed photo URLs for review.
type ReviewableOrder struct {
	Order        Order
	OriginalURL  string
	ValidatedURL string
}

// OrderEventMessage describes a lifecycle transition published for downstream consumers.
type OrderEventMessage struct {
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	Terminal       bool      `json:"terminal"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PhotoStore persists order photos and mints signed read URLs for them.
// Objects are addressed solely by order ID.
type PhotoStore interface {
	PutOriginal(ctx context.Context, orderID string, contentType string, photo io.Reader) error
	SignedOriginalURL(ctx context.Context, orderID string) (string, error)
	SignedValidatedURL(ctx context.Context, orderID string) (string, error)
}

// PhotoChecker invokes the remote validation service. A non-compliant photo is a
// successful call with a negative report; only transport and server faults error.
type PhotoChecker interface {
	QuickCheck(ctx context.Context, orderID string) (QuickCheckReport, error)
	Validate(ctx context.Context, orderID string) (ValidationReport, error)
}

// CheckoutSessionRef identifies a hosted checkout session on the payment provider.
type CheckoutSessionRef struct {
	SessionRef string
	URL        string
}

// CheckoutGateway drives the hosted payment provider.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, orderID string) (CheckoutSessionRef, error)
	Refund(ctx context.Context, paymentIntentRef string) (string, error)
}

// PrintSubmission carries everything the print partner needs for one order.
type PrintSubmission struct {
	OrderID   string
	PhotoURL  string
	Recipient Recipient
}

// FulfillmentGateway submits accepted orders to the print partner.
type FulfillmentGateway interface {
	SubmitOrder(ctx context.Context, sub PrintSubmission) (string, error)
}

// OrderEventPublisher fans lifecycle transitions out to interested consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}
