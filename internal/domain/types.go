package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for print orders.
type OrderStatus string

const (
	// OrderStatusCreated indicates the order record exists but no photo has been stored yet.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusOriginalUploaded indicates the customer's source photo has been persisted.
	OrderStatusOriginalUploaded OrderStatus = "original_uploaded"
	// OrderStatusQuickCheckCompleted indicates the fast face-count screen passed.
	OrderStatusQuickCheckCompleted OrderStatus = "quick_check_completed"
	// OrderStatusQuickCheckFailed indicates the fast face-count screen rejected the photo.
	OrderStatusQuickCheckFailed OrderStatus = "quick_check_failed"
	// OrderStatusValidationStarted indicates the full compliance validation is in flight.
	OrderStatusValidationStarted OrderStatus = "validation_started"
	// OrderStatusValidationCompleted indicates the photo passed full compliance validation.
	OrderStatusValidationCompleted OrderStatus = "validation_completed"
	// OrderStatusValidationFailed indicates full compliance validation rejected the photo.
	OrderStatusValidationFailed OrderStatus = "validation_failed"
	// OrderStatusCheckoutStarted indicates a payment session has been opened for the order.
	OrderStatusCheckoutStarted OrderStatus = "checkout_started"
	// OrderStatusCheckoutCompleted indicates payment settled and the order awaits admin review.
	OrderStatusCheckoutCompleted OrderStatus = "checkout_completed"
	// OrderStatusFamilinkOrderCreated indicates the print order was accepted by the fulfilment partner.
	OrderStatusFamilinkOrderCreated OrderStatus = "familink_order_created"
	// OrderStatusFamilinkOrderCreationFailed indicates the fulfilment partner rejected the submission.
	OrderStatusFamilinkOrderCreationFailed OrderStatus = "familink_order_creation_failed"
	// OrderStatusRejected indicates an admin rejected the paid order and a refund is owed.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusRefundSucceeded indicates the refund for a rejected order settled.
	OrderStatusRefundSucceeded OrderStatus = "refund_succeeded"
	// OrderStatusRefundFailed indicates the refund attempt for a rejected order failed.
	OrderStatusRefundFailed OrderStatus = "refund_failed"
)

// KnownOrderStatuses lists every status the state machine can produce.
var KnownOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusOriginalUploaded,
	OrderStatusQuickCheckCompleted,
	OrderStatusQuickCheckFailed,
	OrderStatusValidationStarted,
	OrderStatusValidationCompleted,
	OrderStatusValidationFailed,
	OrderStatusCheckoutStarted,
	OrderStatusCheckoutCompleted,
	OrderStatusFamilinkOrderCreated,
	OrderStatusFamilinkOrderCreationFailed,
	OrderStatusRejected,
	OrderStatusRefundSucceeded,
	OrderStatusRefundFailed,
}

// Valid reports whether the status is part of the closed lifecycle set.
func (s OrderStatus) Valid() bool {
	for _, known := range KnownOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further lifecycle transition leaves this status.
// familink_order_creation_failed and refund_failed stay open so an operator
// can retry the submission or the refund.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusQuickCheckFailed,
		OrderStatusValidationFailed,
		OrderStatusFamilinkOrderCreated,
		OrderStatusRefundSucceeded:
		return true
	default:
		return false
	}
}

// Recipient holds the shipping destination captured from the payment session.
type Recipient struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Complete reports whether the recipient carries the minimum fields the
// fulfilment partner requires.
func (r Recipient) Complete() bool {
	return r.Name != "" && r.Line1 != "" && r.City != "" && r.PostalCode != "" && r.Country != ""
}

// Order is the aggregate tracked through validation, payment, review and fulfilment.
type Order struct {
	ID                string
	Status            OrderStatus
	OriginalFilename  string
	PaymentSessionRef string
	PaymentIntentRef  string
	PrintPartnerRef   string
	RejectionReason   string
	Recipient         *Recipient
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CheckStatus classifies a single validation log line.
type CheckStatus string

const (
	// CheckStatusPass marks a check that succeeded.
	CheckStatusPass CheckStatus = "PASS"
	// CheckStatusFail marks a check that failed and blocks the photo.
	CheckStatusFail CheckStatus = "FAIL"
	// CheckStatusWarning marks a check that passed with reservations.
	CheckStatusWarning CheckStatus = "WARNING"
	// CheckStatusInfo marks an informational log line.
	CheckStatusInfo CheckStatus = "INFO"
	// CheckStatusUnknown marks a log line whose status could not be classified.
	CheckStatusUnknown CheckStatus = "UNKNOWN"
)

// NormalizeCheckStatus maps arbitrary upstream status strings onto the closed set.
func NormalizeCheckStatus(raw string) CheckStatus {
	switch CheckStatus(raw) {
	case CheckStatusPass, CheckStatusFail, CheckStatusWarning, CheckStatusInfo:
		return CheckStatus(raw)
	default:
		return CheckStatusUnknown
	}
}

// CheckLog is one step of the compliance pipeline with its outcome.
type CheckLog struct {
	Status  CheckStatus
	Step    string
	Message string
}

// ValidationLogs groups compliance pipeline output by phase.
type ValidationLogs struct {
	Preprocessing []CheckLog
	Validation    []CheckLog
}

// HasFailure reports whether any log line in either phase carries FAIL.
func (l ValidationLogs) HasFailure() bool {
	for _, entry := range l.Preprocessing {
		if entry.Status == CheckStatusFail {
			return true
		}
	}
	for _, entry := range l.Validation {
		if entry.Status == CheckStatusFail {
			return true
		}
	}
	return false
}

// QuickCheckReport is the outcome of the fast face-count screen.
type QuickCheckReport struct {
	Success   bool
	FaceCount int
	Message   string
}

// ValidationReport is the outcome of the full compliance validation.
type ValidationReport struct {
	Success        bool
	Recommendation string
	Logs           ValidationLogs
}
