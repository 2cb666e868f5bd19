package repositories

import (
	"context"
	"fmt"

	domain "github.com/photoid-field/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StatusMismatchError is returned by OrderRepository.Transition when the stored
// order is not in one of the expected statuses. Actual carries the status found
// so callers can distinguish a duplicate delivery from an out-of-order request.
type StatusMismatchError struct {
	OrderID  string
	Expected []domain.OrderStatus
	Actual   domain.OrderStatus
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("order %s: status %s does not match expected %v", e.OrderID, e.Actual, e.Expected)
}

// OrderRepository persists print orders and guards lifecycle transitions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	// Transition atomically loads the order, verifies its status is one of
	// expected, applies mutate and writes the result back. A failed
	// precondition yields a StatusMismatchError and leaves the document
	// untouched.
	Transition(ctx context.Context, orderID string, expected []domain.OrderStatus, mutate func(*domain.Order) error) (domain.Order, error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
