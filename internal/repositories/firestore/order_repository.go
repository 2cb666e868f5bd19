package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/photoid-field/api/internal/domain"
	pfirestore "github.com/photoid-field/api/internal/platform/firestore"
	"github.com/photoid-field/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists print orders and guards lifecycle transitions with
// Firestore transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
	clock    func() time.Time
}

// OrderRepositoryOption customises the repository behaviour.
type OrderRepositoryOption func(*OrderRepository)

// WithOrderRepositoryClock overrides the clock used for document timestamps.
func WithOrderRepositoryClock(clock func() time.Time) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if clock != nil {
			r.clock = func() time.Time { return clock().UTC() }
		}
	}
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, opts ...OrderRepositoryOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}

	repo := &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	return repo, nil
}

// Insert stores a brand-new order document. Inserting an existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository: not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if !order.Status.Valid() {
		return fmt.Errorf("order repository: unknown status %q", order.Status)
	}

	now := r.clock()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository: not initialised")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// ListByStatus returns the oldest orders in the given status, capped at limit.
func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository: not initialised")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("order repository: unknown status %q", status)
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("status", "==", string(status)).OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			query = query.Limit(limit)
		}
		return query
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

// Transition atomically loads the order, verifies its status against expected,
// applies mutate and writes the result back. The read-check-write runs inside a
// Firestore transaction so concurrent deliveries serialise on the document.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, expected []domain.OrderStatus, mutate func(*domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository: not initialised")
	}
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutate function is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order := decodeOrderDocument(snap.Ref.ID, doc)

		if !statusExpected(order.Status, expected) {
			return &repositories.StatusMismatchError{
				OrderID:  orderID,
				Expected: expected,
				Actual:   order.Status,
			}
		}

		if err := mutate(&order); err != nil {
			return err
		}
		if !order.Status.Valid() {
			return fmt.Errorf("order repository: mutation produced unknown status %q", order.Status)
		}

		order.ID = orderID
		order.UpdatedAt = r.clock()
		if err := tx.Set(ref, encodeOrderDocument(order)); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		var mismatch *repositories.StatusMismatchError
		if errors.As(err, &mismatch) {
			return domain.Order{}, mismatch
		}
		return domain.Order{}, pfirestore.WrapError("orders.transition", err)
	}
	return updated, nil
}

func statusExpected(actual domain.OrderStatus, expected []domain.OrderStatus) bool {
	for _, status := range expected {
		if actual == status {
			return true
		}
	}
	return false
}

type orderDocument struct {
	Status            string             `firestore:"status"`
	OriginalFilename  string             `firestore:"originalFilename,omitempty"`
	PaymentSessionRef string             `firestore:"paymentSessionRef,omitempty"`
	PaymentIntentRef  string             `firestore:"paymentIntentRef,omitempty"`
	PrintPartnerRef   string             `firestore:"printPartnerRef,omitempty"`
	RejectionReason   string             `firestore:"rejectionReason,omitempty"`
	Recipient         *recipientDocument `firestore:"recipient,omitempty"`
	CreatedAt         time.Time          `firestore:"createdAt"`
	UpdatedAt         time.Time          `firestore:"updatedAt"`
}

type recipientDocument struct {
	Name       string `firestore:"name,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Status:            string(order.Status),
		OriginalFilename:  order.OriginalFilename,
		PaymentSessionRef: order.PaymentSessionRef,
		PaymentIntentRef:  order.PaymentIntentRef,
		PrintPartnerRef:   order.PrintPartnerRef,
		RejectionReason:   order.RejectionReason,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
	if order.Recipient != nil {
		doc.Recipient = &recipientDocument{
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
	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                id,
		Status:            domain.OrderStatus(doc.Status),
		OriginalFilename:  doc.OriginalFilename,
		PaymentSessionRef: doc.PaymentSessionRef,
		PaymentIntentRef:  doc.PaymentIntentRef,
		PrintPartnerRef:   doc.PrintPartnerRef,
		RejectionReason:   doc.RejectionReason,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if doc.Recipient != nil {
		order.Recipient = &domain.Recipient{
			Name:       doc.Recipient.Name,
			Line1:      doc.Recipient.Line1,
			Line2:      doc.Recipient.Line2,
			City:       doc.Recipient.City,
			State:      doc.Recipient.State,
			PostalCode: doc.Recipient.PostalCode,
			Country:    doc.Recipient.Country,
			Phone:      doc.Recipient.Phone,
		}
	}
	return order
}
