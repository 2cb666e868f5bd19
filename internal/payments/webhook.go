package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/photoid-field/api/internal/domain"
	"github.com/photoid-field/api/internal/services"
)

// Checkout lifecycle events the webhook settles orders on.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// ErrInvalidSignature indicates the webhook payload failed signature verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// VerifyWebhook checks the Stripe-Signature header against the raw payload and
// returns the decoded event.
func VerifyWebhook(payload []byte, signature, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, errors.New("payments: webhook secret is not configured")
	}
	// The dashboard pins the webhook payload version independently of the SDK
	// pin, so an api_version mismatch is expected and harmless here.
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// ParseCheckoutEvent normalises a Stripe event into a CheckoutEvent. The second
// return is false for event kinds the order lifecycle does not react to.
func ParseCheckoutEvent(event stripe.Event) (services.CheckoutEvent, bool, error) {
	kind := string(event.Type)
	switch kind {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed:
	default:
		return services.CheckoutEvent{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return services.CheckoutEvent{}, false, fmt.Errorf("payments: decode checkout session: %w", err)
	}

	orderID := strings.TrimSpace(session.ClientReferenceID)
	if orderID == "" {
		orderID = strings.TrimSpace(session.Metadata["orderId"])
	}

	intentRef := ""
	if session.PaymentIntent != nil {
		intentRef = session.PaymentIntent.ID
	}

	return services.CheckoutEvent{
		Kind:       kind,
		OrderID:    orderID,
		SessionRef: session.ID,
		IntentRef:  intentRef,
		Paid:       session.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid,
		Recipient:  RecipientFromSession(&session),
	}, true, nil
}

// legacyShippingMetadata is the JSON shape older checkout integrations stored
// under the session's "shipping" metadata key.
type legacyShippingMetadata struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address struct {
		Line1      string `json:"line1"`
		Line2      string `json:"line2"`
		City       string `json:"city"`
		State      string `json:"state"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	} `json:"address"`
}

// RecipientFromSession extracts a shipping recipient from a checkout session,
// preferring structured shipping details, then customer details, then the
// legacy metadata fallback. Returns nil when no usable address exists.
func RecipientFromSession(session *stripe.CheckoutSession) *domain.Recipient {
	if session == nil {
		return nil
	}

	if session.ShippingDetails != nil && session.ShippingDetails.Address != nil {
		recipient := recipientFromAddress(session.ShippingDetails.Name, session.ShippingDetails.Phone, session.ShippingDetails.Address)
		if recipient != nil {
			return recipient
		}
	}

	if session.CustomerDetails != nil && session.CustomerDetails.Address != nil {
		recipient := recipientFromAddress(session.CustomerDetails.Name, session.CustomerDetails.Phone, session.CustomerDetails.Address)
		if recipient != nil {
			return recipient
		}
	}

	if raw := strings.TrimSpace(session.Metadata["shipping"]); raw != "" {
		var legacy legacyShippingMetadata
		if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
			recipient := &domain.Recipient{
				Name:       strings.TrimSpace(legacy.Name),
				Line1:      strings.TrimSpace(legacy.Address.Line1),
				Line2:      strings.TrimSpace(legacy.Address.Line2),
				City:       strings.TrimSpace(legacy.Address.City),
				State:      strings.TrimSpace(legacy.Address.State),
				PostalCode: strings.TrimSpace(legacy.Address.PostalCode),
				Country:    strings.TrimSpace(legacy.Address.Country),
				Phone:      strings.TrimSpace(legacy.Phone),
			}
			if recipient.Complete() {
				return recipient
			}
		}
	}

	return nil
}

func recipientFromAddress(name, phone string, address *stripe.Address) *domain.Recipient {
	recipient := &domain.Recipient{
		Name:       strings.TrimSpace(name),
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      strings.TrimSpace(address.Line2),
		City:       strings.TrimSpace(address.City),
		State:      strings.TrimSpace(address.State),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
		Phone:      strings.TrimSpace(phone),
	}
	if !recipient.Complete() {
		return nil
	}
	return recipient
}
