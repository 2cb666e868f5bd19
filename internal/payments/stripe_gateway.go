package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	pconfig "github.com/photoid-field/api/internal/platform/config"
	"github.com/photoid-field/api/internal/platform/textutil"
	"github.com/photoid-field/api/internal/services"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// Countries the print partner ships to.
var allowedShippingCountries = []string{"FR", "BE", "LU", "DE", "ES", "IT", "NL", "PT", "CH"}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	PSP      pconfig.PSPConfig
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeGateway drives Stripe hosted checkout and refunds for print orders.
type StripeGateway struct {
	api    stripeClients
	cfg    pconfig.PSPConfig
	clock  func() time.Time
	logger StripeLogger
}

var _ services.CheckoutGateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.PSP.StripeAPIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if cfg.PSP.CheckoutAmount <= 0 {
		return nil, errors.New("stripe: checkout amount must be positive")
	}
	if strings.TrimSpace(cfg.PSP.CheckoutCurrency) == "" {
		return nil, errors.New("stripe: checkout currency is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api: clients,
		cfg: cfg.PSP,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession opens a hosted checkout session for the order. The order ID
// rides along as client reference and metadata so the webhook can settle the
// right document; the idempotency key collapses concurrent retries onto one
// session.
func (g *StripeGateway) CreateSession(ctx context.Context, orderID string) (services.CheckoutSessionRef, error) {
	if g == nil {
		return services.CheckoutSessionRef{}, errors.New("stripe: gateway is nil")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return services.CheckoutSessionRef{}, errors.New("stripe: order id is required")
	}

	metadata := textutil.NormalizeStringMap(map[string]string{
		"orderId": orderID,
	})

	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:          stripe.String(g.cfg.SuccessURL),
		CancelURL:           stripe.String(g.cfg.CancelURL),
		ClientReferenceID:   stripe.String(orderID),
		AllowPromotionCodes: stripe.Bool(true),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(allowedShippingCountries),
		},
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(g.cfg.CheckoutCurrency)),
					UnitAmount: stripe.Int64(g.cfg.CheckoutAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(g.cfg.ProductName),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + orderID)

	session, err := g.api.sessions.New(params)
	if err != nil {
		return services.CheckoutSessionRef{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   orderID,
		"currency":  session.Currency,
	})

	return services.CheckoutSessionRef{
		SessionRef: session.ID,
		URL:        session.URL,
	}, nil
}

// Refund returns the full captured amount for the given payment intent.
func (g *StripeGateway) Refund(ctx context.Context, paymentIntentRef string) (string, error) {
	if g == nil {
		return "", errors.New("stripe: gateway is nil")
	}
	paymentIntentRef = strings.TrimSpace(paymentIntentRef)
	if paymentIntentRef == "" {
		return "", errors.New("stripe: payment intent is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentRef),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + paymentIntentRef)

	refund, err := g.api.refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	g.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": paymentIntentRef,
		"refundId":      refund.ID,
	})
	return refund.ID, nil
}
