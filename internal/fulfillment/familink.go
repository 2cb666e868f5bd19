package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pconfig "github.com/photoid-field/api/internal/platform/config"
	"github.com/photoid-field/api/internal/services"
)

const (
	ordersPath        = "/orders"
	maxErrorBodyBytes = 2048
)

// FamilinkClient submits accepted print orders to the Familink partner API.
// Order creation is atomic on the partner side; any non-success response means
// nothing was created and the submission may be retried with the same
// idempotency key.
type FamilinkClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

var _ services.FulfillmentGateway = (*FamilinkClient)(nil)

// FamilinkOption customises the client.
type FamilinkOption func(*FamilinkClient)

// WithFamilinkHTTPClient overrides the underlying HTTP client.
func WithFamilinkHTTPClient(httpClient *http.Client) FamilinkOption {
	return func(c *FamilinkClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewFamilinkClient constructs a Familink client from configuration.
func NewFamilinkClient(cfg pconfig.FamilinkConfig, opts ...FamilinkOption) (*FamilinkClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("familink client: endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("familink client: invalid endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("familink client: api key is required")
	}

	client := &FamilinkClient{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
	}
	if client.timeout <= 0 {
		client.timeout = 30 * time.Second
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type familinkOrderRequest struct {
	Reference string           `json:"reference"`
	PhotoURL  string           `json:"photoUrl"`
	Recipient familinkShipping `json:"recipient"`
}

type familinkShipping struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type familinkOrderResponse struct {
	ID string `json:"id"`
}

// SubmitOrder creates a print order at the partner and returns its reference.
func (c *FamilinkClient) SubmitOrder(ctx context.Context, sub services.PrintSubmission) (string, error) {
	if c == nil {
		return "", errors.New("familink client: not initialised")
	}
	orderID := strings.TrimSpace(sub.OrderID)
	if orderID == "" {
		return "", errors.New("familink client: order id is required")
	}
	if strings.TrimSpace(sub.PhotoURL) == "" {
		return "", errors.New("familink client: photo url is required")
	}
	if !sub.Recipient.Complete() {
		return "", errors.New("familink client: recipient is incomplete")
	}

	payload, err := json.Marshal(familinkOrderRequest{
		Reference: orderID,
		PhotoURL:  sub.PhotoURL,
		Recipient: familinkShipping{
			Name:       sub.Recipient.Name,
			Line1:      sub.Recipient.Line1,
			Line2:      sub.Recipient.Line2,
			City:       sub.Recipient.City,
			State:      sub.Recipient.State,
			PostalCode: sub.Recipient.PostalCode,
			Country:    sub.Recipient.Country,
			Phone:      sub.Recipient.Phone,
		},
	})
	if err != nil {
		return "", fmt.Errorf("familink client: encode order: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+ordersPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("familink client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Idempotency-Key", "print-"+orderID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("familink client: submit order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("familink client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return "", fmt.Errorf("familink client: order submission returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded familinkOrderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("familink client: decode response: %w", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", errors.New("familink client: response carries no order id")
	}
	return decoded.ID, nil
}
