package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/photoid-field/api/internal/domain"
	pconfig "github.com/photoid-field/api/internal/platform/config"
)

const (
	quickCheckPath    = "/quick-check"
	validatePhotoPath = "/validate-photo"

	maxErrorBodyBytes = 2048
)

// ErrUnavailable indicates the validation service could not produce a verdict.
// A non-compliant photo is not an error; see the report's Success flag.
var ErrUnavailable = errors.New("validation: service unavailable")

// Client calls the remote photo validation service. The service reads photos
// directly from the shared blob store, so requests carry only the order ID.
type Client struct {
	endpoint        string
	authToken       string
	httpClient      *http.Client
	quickTimeout    time.Duration
	validateTimeout time.Duration
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient constructs a validation service client from configuration.
func NewClient(cfg pconfig.ValidationConfig, opts ...Option) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("validation client: endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("validation client: invalid endpoint: %w", err)
	}

	client := &Client{
		endpoint:        endpoint,
		authToken:       strings.TrimSpace(cfg.AuthToken),
		httpClient:      &http.Client{},
		quickTimeout:    cfg.QuickCheckTimeout,
		validateTimeout: cfg.ValidateTimeout,
	}
	if client.quickTimeout <= 0 {
		client.quickTimeout = 30 * time.Second
	}
	if client.validateTimeout <= 0 {
		client.validateTimeout = 120 * time.Second
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// QuickCheck runs the fast face-count pre-screen for an uploaded photo.
func (c *Client) QuickCheck(ctx context.Context, orderID string) (domain.QuickCheckReport, error) {
	body, err := c.get(ctx, quickCheckPath, orderID, c.quickTimeout)
	if err != nil {
		return domain.QuickCheckReport{}, err
	}

	var payload struct {
		Success   bool   `json:"success"`
		FaceCount int    `json:"face_count"`
		Message   string `json:"message"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.QuickCheckReport{}, fmt.Errorf("%w: decode quick check response: %v", ErrUnavailable, err)
	}

	message := payload.Message
	if message == "" {
		message = payload.Error
	}
	return domain.QuickCheckReport{
		Success:   payload.Success,
		FaceCount: payload.FaceCount,
		Message:   message,
	}, nil
}

// Validate runs the full compliance validation. On success the service stores
// the processed photo next to the original in the blob store.
func (c *Client) Validate(ctx context.Context, orderID string) (domain.ValidationReport, error) {
	body, err := c.get(ctx, validatePhotoPath, orderID, c.validateTimeout)
	if err != nil {
		return domain.ValidationReport{}, err
	}

	var payload struct {
		Success        bool        `json:"success"`
		Recommendation string      `json:"recommendation"`
		Error          string      `json:"error"`
		Logs           logsPayload `json:"logs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ValidationReport{}, fmt.Errorf("%w: decode validation response: %v", ErrUnavailable, err)
	}

	recommendation := payload.Recommendation
	if recommendation == "" {
		recommendation = payload.Error
	}
	return domain.ValidationReport{
		Success:        payload.Success,
		Recommendation: recommendation,
		Logs: domain.ValidationLogs{
			Preprocessing: payload.Logs.Preprocessing.toDomain(),
			Validation:    payload.Logs.Validation.toDomain(),
		},
	}, nil
}

// get performs the request and returns the body for 200 and 422 responses.
// 422 carries a parseable negative verdict; anything else is unavailability.
func (c *Client) get(ctx context.Context, path, orderID string, timeout time.Duration) ([]byte, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("validation client: order id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.endpoint + path + "?orderId=" + url.QueryEscape(orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("validation client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		return body, nil
	default:
		snippet := string(body)
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, snippet)
	}
}

type logsPayload struct {
	Preprocessing logEntries `json:"preprocessing"`
	Validation    logEntries `json:"validation"`
}

type logEntries []logEntry

func (entries logEntries) toDomain() []domain.CheckLog {
	if len(entries) == 0 {
		return nil
	}
	out := make([]domain.CheckLog, 0, len(entries))
	for _, entry := range entries {
		out = append(out, domain.CheckLog{
			Status:  domain.NormalizeCheckStatus(entry.Status),
			Step:    entry.Step,
			Message: entry.Message,
		})
	}
	return out
}

// logEntry tolerates both shapes the validation service has emitted over time:
// the tuple form ["PASS", "step", "message"] and the object form
// {"status": "PASS", "step": "...", "message": "..."}.
type logEntry struct {
	Status  string
	Step    string
	Message string
}

func (e *logEntry) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var tuple []string
		if err := json.Unmarshal(data, &tuple); err != nil {
			return fmt.Errorf("decode log tuple: %w", err)
		}
		if len(tuple) > 0 {
			e.Status = tuple[0]
		}
		if len(tuple) > 1 {
			e.Step = tuple[1]
		}
		if len(tuple) > 2 {
			e.Message = tuple[2]
		}
		return nil
	}

	var obj struct {
		Status  string `json:"status"`
		Step    string `json:"step"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode log entry: %w", err)
	}
	e.Status = obj.Status
	e.Step = obj.Step
	e.Message = obj.Message
	return nil
}
