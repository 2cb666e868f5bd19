package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/photoid-field/api/internal/platform/httpx"
	"github.com/photoid-field/api/internal/services"
)

const (
	photoFormField        = "photo"
	defaultMaxUploadBytes = 16 << 20
	maxValidateBody       = 8 * 1024

	uploadRateLimit  = 20
	uploadRateWindow = time.Minute
)

// PhotoHandlers exposes the photo intake endpoints: the fast face-count
// pre-screen that opens an order, and the full compliance validation.
type PhotoHandlers struct {
	orders         services.OrderService
	maxUploadBytes int64
	uploads        rateLimiter
}

// PhotoOption customises photo handler construction.
type PhotoOption func(*PhotoHandlers)

// WithMaxUploadBytes caps the accepted multipart upload size.
func WithMaxUploadBytes(limit int64) PhotoOption {
	return func(h *PhotoHandlers) {
		if limit > 0 {
			h.maxUploadBytes = limit
		}
	}
}

// WithUploadRateLimiter overrides the per-client upload limiter.
func WithUploadRateLimiter(limiter rateLimiter) PhotoOption {
	return func(h *PhotoHandlers) {
		h.uploads = limiter
	}
}

// NewPhotoHandlers constructs the photo intake handlers.
func NewPhotoHandlers(orders services.OrderService, opts ...PhotoOption) *PhotoHandlers {
	h := &PhotoHandlers{
		orders:         orders,
		maxUploadBytes: defaultMaxUploadBytes,
		uploads:        newSimpleRateLimiter(uploadRateLimit, uploadRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers photo endpoints under the provided router.
func (h *PhotoHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quick-check", h.quickCheck)
	r.Post("/validate", h.validate)
}

type quickCheckResponse struct {
	Success   bool   `json:"success"`
	FaceCount int    `json:"faceCount"`
	Message   string `json:"message,omitempty"`
	OrderID   string `json:"orderId"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

type validateRequest struct {
	OrderID string `json:"orderId"`
}

type validateResponse struct {
	Success        bool               `json:"success"`
	Recommendation string             `json:"recommendation,omitempty"`
	Logs           validationLogsBody `json:"logs"`
	OrderID        string             `json:"orderId"`
	ImageURL       string             `json:"imageUrl,omitempty"`
}

type validationLogsBody struct {
	Preprocessing []checkLogBody `json:"preprocessing"`
	Validation    []checkLogBody `json:"validation"`
}

type checkLogBody struct {
	Status  string `json:"status"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (h *PhotoHandlers) quickCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.uploads != nil && !h.uploads.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many uploads; retry later", http.StatusTooManyRequests))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile(photoFormField)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			httpx.WriteError(ctx, w, httpx.NewError("upload_too_large", "uploaded photo exceeds the size limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart field \"photo\" is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	result, err := h.orders.QuickCheck(ctx, services.QuickCheckCommand{
		Filename:    strings.TrimSpace(header.Filename),
		ContentType: photoContentType(header),
		Photo:       file,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := quickCheckResponse{
		Success:   result.Report.Success,
		FaceCount: result.Report.FaceCount,
		Message:   result.Report.Message,
		OrderID:   result.OrderID,
		ImageURL:  result.ImageURL,
	}

	status := http.StatusOK
	if !result.Report.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSONResponse(w, status, payload)
}

func (h *PhotoHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxValidateBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req validateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.Validate(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := validateResponse{
		Success:        result.Report.Success,
		Recommendation: result.Report.Recommendation,
		Logs: validationLogsBody{
			Preprocessing: checkLogsBody(result.Report.Logs.Preprocessing),
			Validation:    checkLogsBody(result.Report.Logs.Validation),
		},
		OrderID:  result.OrderID,
		ImageURL: result.ImageURL,
	}

	status := http.StatusOK
	if !result.Report.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSONResponse(w, status, payload)
}

func photoContentType(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return strings.TrimSpace(header.Header.Get("Content-Type"))
}

func checkLogsBody(logs []services.CheckLog) []checkLogBody {
	out := make([]checkLogBody, 0, len(logs))
	for _, entry := range logs {
		out = append(out, checkLogBody{
			Status:  string(entry.Status),
			Step:    entry.Step,
			Message: entry.Message,
		})
	}
	return out
}
