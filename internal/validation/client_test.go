package validation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/photoid-field/api/internal/domain"
	pconfig "github.com/photoid-field/api/internal/platform/config"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(pconfig.ValidationConfig{
		Endpoint:          server.URL,
		AuthToken:         "validation-token",
		QuickCheckTimeout: 5 * time.Second,
		ValidateTimeout:   5 * time.Second,
	}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientQuickCheckSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quick-check" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("orderId"); got != "ord_1" {
			t.Fatalf("unexpected order id %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer validation-token" {
			t.Fatalf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "face_count": 1, "message": "Face detected"}`))
	}))
	defer server.Close()

	report, err := newTestClient(t, server).QuickCheck(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("quick check: %v", err)
	}
	if !report.Success || report.FaceCount != 1 || report.Message != "Face detected" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestClientQuickCheckNegativeVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"success": false, "face_count": 2, "message": "Multiple faces (2)"}`))
	}))
	defer server.Close()

	report, err := newTestClient(t, server).QuickCheck(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("a negative verdict is not an error, got %v", err)
	}
	if report.Success || report.FaceCount != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestClientQuickCheckServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success": false, "error": "model crashed"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).QuickCheck(context.Background(), "ord_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientQuickCheckTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client, err := NewClient(pconfig.ValidationConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.QuickCheck(context.Background(), "ord_1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientValidateTupleLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/validate-photo" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"recommendation": "ACCEPTED",
			"logs": {
				"preprocessing": [["PASS", "Full Analysis", "Single face detected."]],
				"validation": [["PASS", "Background", "Uniform background."], ["WARNING", "Sharpness", "Slightly soft."]]
			}
		}`))
	}))
	defer server.Close()

	report, err := newTestClient(t, server).Validate(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Success || report.Recommendation != "ACCEPTED" {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Logs.Preprocessing) != 1 || report.Logs.Preprocessing[0].Step != "Full Analysis" {
		t.Fatalf("unexpected preprocessing logs %+v", report.Logs.Preprocessing)
	}
	if len(report.Logs.Validation) != 2 || report.Logs.Validation[1].Status != domain.CheckStatusWarning {
		t.Fatalf("unexpected validation logs %+v", report.Logs.Validation)
	}
}

func TestClientValidateObjectLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": false,
			"recommendation": "REJECTED: Busy background",
			"logs": {
				"preprocessing": [{"status": "PASS", "step": "Crop", "message": "ok"}],
				"validation": [{"status": "FAIL", "step": "Background", "message": "busy background"}, {"status": "weird", "step": "X", "message": "y"}]
			}
		}`))
	}))
	defer server.Close()

	report, err := newTestClient(t, server).Validate(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Success {
		t.Fatalf("expected negative verdict")
	}
	if report.Logs.Validation[0].Status != domain.CheckStatusFail {
		t.Fatalf("unexpected log status %+v", report.Logs.Validation[0])
	}
	if report.Logs.Validation[1].Status != domain.CheckStatusUnknown {
		t.Fatalf("expected unknown status normalisation, got %+v", report.Logs.Validation[1])
	}
}

func TestClientValidateMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": `))
	}))
	defer server.Close()

	if _, err := newTestClient(t, server).Validate(context.Background(), "ord_1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(pconfig.ValidationConfig{}); err == nil {
		t.Fatalf("expected constructor error")
	}
}

func TestClientRequiresOrderID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("no request expected")
	}))
	defer server.Close()

	if _, err := newTestClient(t, server).QuickCheck(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank order id")
	}
}
