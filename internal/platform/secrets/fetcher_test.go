package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubSecretManagerClient struct {
	accessFn func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	closed   bool
}

func (s *stubSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if s.accessFn == nil {
		return nil, status.Error(codes.NotFound, "not configured")
	}
	return s.accessFn(ctx, req)
}

func (s *stubSecretManagerClient) Close() error {
	s.closed = true
	return nil
}

func payload(value string) *secretmanagerpb.AccessSecretVersionResponse {
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
}

func TestFetcherResolveFromSecretManager(t *testing.T) {
	var requested []string
	client := &stubSecretManagerClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			requested = append(requested, req.GetName())
			return payload("stripe-key"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("photoid-prod"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "stripe-key" {
		t.Fatalf("unexpected value %q", value)
	}
	if len(requested) != 1 || requested[0] != "projects/photoid-prod/secrets/stripe-api-key/versions/latest" {
		t.Fatalf("unexpected request names %v", requested)
	}

	// Second resolve is served from cache.
	if _, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key"); err != nil {
		t.Fatalf("cached Resolve: %v", err)
	}
	if len(requested) != 1 {
		t.Fatalf("expected cached lookup, got %d remote calls", len(requested))
	}
}

func TestFetcherResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	var requested string
	client := &stubSecretManagerClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			requested = req.GetName()
			return payload("pinned"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithEnvironment("prod"),
		WithProjectMap(map[string]string{"prod": "project-prod"}),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://admin-token?version=7"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if requested != "projects/project-prod/secrets/admin-token/versions/7" {
		t.Fatalf("unexpected request name %s", requested)
	}
}

func TestFetcherFallbackFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local secrets\nsecret://familink-api-key=local-familink\nadmin-token=local-admin\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := &stubSecretManagerClient{
		accessFn: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.PermissionDenied, "no access")
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("photoid-dev"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://familink-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "local-familink" {
		t.Fatalf("unexpected value %q", value)
	}

	// Bare keys in the fallback file are canonicalised.
	value, err = fetcher.Resolve(context.Background(), "secret://admin-token")
	if err != nil {
		t.Fatalf("Resolve bare key: %v", err)
	}
	if value != "local-admin" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestFetcherResolveRejectsUnsupportedScheme(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(&stubSecretManagerClient{}),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "vault://thing"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestFetcherResolvePropagatesHardErrors(t *testing.T) {
	client := &stubSecretManagerClient{
		accessFn: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.Internal, "backend exploded")
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("photoid-dev"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key"); err == nil {
		t.Fatal("expected error for internal failure")
	}
}

func TestFetcherInvalidateForcesRefetch(t *testing.T) {
	calls := 0
	client := &stubSecretManagerClient{
		accessFn: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			calls++
			return payload("rotating"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("photoid-dev"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://webhook-secret"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fetcher.Invalidate("secret://webhook-secret")
	if _, err := fetcher.Resolve(context.Background(), "secret://webhook-secret"); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 remote calls, got %d", calls)
	}
}

func TestFetcherCloseOnlyClosesOwnedClient(t *testing.T) {
	client := &stubSecretManagerClient{}
	fetcher, err := NewFetcher(context.Background(), WithSecretManagerClient(client))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if err := fetcher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.closed {
		t.Fatal("injected client must not be closed by the fetcher")
	}
}
