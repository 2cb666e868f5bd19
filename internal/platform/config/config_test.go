package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID":  "photoid-dev",
		"API_STORAGE_PHOTOS_BUCKET": "photoid-photos-dev",
		"API_VALIDATION_ENDPOINT":   "https://validation.example.com",
		"API_FAMILINK_ENDPOINT":     "https://familink.example.com",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.MaxUploadBytes != defaultMaxUploadBytes {
		t.Errorf("unexpected max upload bytes: %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Storage.SignedURLTTL != defaultSignedURLTTL {
		t.Errorf("unexpected signed url ttl: %s", cfg.Storage.SignedURLTTL)
	}
	if cfg.PSP.CheckoutAmount != defaultCheckoutAmount {
		t.Errorf("unexpected checkout amount: %d", cfg.PSP.CheckoutAmount)
	}
	if cfg.PSP.CheckoutCurrency != defaultCheckoutCurrency {
		t.Errorf("unexpected checkout currency: %s", cfg.PSP.CheckoutCurrency)
	}
	if cfg.Validation.QuickCheckTimeout != defaultQuickCheckTimeout {
		t.Errorf("unexpected quick check timeout: %s", cfg.Validation.QuickCheckTimeout)
	}
	if cfg.Events.ProjectID != "photoid-dev" {
		t.Errorf("expected events project to default to firestore project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_SERVER_MAX_UPLOAD_BYTES":        "5242880",
		"API_FIRESTORE_PROJECT_ID":           "photoid-prod",
		"API_STORAGE_PHOTOS_BUCKET":          "photos-prod",
		"API_STORAGE_SIGNED_URL_TTL":         "10m",
		"API_PSP_STRIPE_API_KEY":             "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":      "secret://stripe/webhook",
		"API_PSP_CHECKOUT_AMOUNT":            "1490",
		"API_PSP_CHECKOUT_CURRENCY":          "usd",
		"API_PSP_SUCCESS_URL":                "https://shop.example.com/done",
		"API_PSP_CANCEL_URL":                 "https://shop.example.com/cancel",
		"API_VALIDATION_ENDPOINT":            "https://validation.example.com",
		"API_VALIDATION_AUTH_TOKEN":          "secret://validation/token",
		"API_VALIDATION_QUICK_CHECK_TIMEOUT": "45s",
		"API_FAMILINK_ENDPOINT":              "https://familink.example.com",
		"API_FAMILINK_API_KEY":               "secret://familink/key",
		"API_ADMIN_TOKEN":                    "secret://admin/token",
		"API_EVENTS_PROJECT_ID":              "photoid-events",
		"API_EVENTS_ORDER_TOPIC":             "order-lifecycle",
		"API_SECURITY_ENVIRONMENT":           "prod",
	}

	secrets := map[string]string{
		"secret://stripe/api":       "stripe-key",
		"secret://stripe/webhook":   "stripe-webhook",
		"secret://validation/token": "validation-token",
		"secret://familink/key":     "familink-key",
		"secret://admin/token":      "admin-token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Server.MaxUploadBytes != 5242880 {
		t.Errorf("unexpected max upload bytes: %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Storage.SignedURLTTL != 10*time.Minute {
		t.Errorf("unexpected signed url ttl: %s", cfg.Storage.SignedURLTTL)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "stripe-webhook" {
		t.Errorf("expected resolved webhook secret, got %s", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.PSP.CheckoutAmount != 1490 {
		t.Errorf("unexpected checkout amount: %d", cfg.PSP.CheckoutAmount)
	}
	if cfg.Validation.AuthToken != "validation-token" {
		t.Errorf("expected resolved validation token, got %s", cfg.Validation.AuthToken)
	}
	if cfg.Validation.QuickCheckTimeout != 45*time.Second {
		t.Errorf("unexpected quick check timeout: %s", cfg.Validation.QuickCheckTimeout)
	}
	if cfg.Familink.APIKey != "familink-key" {
		t.Errorf("expected resolved familink key, got %s", cfg.Familink.APIKey)
	}
	if cfg.Admin.Token != "admin-token" {
		t.Errorf("expected resolved admin token, got %s", cfg.Admin.Token)
	}
	if cfg.Events.ProjectID != "photoid-events" {
		t.Errorf("unexpected events project %s", cfg.Events.ProjectID)
	}
	if cfg.Events.OrderTopic != "order-lifecycle" {
		t.Errorf("unexpected order topic %s", cfg.Events.OrderTopic)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\n" +
		"API_FIRESTORE_PROJECT_ID=photoid-dot\n" +
		"API_STORAGE_PHOTOS_BUCKET=photos-dot\n" +
		"API_VALIDATION_ENDPOINT=https://validation.example.com\n" +
		"API_FAMILINK_ENDPOINT=https://familink.example.com\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "photoid-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_PSP_STRIPE_API_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://stripe/api=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("PSP.StripeWebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Admin.Token" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Admin.Token"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["API_FAMILINK_API_KEY"] = "sm://familink/key"

	secrets := map[string]string{
		"secret://familink/key": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Familink.APIKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Familink.APIKey)
	}
}
