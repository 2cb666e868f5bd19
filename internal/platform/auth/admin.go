package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/photoid-field/api/internal/platform/httpx"
	"github.com/photoid-field/api/internal/platform/requestctx"
)

const bearerPrefix = "Bearer "

// RequireAdminToken gates a route group behind a static bearer token shared
// with the review dashboard. An empty configured token disables the group
// entirely rather than leaving it open.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if len(expected) == 0 {
				requestctx.Logger(ctx).Error("admin token is not configured, refusing request")
				httpx.WriteError(ctx, w, httpx.NewError("admin_disabled", "admin endpoints are not available", http.StatusServiceUnavailable))
				return
			}

			presented, ok := bearerToken(r)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "missing bearer token", http.StatusUnauthorized))
				return
			}
			if subtle.ConstantTimeCompare(expected, []byte(presented)) != 1 {
				requestctx.Logger(ctx).Warn("admin token mismatch",
					zap.String("remote_addr", r.RemoteAddr),
				)
				httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "invalid bearer token", http.StatusUnauthorized))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", false
	}
	return token, true
}
