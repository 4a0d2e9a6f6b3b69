package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sungwon/mail-dispatch/internal/metrics"
)

type contextKey string

const clientKey contextKey = "client"

// ClientFromContext retrieves the authenticated client from the request context.
// Returns an empty string if no client is set.
func ClientFromContext(ctx context.Context) string {
	if client, ok := ctx.Value(clientKey).(string); ok {
		return client
	}
	return ""
}

// WithClient stores the authenticated client in the context.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

func unauthorized(w http.ResponseWriter, body string) {
	metrics.APIAuthFailuresTotal.Inc()
	http.Error(w, body, http.StatusUnauthorized)
}

// JWTAuth returns an HTTP middleware that validates JWT Bearer tokens.
// It extracts the JWT from the Authorization header, validates it,
// and injects the token's client into the request context.
func JWTAuth(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, `{"error":"authorization header required"}`)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, `{"error":"invalid authorization format, expected Bearer <token>"}`)
				return
			}

			tokenStr := parts[1]
			if tokenStr == "" {
				unauthorized(w, `{"error":"empty token"}`)
				return
			}

			claims, err := jwtService.ValidateToken(tokenStr)
			if err != nil {
				unauthorized(w, `{"error":"invalid or expired token"}`)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), claims.Client())))
		})
	}
}
