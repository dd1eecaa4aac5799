package middleware

import (
	"context"
	"net/http"
)

const headerUserID = "X-User-ID"

type userCtxKey struct{}

// Identity returns middleware that resolves the calling user from the
// X-User-ID header set by the upstream gateway. When required is false a
// missing header falls back to defaultUser; when true the request is
// rejected with 401. Health probes are always let through.
func Identity(required bool, defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := r.Header.Get(headerUserID)
			if uid == "" {
				if required && !publicPaths[r.URL.Path] {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = w.Write([]byte(`{"error":"authorization required"}`))
					return
				}
				uid = defaultUser
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}

// publicPaths are exempt from identity checks.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// WithUserID returns a copy of ctx carrying the user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, id)
}

// UserIDFromContext returns the user ID stored in ctx, or "" if absent.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userCtxKey{}).(string)
	return id
}
