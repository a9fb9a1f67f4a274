package middleware

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type operatorCtxKey struct{}

// OperatorAuth returns middleware that validates the X-API-Key header
// against the configured operator key hash. Governance endpoints (approval
// decisions, settings changes, emergency stops) are mounted behind it.
// When enabled is false the check is skipped, for local development.
func OperatorAuth(keyHash string, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				ctx := context.WithValue(r.Context(), operatorCtxKey{}, "operator")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(apiKey)); err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorCtxKey{}, "operator")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the authenticated operator identity from the context,
// or an empty string for unauthenticated requests.
func Operator(ctx context.Context) string {
	id, _ := ctx.Value(operatorCtxKey{}).(string)
	return id
}
