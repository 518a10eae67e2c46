package middleware

import (
	"context"
	"net/http"

	"github.com/pliu/banter/internal/auth"
)

type contextKey string

const UsernameKey contextKey = "username"

// AuthMiddleware rejects requests without a valid session cookie and puts
// the session's username in the request context.
func AuthMiddleware(signer *auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := signer.FromRequest(r)
			if err != nil || username == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UsernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Username returns the authenticated user stored by AuthMiddleware.
func Username(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(UsernameKey).(string)
	return name, ok
}
