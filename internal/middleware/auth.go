// Package middleware provides the HTTP cross-cutting layers: bearer auth,
// role guards, rate limiting, request logging and metrics.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sahay/backend/internal/auth"
	"github.com/sahay/backend/internal/core"
)

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity returns a context carrying id. Auth attaches identities this
// way; handler tests use it to skip the middleware.
func WithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated identity, or nil on public routes.
func IdentityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// Authenticator resolves bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// Auth rejects requests without a valid bearer token and attaches the
// identity to the request context.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			id, err := a.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole gates a route to identities carrying at least one of roles.
// It must run after Auth.
func RequireRole(roles ...core.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id == nil {
				WriteError(w, core.E(core.KindUnauthorized, "missing identity"))
				return
			}
			if !id.HasAnyRole(roles...) {
				WriteError(w, core.E(core.KindForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// WriteError renders a taxonomy error as the standard JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status := core.HTTPStatus(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"kind":  string(kind),
	})
}
