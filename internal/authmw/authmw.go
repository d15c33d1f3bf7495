// Package authmw provides HTTP middleware that authenticates agents from a
// bearer JWT and attaches their identity to the request context.
package authmw

import (
	"net/http"
	"strings"

	"github.com/linnemanlabs/watchpost/internal/identity"
)

// Verifier turns a raw bearer token into a verified identity.
type Verifier interface {
	Verify(token string) (identity.Identity, error)
}

// Identity returns middleware that requires a valid bearer token and stores
// the identity it carries on the request context. Station ids supplied by the
// client anywhere else in the request are never consulted.
func Identity(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			id, err := v.Verify(auth[len("Bearer "):])
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="watchpost"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + msg + `"}`))
}
