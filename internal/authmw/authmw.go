// Package authmw guards the run API with a shared token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Guard returns middleware that requires the configured API token on
// every request, either as "Authorization: Bearer <token>" or in the
// X-Api-Key header. An empty token disables the guard. Comparison uses
// constant-time equality to prevent timing side channels.
func Guard(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := requestToken(r)
			if !ok {
				http.Error(w, `{"error":"missing credentials"}`, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return auth[len("Bearer "):], true
	}
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key, true
	}
	return "", false
}
