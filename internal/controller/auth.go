package controller

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog"
)

const SecretHeader = "X-Scheduler-Secret"

// RequireSecret rejects requests whose secret header does not match.
// An empty configured secret rejects everything.
func RequireSecret(secret string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("rejected request with bad scheduler secret")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
