package auth

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
)

// RequireToken rejects requests without a valid bearer token and exposes
// the token subject through httpx.SubjectFrom.
func RequireToken(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := tokens.Verify(strings.TrimSpace(raw))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(httpx.SetSubject(r.Context(), claims.Sub)))
		})
	}
}
