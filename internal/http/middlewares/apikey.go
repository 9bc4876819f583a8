package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/http/errors"
)

// RequireAPIKey exige el header con la clave compartida. Clave vacía en
// config: la ruta queda cerrada (403) en lugar de abierta.
func RequireAPIKey(header, key, actor string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				errors.WriteError(w, errors.ErrForbidden.WithDetail("endpoint disabled"))
				return
			}
			got := strings.TrimSpace(r.Header.Get(header))
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				errors.WriteError(w, errors.ErrUnauthenticated)
				return
			}
			ctx := audit.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
