package helpers

import (
	"net/http"
	"strings"
)

// BearerToken extrae el token de "Authorization: Bearer <t>". Vacío si falta.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
