// Package jwks contiene el controller del documento público de claves.
package jwks

import (
	"context"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	"github.com/dropDatabas3/journal-auth/internal/http/helpers"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
)

// Source es el lado JWKSService que necesita el controller.
type Source interface {
	Document(ctx context.Context) (jwt.JWKSDocument, error)
	CacheControl() string
}

// Controller maneja GET/HEAD /.well-known/jwks.json
type Controller struct {
	src Source
}

func NewController(src Source) *Controller {
	return &Controller{src: src}
}

func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	doc, err := c.src.Document(r.Context())
	if err != nil {
		helpers.Fail(w, r, "JWKSController.Get", err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", c.src.CacheControl())
	h.Set("ETag", doc.ETag)

	if etagMatches(r.Header.Get("If-None-Match"), doc.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

// etagMatches soporta listas y el comodín "*"; ignora el prefijo débil W/.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, p := range strings.Split(header, ",") {
		p = strings.TrimPrefix(strings.TrimSpace(p), "W/")
		if p == "*" || p == etag {
			return true
		}
	}
	return false
}
