// Package admin contiene los controllers de administración de signing keys.
package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	dto "github.com/dropDatabas3/journal-auth/internal/http/dto/admin"
	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	"github.com/dropDatabas3/journal-auth/internal/http/helpers"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
)

// KeyAdmin es la parte del KeyManager expuesta a administración.
type KeyAdmin interface {
	Snapshot() *jwt.Keyring
	Degraded() bool
	Rotate(ctx context.Context) (*repository.SigningKey, error)
	RotateNow(ctx context.Context, reason string) (*repository.SigningKey, error)
	Retire(ctx context.Context, kid string) error
}

type KeysController struct {
	keys KeyAdmin
}

func NewKeysController(keys KeyAdmin) *KeysController {
	return &KeysController{keys: keys}
}

// List maneja GET /v1/admin/keys
func (c *KeysController) List(w http.ResponseWriter, r *http.Request) {
	ring := c.keys.Snapshot()
	resp := dto.KeysResponse{Degraded: c.keys.Degraded(), Keys: []dto.KeyView{}}
	if ring != nil {
		resp.Version = ring.Version
		for _, k := range ring.Keys() {
			resp.Keys = append(resp.Keys, KeyView(k))
		}
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Rotate maneja POST /v1/admin/keys/rotate
func (c *KeysController) Rotate(w http.ResponseWriter, r *http.Request) {
	var req dto.RotateRequest
	if r.ContentLength != 0 && !helpers.ReadJSON(w, r, &req) {
		return
	}
	var (
		k   *repository.SigningKey
		err error
	)
	if req.Force {
		k, err = c.keys.RotateNow(r.Context(), strings.TrimSpace(req.Reason))
	} else {
		k, err = c.keys.Rotate(r.Context())
	}
	if err != nil {
		helpers.Fail(w, r, "KeysController.Rotate", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RotateResponse{ActiveKID: k.ID})
}

// Retire maneja POST /v1/admin/keys/retire
func (c *KeysController) Retire(w http.ResponseWriter, r *http.Request) {
	var req dto.RetireRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.KID) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("kid is required"))
		return
	}
	if err := c.keys.Retire(r.Context(), strings.TrimSpace(req.KID)); err != nil {
		helpers.Fail(w, r, "KeysController.Retire", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KeyView arma la vista pública de una clave (también la usa cmd/keys).
func KeyView(k *repository.SigningKey) dto.KeyView {
	v := dto.KeyView{
		KID:          k.ID,
		Status:       string(k.Status),
		CreatedAt:    k.CreatedAt,
		ActivationAt: k.ActivationAt,
	}
	if !k.ExpiresAt.IsZero() {
		t := k.ExpiresAt
		v.ExpiresAt = &t
	}
	if !k.RetiringSince.IsZero() {
		t := k.RetiringSince
		v.RetiringSince = &t
	}
	return v
}
