// Package health contiene los controllers de liveness y readiness.
package health

import (
	"context"
	"net/http"
	"time"

	dto "github.com/dropDatabas3/journal-auth/internal/http/dto/health"
	"github.com/dropDatabas3/journal-auth/internal/http/helpers"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// Pinger es cualquier dependencia con chequeo de conectividad.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyState expone el estado de firma del KeyManager.
type KeyState interface {
	Snapshot() *jwt.Keyring
	Degraded() bool
}

type Controller struct {
	keys    KeyState
	secrets Pinger
	tokens  Pinger
	timeout time.Duration
}

func NewController(keys KeyState, secrets, tokens Pinger) *Controller {
	return &Controller{keys: keys, secrets: secrets, tokens: tokens, timeout: 2 * time.Second}
}

// Healthz maneja GET /healthz (liveness, sin dependencias).
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz maneja GET /readyz. Sin clave activa o sin lookup store: 503. Con el
// secret store caído la firma sigue (rotación pausada): 200 "degraded".
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	resp := dto.ReadyResponse{Status: "ready", Components: map[string]string{}}
	status := http.StatusOK

	if ring := c.keys.Snapshot(); ring != nil && ring.Active != nil {
		resp.ActiveKID = ring.Active.ID
		resp.Components["signing_key"] = "ok"
	} else {
		resp.Components["signing_key"] = "missing"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if c.tokens != nil {
		if err := c.tokens.Ping(ctx); err != nil {
			logger.From(ctx).Warn("token store no responde", logger.Err(err))
			resp.Components["token_store"] = "down"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Components["token_store"] = "ok"
		}
	}

	if c.secrets != nil {
		if err := c.secrets.Ping(ctx); err != nil || c.keys.Degraded() {
			resp.Components["secret_store"] = "degraded"
			if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		} else {
			resp.Components["secret_store"] = "ok"
		}
	}

	if resp.ActiveKID != "" {
		w.Header().Set("X-JWKS-KID", resp.ActiveKID)
	}
	helpers.WriteJSON(w, status, resp)
}
