// Package router arma el árbol de rutas HTTP del servicio.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/journal-auth/internal/http/controllers/admin"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/auth"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/health"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/jwks"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/m2m"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/secrets"
	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	mw "github.com/dropDatabas3/journal-auth/internal/http/middlewares"
	"github.com/dropDatabas3/journal-auth/internal/rate"
)

const (
	InternalKeyHeader = "X-Internal-Key"
	AdminKeyHeader    = "X-Admin-Key"
)

// Deps agrupa controllers y configuración transversal.
type Deps struct {
	JWKS    *jwks.Controller
	Auth    *auth.Controller
	M2M     *m2m.Controller
	Keys    *admin.KeysController
	Webhook *secrets.WebhookController
	Health  *health.Controller

	InternalAPIKey string
	AdminAPIKey    string

	// RateLimiter nil desactiva el rate limiting.
	RateLimiter rate.Limiter
	RateLimit   int
	RateWindow  time.Duration

	// Gatherer para /metrics; nil usa el default de Prometheus.
	Gatherer prometheus.Gatherer
}

// New construye el router.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithMetrics(),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// ─── Infra ───
	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// ─── Público ───
	r.Get("/.well-known/jwks.json", d.JWKS.Get)
	r.Head("/.well-known/jwks.json", d.JWKS.Get)

	limited := mw.WithRateLimit(mw.RateLimitConfig{
		Limiter: d.RateLimiter,
		Limit:   d.RateLimit,
		Window:  d.RateWindow,
	})
	internalKey := mw.RequireAPIKey(InternalKeyHeader, d.InternalAPIKey, "internal")
	adminKey := mw.RequireAPIKey(AdminKeyHeader, d.AdminAPIKey, "admin")

	// ─── Tokens de usuario ───
	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(mw.WithNoStore(), limited)
		r.With(internalKey).Post("/session", d.Auth.Session)
		r.Post("/refresh", d.Auth.Refresh)
		r.Post("/logout", d.Auth.Logout)
		r.With(adminKey).Post("/revoke", d.Auth.Revoke)
	})

	// ─── M2M ───
	r.Route("/v1/m2m", func(r chi.Router) {
		r.Use(mw.WithNoStore(), limited)
		r.Post("/token", d.M2M.Token)
		r.Post("/verify", d.M2M.Verify)
	})

	// ─── Admin ───
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(mw.WithNoStore(), adminKey)
		r.Get("/keys", d.Keys.List)
		r.Post("/keys/rotate", d.Keys.Rotate)
		r.Post("/keys/retire", d.Keys.Retire)
	})

	// ─── Secret store ───
	r.With(limited).Post("/internal/secrets/webhook", d.Webhook.Receive)

	return r
}
