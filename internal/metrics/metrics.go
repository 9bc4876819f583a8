// Package metrics define los collectors Prometheus del core de auth. Viven en un
// paquete aparte para evitar ciclos entre jwt, lifecycle, secretsync y http.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ─── Tokens ───

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Tokens firmados por clase",
	}, []string{"class"})

	TokensVerified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_verified_total",
		Help: "Verificaciones de tokens por clase y resultado",
	}, []string{"class", "result"}) // result: ok|expired|unknown_key|invalid_signature|...

	SignLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_token_sign_duration_seconds",
		Help:    "Latencia de firma de tokens",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	})

	// ─── Keys ───

	KeyRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_key_rotations_total",
		Help: "Rotaciones de signing keys por motivo",
	}, []string{"reason"}) // scheduled|forced|bootstrap

	KeyTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_key_transitions_total",
		Help: "Transiciones de estado de signing keys",
	}, []string{"to"})

	KeysByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "auth_keys",
		Help: "Cantidad de signing keys por estado",
	}, []string{"status"})

	KeyGenerationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_key_generation_failures_total",
		Help: "Fallos de generación de claves (entropía)",
	})

	JWKSRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_jwks_rebuilds_total",
		Help: "Reconstrucciones del documento JWKS",
	})

	// ─── Secret store ───

	SecretSyncOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_secret_sync_ops_total",
		Help: "Operaciones contra el secret store por resultado",
	}, []string{"op", "result"}) // op: push|pull|retire; result: ok|error

	SecretStoreDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_secret_store_degraded",
		Help: "1 si el secret store no responde y la rotación está pausada",
	})

	// ─── Lifecycle ───

	RefreshOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Redenciones de refresh tokens por resultado",
	}, []string{"result"}) // ok|reuse|revoked|invalid

	ReuseDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Refresh tokens presentados más de una vez",
	})

	Revocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_revocations_total",
		Help: "Revocaciones por alcance",
	}, []string{"scope"}) // token|session|subject

	// ─── M2M ───

	M2MAuth = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_m2m_requests_total",
		Help: "Requests de tokens M2M por resultado",
	}, []string{"result"})

	// ─── HTTP ───

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	HTTPInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Requests en vuelo",
	})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rechazadas por rate limit",
	}, []string{"route"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		TokensIssued, TokensVerified, SignLatency,
		KeyRotations, KeyTransitions, KeysByStatus, KeyGenerationFailures, JWKSRebuilds,
		SecretSyncOps, SecretStoreDegraded,
		RefreshOutcomes, ReuseDetections, Revocations,
		M2MAuth,
		HTTPRequests, HTTPDuration, HTTPInflight, RateLimited,
	}
}

// Register registra todos los collectors en reg (o el default si es nil).
// Tolera registros duplicados para que tests y main puedan llamarlo varias veces.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObserveSign registra una firma exitosa.
func ObserveSign(class string, start time.Time) {
	TokensIssued.WithLabelValues(class).Inc()
	SignLatency.Observe(time.Since(start).Seconds())
}

// SetDegraded refleja el estado del secret store.
func SetDegraded(v bool) {
	if v {
		SecretStoreDegraded.Set(1)
		return
	}
	SecretStoreDegraded.Set(0)
}
