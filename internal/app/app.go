// Package app arma el grafo de dependencias a partir de la config: stores,
// KeyManager, SecretSync, JWKS, TokenService, lifecycle, M2M y el handler HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/journal-auth/internal/cache"
	"github.com/dropDatabas3/journal-auth/internal/config"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/admin"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/auth"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/health"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/jwks"
	m2mctrl "github.com/dropDatabas3/journal-auth/internal/http/controllers/m2m"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/secrets"
	"github.com/dropDatabas3/journal-auth/internal/http/router"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/lifecycle"
	"github.com/dropDatabas3/journal-auth/internal/m2m"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
	"github.com/dropDatabas3/journal-auth/internal/rate"
	"github.com/dropDatabas3/journal-auth/internal/secretsync"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

// Keys es el subconjunto que necesitan tanto el servicio como cmd/keys.
type Keys struct {
	Secrets repository.SecretStore
	Sync    *secretsync.SecretSync
	JWKS    *jwt.JWKSService
	Manager *jwt.KeyManager
}

// Close libera el secret store si mantiene recursos (ej: conexiones de Vault).
func (k *Keys) Close() error {
	if c, ok := k.Secrets.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// App es el servicio completo.
type App struct {
	Keys
	Cfg       *config.Config
	Tokens    *jwt.TokenService
	Store     repository.TokenStore
	Lifecycle *lifecycle.Manager
	M2M       *m2m.Authenticator
	Registry  repository.ServiceRegistry
	Limiter   rate.Limiter
	Handler   http.Handler

	closers []func() error
	log     *zap.Logger
}

// OpenKeys abre el secret store, reconcilia el keyring desde ahí y deja la
// firma lista. No genera claves si bootstrap es false (cmd/keys list).
func OpenKeys(ctx context.Context, cfg *config.Config, bootstrap bool) (*Keys, error) {
	secretStore, err := store.OpenSecretStore(ctx, store.SecretConfig{
		Driver:         cfg.Secrets.Driver,
		Dir:            cfg.Secrets.FS.Dir,
		MasterKey:      cfg.Secrets.MasterKey,
		VaultAddress:   cfg.Secrets.Vault.Address,
		VaultToken:     cfg.Secrets.Vault.Token,
		VaultMount:     cfg.Secrets.Vault.Mount,
		VaultNamespace: cfg.Secrets.Vault.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}

	ss := secretsync.New(secretStore, secretsync.Config{
		Prefix:       cfg.Secrets.Prefix,
		Timeout:      config.Duration(cfg.Secrets.Timeout),
		PullInterval: config.Duration(cfg.Secrets.PullInterval),
		Retries:      cfg.Secrets.Retries,
	})
	jwksSvc := jwt.NewJWKSService(jwt.CacheMaxAge(
		config.Duration(cfg.Keys.JWKSMaxAge),
		config.Duration(cfg.Keys.Overlap),
		config.Duration(cfg.Keys.ActivationGrace),
	), nil)
	km := jwt.NewKeyManager(KeyManagerConfig(cfg), ss, jwksSvc)
	ss.Bind(km)
	jwksSvc.SetRebuilder(func(ctx context.Context) error {
		_, err := ss.Pull(ctx)
		return err
	})

	keys := &Keys{Secrets: secretStore, Sync: ss, JWKS: jwksSvc, Manager: km}
	if _, err := ss.Pull(ctx); err != nil {
		_ = keys.Close()
		return nil, fmt.Errorf("initial pull: %w", err)
	}
	if bootstrap {
		if err := km.EnsureActive(ctx); err != nil {
			_ = keys.Close()
			return nil, fmt.Errorf("signing key: %w", err)
		}
	}
	return keys, nil
}

// New construye el servicio completo. Close libera los stores.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg, log: logger.Named("app")}

	keys, err := OpenKeys(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	a.Keys = *keys
	a.closers = append(a.closers, a.Keys.Close)

	policies, err := PolicyTable(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Tokens = jwt.NewTokenService(jwt.TokenServiceConfig{
		Issuer:    cfg.Tokens.Issuer,
		ClockSkew: config.Duration(cfg.Tokens.ClockSkew),
	}, policies, a.Manager, a.JWKS)

	a.Store, err = store.OpenTokenStore(ctx, store.TokenConfig{
		Driver:        cfg.Store.Driver,
		DSN:           cfg.Store.DSN,
		Database:      cfg.Store.Database,
		KeyPrefix:     cfg.Store.KeyPrefix,
		MaxConns:      cfg.Store.MaxConns,
		RevocationTTL: config.Duration(cfg.Store.RevocationTTL),
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("token store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	a.Lifecycle = lifecycle.New(a.Tokens, a.Store, cache.NewMemory(time.Minute, 5*time.Minute), lifecycle.Config{
		ReuseScope:      lifecycle.ReuseScope(cfg.Lifecycle.ReuseScope),
		RevokedCacheTTL: config.Duration(cfg.Lifecycle.RevokedCacheTTL),
	})

	if cfg.M2M.RegistryFile != "" {
		fr, err := m2m.LoadFileRegistry(cfg.M2M.RegistryFile)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("m2m registry: %w", err)
		}
		a.Registry = fr
	} else {
		a.log.Warn("m2m.registry_file vacío: ningún servicio puede pedir tokens m2m")
		a.Registry = m2m.NewMemoryRegistry()
	}
	a.M2M = m2m.New(a.Tokens, a.Registry)

	if cfg.Rate.Enabled {
		if a.Limiter, err = a.openLimiter(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Handler = router.New(router.Deps{
		JWKS:           jwks.NewController(a.JWKS),
		Auth:           auth.NewController(a.Lifecycle),
		M2M:            m2mctrl.NewController(a.M2M),
		Keys:           admin.NewKeysController(a.Manager),
		Webhook:        secrets.NewWebhookController(a.Sync, cfg.Secrets.WebhookSecret),
		Health:         health.NewController(a.Manager, a.Sync, a.Store),
		InternalAPIKey: cfg.Server.InternalAPIKey,
		AdminAPIKey:    cfg.Server.AdminAPIKey,
		RateLimiter:    a.Limiter,
		RateLimit:      cfg.Rate.Limit,
		RateWindow:     config.Duration(cfg.Rate.Window),
	})
	return a, nil
}

func (a *App) openLimiter() (rate.Limiter, error) {
	if a.Cfg.Rate.Driver != "redis" {
		return rate.NewMemoryLimiter(), nil
	}
	opts, err := rdb.ParseURL(a.Cfg.Rate.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("rate: redis url: %w", err)
	}
	client := rdb.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	return rate.NewRedisLimiter(client, a.Cfg.Rate.Prefix), nil
}

// Run ejecuta los loops de fondo (rotación, reconciliación, hot reload del
// registry) hasta que ctx termine o alguno falle.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Manager.Run(ctx) })
	g.Go(func() error { return a.Sync.Run(ctx) })
	if fr, ok := a.Registry.(*m2m.FileRegistry); ok {
		g.Go(func() error {
			if err := fr.Watch(ctx, config.Duration(a.Cfg.M2M.WatchDebounce)); err != nil {
				// Sin watcher el registry queda fijo; no es motivo para bajar el servicio.
				a.log.Warn("watch del registry m2m deshabilitado", logger.Err(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Close libera stores y clientes. Idempotente.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// KeyManagerConfig traduce la sección keys.
func KeyManagerConfig(cfg *config.Config) jwt.KeyManagerConfig {
	def := jwt.DefaultKeyManagerConfig()
	def.RotationInterval = config.Duration(cfg.Keys.RotationInterval)
	def.ActivationGrace = config.Duration(cfg.Keys.ActivationGrace)
	def.Overlap = config.Duration(cfg.Keys.Overlap)
	def.RetiredGrace = config.Duration(cfg.Keys.RetiredGrace)
	def.RetireSweep = config.Duration(cfg.Keys.RetireSweep)
	return def
}

// PolicyTable arma la tabla de clases con TTL y audiencias de la config. El
// trigger y el storage de cada clase no son configurables.
func PolicyTable(cfg *config.Config) (*jwt.PolicyTable, error) {
	byClass := map[jwt.Class]config.ClassConfig{
		jwt.ClassSession: cfg.Tokens.Session,
		jwt.ClassAccess:  cfg.Tokens.Access,
		jwt.ClassRefresh: cfg.Tokens.Refresh,
		jwt.ClassM2M:     cfg.Tokens.M2M,
	}
	policies := jwt.DefaultPolicies()
	for i := range policies {
		cc := byClass[policies[i].Class]
		if d := config.Duration(cc.TTL); d > 0 {
			policies[i].TTL = d
		}
		if len(cc.Audience) > 0 {
			policies[i].Audience = cc.Audience
		}
	}
	t, err := jwt.NewPolicyTable(policies...)
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}
	return t, nil
}
