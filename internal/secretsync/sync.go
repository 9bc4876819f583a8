// Package secretsync conecta el estado del KeyManager con el secret store externo:
// push de cada transición, pull de reconciliación (arranque, webhook, safety net
// periódico) y el estado degradado cuando el store no responde.
package secretsync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// ErrSecretStoreUnavailable: el store no respondió dentro del timeout tras los reintentos.
var ErrSecretStoreUnavailable = errors.New("secret_store_unavailable")

// Target es el lado KeyManager de la sincronización.
type Target interface {
	Load(ctx context.Context, keys []repository.SigningKey) error
	SetDegraded(degraded bool)
}

// Config de la sincronización.
type Config struct {
	Prefix       string        // default "signing-keys"
	Timeout      time.Duration // por intento; default 3s
	PullInterval time.Duration // safety net; default 5m
	Retries      int           // reintentos ante fallas de I/O; default 2
	RetryBase    time.Duration // default 200ms
}

// Event es una notificación de cambio del secret store (webhook).
type Event struct {
	Kind   string    `json:"kind"` // written | deleted | rotated
	Path   string    `json:"path,omitempty"`
	KID    string    `json:"kid,omitempty"`
	At     time.Time `json:"at,omitempty"`
	Source string    `json:"source,omitempty"`
}

// SecretSync implementa jwt.KeyPersister y la reconciliación inversa.
type SecretSync struct {
	store  repository.SecretStore
	cfg    Config
	target atomic.Pointer[targetRef]

	events   chan Event
	pullMu   sync.Mutex
	degraded atomic.Bool
	lastPull atomic.Pointer[time.Time]

	log *zap.Logger
}

type targetRef struct{ t Target }

// New crea el sincronizador. Bind debe llamarse antes de Pull/Run.
func New(store repository.SecretStore, cfg Config) *SecretSync {
	if cfg.Prefix == "" {
		cfg.Prefix = "signing-keys"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = 5 * time.Minute
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &SecretSync{
		store:  store,
		cfg:    cfg,
		events: make(chan Event, 16),
		log:    logger.Named("secretsync"),
	}
}

// Bind conecta el KeyManager (se resuelve el ciclo de construcción).
func (s *SecretSync) Bind(t Target) { s.target.Store(&targetRef{t: t}) }

// Degraded reporta si la última operación contra el store falló por disponibilidad.
func (s *SecretSync) Degraded() bool { return s.degraded.Load() }

// LastPull devuelve el momento del último pull exitoso (zero si nunca).
func (s *SecretSync) LastPull() time.Time {
	if t := s.lastPull.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

func (s *SecretSync) keyPath(kid string) string { return path.Join(s.cfg.Prefix, kid) }

// Push escribe la clave en <prefix>/<kid>. Idempotente por kid: reescribir el
// mismo registro deja el store igual.
func (s *SecretSync) Push(ctx context.Context, key *repository.SigningKey) error {
	b, err := encodeKey(key)
	if err != nil {
		return err
	}
	err = s.do(ctx, "push", func(ctx context.Context) error {
		return s.store.Write(ctx, s.keyPath(key.ID), b)
	})
	if err != nil {
		return err
	}
	audit.Log(ctx, "secret.push", logger.KID(key.ID),
		logger.String("status", string(key.Status)),
		logger.Bool("private_material", len(key.PrivateKey) > 0))
	return nil
}

// Delete borra el registro de una clave purgada.
func (s *SecretSync) Delete(ctx context.Context, kid string) error {
	err := s.do(ctx, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, s.keyPath(kid))
	})
	if err != nil {
		return err
	}
	audit.Log(ctx, "secret.delete", logger.KID(kid))
	return nil
}

// Pull lee todas las claves bajo el prefijo y reconcilia el KeyManager.
// Registros ilegibles se saltean (quedan en el log) sin degradar el servicio.
func (s *SecretSync) Pull(ctx context.Context) ([]repository.SigningKey, error) {
	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	var names []string
	err := s.do(ctx, "list", func(ctx context.Context) error {
		var lerr error
		names, lerr = s.store.List(ctx, s.cfg.Prefix)
		return lerr
	})
	if err != nil {
		return nil, err
	}

	keys := make([]repository.SigningKey, 0, len(names))
	for _, name := range names {
		var raw []byte
		err := s.do(ctx, "read", func(ctx context.Context) error {
			var rerr error
			raw, rerr = s.store.Read(ctx, s.keyPath(name))
			switch {
			case errors.Is(rerr, repository.ErrNotFound):
				raw = nil
				return nil
			case errors.Is(rerr, repository.ErrInvalidInput):
				s.log.Warn("registro ilegible en secret store", logger.String("name", name), logger.Err(rerr))
				raw = nil
				return nil
			}
			return rerr
		})
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		k, derr := decodeKey(raw)
		if derr != nil {
			s.log.Warn("registro de clave inválido en secret store", logger.String("name", name), logger.Err(derr))
			continue
		}
		keys = append(keys, k)
	}

	if ref := s.target.Load(); ref != nil {
		if err := ref.t.Load(ctx, keys); err != nil {
			return nil, fmt.Errorf("reconcile keyring: %w", err)
		}
	}
	now := time.Now()
	s.lastPull.Store(&now)
	metrics.SecretSyncOps.WithLabelValues("pull", "ok").Inc()
	audit.Log(ctx, "secret.pull", logger.Count(len(keys)))
	return keys, nil
}

// OnChangeNotification procesa un cambio fuera de banda: reconciliación
// sincrónica vía Pull.
func (s *SecretSync) OnChangeNotification(ctx context.Context, ev Event) error {
	s.log.Info("notificación de cambio del secret store",
		logger.String("kind", ev.Kind), logger.KID(ev.KID), logger.String("source", ev.Source))
	audit.Log(ctx, "secret.change_notification",
		logger.String("kind", ev.Kind), logger.KID(ev.KID), logger.String("source", ev.Source))
	_, err := s.Pull(ctx)
	return err
}

// Enqueue encola un evento para Run. Devuelve false si la cola está llena; el
// pull periódico lo cubre.
func (s *SecretSync) Enqueue(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Run consume eventos encolados y ejecuta el pull periódico de seguridad.
func (s *SecretSync) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.PullInterval)
	defer t.Stop()
	ctx = audit.WithActor(ctx, "secretsync")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			if err := s.OnChangeNotification(ctx, ev); err != nil {
				s.log.Warn("reconciliación por evento falló", logger.Err(err))
			}
		case <-t.C:
			if _, err := s.Pull(ctx); err != nil {
				s.log.Warn("pull periódico falló", logger.Err(err))
			}
		}
	}
}

// Ping verifica conectividad (readyz) y actualiza el estado degradado.
func (s *SecretSync) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", s.store.Ping)
}

// do ejecuta fn con timeout por intento y reintentos con backoff. Las fallas
// agotadas marcan degradado; el primer éxito lo limpia.
func (s *SecretSync) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	delay := s.cfg.RetryBase
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return s.fail(op, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err = fn(actx)
		cancel()
		if err == nil {
			s.setDegraded(false)
			metrics.SecretSyncOps.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if errors.Is(err, repository.ErrInvalidInput) {
			metrics.SecretSyncOps.WithLabelValues(op, "error").Inc()
			return fmt.Errorf("secret store %s: %w", op, err)
		}
	}
	return s.fail(op, err)
}

func (s *SecretSync) fail(op string, err error) error {
	metrics.SecretSyncOps.WithLabelValues(op, "error").Inc()
	s.setDegraded(true)
	s.log.Warn("secret store no disponible", logger.Op(op), logger.Err(err))
	return fmt.Errorf("%w: %s: %v", ErrSecretStoreUnavailable, op, err)
}

func (s *SecretSync) setDegraded(v bool) {
	if s.degraded.Swap(v) == v {
		return
	}
	metrics.SetDegraded(v)
	if ref := s.target.Load(); ref != nil {
		ref.t.SetDegraded(v)
	}
}
