package jwt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// KeyPersister guarda el material de las claves fuera del proceso (secret store).
// Push con PrivateKey nil sobrescribe el registro dejando solo la parte pública.
type KeyPersister interface {
	Push(ctx context.Context, key *repository.SigningKey) error
	Delete(ctx context.Context, kid string) error
}

// KeyringObserver recibe cada snapshot nuevo ANTES de que sea visible para los
// firmantes (JWKSService).
type KeyringObserver interface {
	OnKeyring(ring *Keyring)
}

// KeyManagerConfig controla la política de rotación.
type KeyManagerConfig struct {
	ActivationGrace  time.Duration // pending → active
	Overlap          time.Duration // retiring → retired
	RetiredGrace     time.Duration // historial de verificación de claves retiradas
	RotationInterval time.Duration
	RetireSweep      time.Duration

	GenerateRetries int
	RetryBase       time.Duration

	Entropy io.Reader        // nil: crypto/rand
	Now     func() time.Time // nil: time.Now
}

// DefaultKeyManagerConfig: rotación diaria, overlap de 48h y 31 días de historial
// (cubre la TTL de refresh).
func DefaultKeyManagerConfig() KeyManagerConfig {
	return KeyManagerConfig{
		ActivationGrace:  time.Hour,
		Overlap:          48 * time.Hour,
		RetiredGrace:     744 * time.Hour,
		RotationInterval: 24 * time.Hour,
		RetireSweep:      10 * time.Minute,
		GenerateRetries:  4,
		RetryBase:        100 * time.Millisecond,
	}
}

// KeyManager es dueño del ciclo de vida de las signing keys.
//
// El estado vive en un Keyring inmutable detrás de un atomic.Pointer: los firmantes
// leen sin locks. mu serializa a los escritores (rotate, retire, load) y nunca se
// toma en el camino de firma.
type KeyManager struct {
	cfg       KeyManagerConfig
	persister KeyPersister
	observer  KeyringObserver

	ring     atomic.Pointer[Keyring]
	mu       sync.Mutex
	refillMu sync.Mutex
	degraded atomic.Bool

	log *zap.Logger
}

// NewKeyManager arma el manager. persister y observer pueden ser nil (tests).
func NewKeyManager(cfg KeyManagerConfig, persister KeyPersister, observer KeyringObserver) *KeyManager {
	def := DefaultKeyManagerConfig()
	if cfg.ActivationGrace < 0 {
		cfg.ActivationGrace = 0
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = def.Overlap
	}
	if cfg.RetiredGrace <= 0 {
		cfg.RetiredGrace = def.RetiredGrace
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = def.RotationInterval
	}
	if cfg.RetireSweep <= 0 {
		cfg.RetireSweep = def.RetireSweep
	}
	if cfg.GenerateRetries < 0 {
		cfg.GenerateRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	km := &KeyManager{
		cfg:       cfg,
		persister: persister,
		observer:  observer,
		log:       logger.Named("keymanager"),
	}
	km.ring.Store(&Keyring{})
	return km
}

// Snapshot devuelve el keyring vigente. No mutar.
func (km *KeyManager) Snapshot() *Keyring { return km.ring.Load() }

// ActiveSigner devuelve la clave activa. Sin clave activa falla cerrado.
func (km *KeyManager) ActiveSigner() (*repository.SigningKey, error) {
	k := km.ring.Load().Active
	if k == nil || len(k.PrivateKey) == 0 {
		return nil, ErrNoActiveKey
	}
	return k, nil
}

// Degraded reporta si el secret store está caído (rotación pausada).
func (km *KeyManager) Degraded() bool { return km.degraded.Load() }

// SetDegraded lo actualiza SecretSync según el resultado de sus operaciones.
func (km *KeyManager) SetDegraded(v bool) {
	if km.degraded.Swap(v) != v {
		metrics.SetDegraded(v)
		if v {
			km.log.Warn("secret store degradado, rotación pausada")
		} else {
			km.log.Info("secret store recuperado, rotación reanudada")
		}
	}
}

// ─── Generación ───

// GenerateKey crea un par Ed25519 nuevo en estado pending, activable en
// now + ActivationGrace. No lo instala ni lo persiste. Reintenta con backoff
// exponencial ante fallas de entropía.
func (km *KeyManager) GenerateKey(ctx context.Context) (*repository.SigningKey, error) {
	var lastErr error
	delay := km.cfg.RetryBase
	for attempt := 0; attempt <= km.cfg.GenerateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		pub, priv, err := GenerateEd25519(km.cfg.Entropy)
		if err != nil {
			lastErr = err
			metrics.KeyGenerationFailures.Inc()
			km.log.Warn("fallo generando clave", logger.Count(attempt+1), logger.Err(err))
			continue
		}
		now := km.cfg.Now().UTC()
		activation := now.Add(km.cfg.ActivationGrace)
		return &repository.SigningKey{
			ID:           NewKID(now),
			Algorithm:    repository.AlgEdDSA,
			PrivateKey:   priv,
			PublicKey:    pub,
			Status:       repository.KeyPending,
			CreatedAt:    now,
			ActivationAt: activation,
			ExpiresAt:    activation.Add(km.cfg.RotationInterval + km.cfg.Overlap),
		}, nil
	}
	return nil, lastErr
}

// ─── Rotación ───

// EnsureActive garantiza que exista una clave activa (primer arranque) y que el
// slot pending esté lleno. Llamar antes de habilitar la firma.
func (km *KeyManager) EnsureActive(ctx context.Context) error {
	if km.ring.Load().Active == nil {
		if _, err := km.rotate(ctx, "bootstrap", true); err != nil {
			return err
		}
	}
	return km.refill(ctx)
}

// Rotate promueve la clave pending si ya pasó su ActivationAt.
func (km *KeyManager) Rotate(ctx context.Context) (*repository.SigningKey, error) {
	return km.rotate(ctx, "scheduled", false)
}

// RotateNow fuerza la promoción (compromiso sospechado). Si no hay pending
// genera una clave y la activa inmediatamente.
func (km *KeyManager) RotateNow(ctx context.Context, reason string) (*repository.SigningKey, error) {
	if reason == "" {
		reason = "forced"
	}
	return km.rotate(ctx, reason, true)
}

func (km *KeyManager) rotate(ctx context.Context, reason string, force bool) (*repository.SigningKey, error) {
	if km.degraded.Load() {
		return nil, ErrRotationPaused
	}

	// La generación pesada ocurre fuera de mu.
	var fresh *repository.SigningKey
	if cur := km.ring.Load(); cur.Pending == nil && (force || cur.Active == nil) {
		k, err := km.GenerateKey(ctx)
		if err != nil {
			return nil, err
		}
		fresh = k
	}

	km.mu.Lock()
	promoted, err := km.promoteLocked(ctx, reason, force, fresh)
	km.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if rerr := km.refill(ctx); rerr != nil {
		km.log.Warn("no se pudo rellenar la clave pending", logger.Err(rerr))
	}
	return promoted, nil
}

func (km *KeyManager) promoteLocked(ctx context.Context, reason string, force bool, fresh *repository.SigningKey) (*repository.SigningKey, error) {
	cur := km.ring.Load()
	now := km.cfg.Now().UTC()
	bootstrap := cur.Active == nil

	candidate := cur.Pending
	if candidate == nil {
		candidate = fresh
	}
	if candidate == nil {
		return nil, ErrPendingNotReady
	}
	if !force && !bootstrap && now.Before(candidate.ActivationAt) {
		return nil, ErrPendingNotReady
	}

	active := cloneKey(candidate)
	active.Status = repository.KeyActive
	if now.Before(active.ActivationAt) {
		active.ActivationAt = now
	}
	active.ExpiresAt = active.ActivationAt.Add(km.cfg.RotationInterval + km.cfg.Overlap)

	next := cur.next()
	next.Active = active
	if candidate == cur.Pending {
		next.Pending = nil
	}

	var demoted *repository.SigningKey
	if cur.Active != nil {
		demoted = cloneKey(cur.Active)
		demoted.Status = repository.KeyRetiring
		demoted.RetiringSince = now
		demoted.ExpiresAt = now.Add(km.cfg.Overlap)
		next.Retiring = append(next.Retiring, demoted)
	}

	// Persistir antes de publicar: una clave que no se pudo guardar no se usa.
	if err := km.persist(ctx, active); err != nil {
		return nil, err
	}
	if demoted != nil {
		if err := km.persist(ctx, demoted); err != nil {
			return nil, err
		}
	}

	km.publishLocked(next)

	if bootstrap {
		reason = "bootstrap"
	}
	metrics.KeyRotations.WithLabelValues(reason).Inc()
	metrics.KeyTransitions.WithLabelValues(string(repository.KeyActive)).Inc()
	audit.Log(ctx, "key.activated", logger.KID(active.ID), logger.Reason(reason))
	if demoted != nil {
		metrics.KeyTransitions.WithLabelValues(string(repository.KeyRetiring)).Inc()
		audit.Log(ctx, "key.retiring", logger.KID(demoted.ID), logger.Reason(reason))
	}
	km.log.Info("clave rotada", logger.KID(active.ID), logger.Reason(reason), zap.Uint64("ring_version", next.Version))
	return active, nil
}

// refill genera e instala una clave pending si el slot está vacío.
func (km *KeyManager) refill(ctx context.Context) error {
	km.refillMu.Lock()
	defer km.refillMu.Unlock()

	if km.ring.Load().Pending != nil {
		return nil
	}
	if km.degraded.Load() {
		return ErrRotationPaused
	}
	k, err := km.GenerateKey(ctx)
	if err != nil {
		return err
	}
	if err := km.persist(ctx, k); err != nil {
		return err
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	cur := km.ring.Load()
	if cur.Pending != nil {
		return nil
	}
	next := cur.next()
	next.Pending = k
	km.publishLocked(next)

	metrics.KeyTransitions.WithLabelValues(string(repository.KeyPending)).Inc()
	audit.Log(ctx, "key.generated", logger.KID(k.ID), zap.Time("activation_at", k.ActivationAt))
	return nil
}

// ─── Retiro ───

// Retire pasa una clave retiring a retired una vez cumplido el overlap. Borra el
// material privado del secret store y deja la parte pública en el historial de
// verificación hasta RetiredAt + RetiredGrace.
func (km *KeyManager) Retire(ctx context.Context, kid string) error {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.retireLocked(ctx, kid, km.cfg.Now().UTC())
}

func (km *KeyManager) retireLocked(ctx context.Context, kid string, now time.Time) error {
	cur := km.ring.Load()
	var target *repository.SigningKey
	for _, k := range cur.Retiring {
		if k.ID == kid {
			target = k
			break
		}
	}
	if target == nil {
		for _, k := range cur.Retired {
			if k.ID == kid {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	if now.Before(target.RetiringSince.Add(km.cfg.Overlap)) {
		return ErrOverlapNotElapsed
	}

	retired := cloneKey(target)
	retired.PrivateKey = nil
	retired.Status = repository.KeyRetired
	retired.RetiredAt = now
	retired.ExpiresAt = now.Add(km.cfg.RetiredGrace)

	if err := km.persist(ctx, retired); err != nil {
		return err
	}

	next := cur.next()
	next.Retiring = cur.withoutRetiring(kid)
	next.Retired = append(next.Retired, retired)
	km.publishLocked(next)

	metrics.KeyTransitions.WithLabelValues(string(repository.KeyRetired)).Inc()
	audit.Log(ctx, "key.retired", logger.KID(kid), zap.Time("history_until", retired.ExpiresAt))
	return nil
}

// RetireExpired retira toda clave retiring con el overlap cumplido y purga del
// historial las retiradas cuyo grace venció.
func (km *KeyManager) RetireExpired(ctx context.Context) (int, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := km.cfg.Now().UTC()
	n := 0
	var errs []error
	for _, k := range km.ring.Load().Retiring {
		if now.Before(k.RetiringSince.Add(km.cfg.Overlap)) {
			continue
		}
		if err := km.retireLocked(ctx, k.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}

	cur := km.ring.Load()
	keep := make([]*repository.SigningKey, 0, len(cur.Retired))
	var purged []string
	for _, k := range cur.Retired {
		if !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt) {
			purged = append(purged, k.ID)
			continue
		}
		keep = append(keep, k)
	}
	if len(purged) > 0 {
		next := cur.next()
		next.Retired = keep
		km.publishLocked(next)
		for _, kid := range purged {
			if km.persister != nil {
				pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := km.persister.Delete(pctx, kid); err != nil {
					km.log.Warn("no se pudo borrar clave purgada del secret store", logger.KID(kid), logger.Err(err))
				}
				cancel()
			}
			audit.Log(ctx, "key.purged", logger.KID(kid))
		}
	}
	return n, errors.Join(errs...)
}

// ─── Reconciliación ───

// Load reemplaza el estado con las claves leídas del secret store (pull).
// Reglas: una sola activa (la de ActivationAt más reciente con material privado);
// las demás activas pasan a retiring; a lo sumo una pending; las retiradas con
// grace vencido se descartan. Un pull vacío no borra el estado local.
func (km *KeyManager) Load(ctx context.Context, keys []repository.SigningKey) error {
	if len(keys) == 0 {
		return nil
	}
	km.mu.Lock()
	defer km.mu.Unlock()

	now := km.cfg.Now().UTC()
	cur := km.ring.Load()
	next := cur.next()
	next.Active, next.Pending, next.Retiring, next.Retired = nil, nil, nil, nil

	var actives, pendings []*repository.SigningKey
	for i := range keys {
		k := cloneKey(&keys[i])
		switch k.Status {
		case repository.KeyActive:
			if len(k.PrivateKey) == 0 {
				k.Status = repository.KeyRetiring
				next.Retiring = append(next.Retiring, k)
				continue
			}
			actives = append(actives, k)
		case repository.KeyPending:
			if len(k.PrivateKey) == 0 {
				continue
			}
			pendings = append(pendings, k)
		case repository.KeyRetiring:
			next.Retiring = append(next.Retiring, k)
		case repository.KeyRetired:
			k.PrivateKey = nil
			if !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt) {
				continue
			}
			next.Retired = append(next.Retired, k)
		default:
			km.log.Warn("status de clave desconocido en el secret store", logger.KID(k.ID), logger.String("status", string(k.Status)))
		}
	}

	sort.Slice(actives, func(i, j int) bool { return actives[i].ActivationAt.After(actives[j].ActivationAt) })
	if len(actives) > 0 {
		next.Active = actives[0]
		for _, k := range actives[1:] {
			k.Status = repository.KeyRetiring
			if k.RetiringSince.IsZero() {
				k.RetiringSince = next.Active.ActivationAt
			}
			next.Retiring = append(next.Retiring, k)
		}
	}
	sort.Slice(pendings, func(i, j int) bool { return pendings[i].CreatedAt.After(pendings[j].CreatedAt) })
	if len(pendings) > 0 {
		next.Pending = pendings[0]
	}

	km.publishLocked(next)
	audit.Log(ctx, "keyring.reconciled", logger.Count(len(next.Keys())))
	km.log.Info("keyring reconciliado desde secret store",
		logger.Count(len(next.Keys())), zap.Uint64("ring_version", next.Version))
	return nil
}

// ─── Loop ───

// Run ejecuta rotaciones y barridos de retiro hasta que ctx termine.
func (km *KeyManager) Run(ctx context.Context) error {
	if err := km.EnsureActive(ctx); err != nil && km.ring.Load().Active == nil {
		return err
	}
	rot := time.NewTicker(km.cfg.RotationInterval)
	defer rot.Stop()
	sweep := time.NewTicker(km.cfg.RetireSweep)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rot.C:
			if _, err := km.Rotate(ctx); err != nil {
				switch {
				case errors.Is(err, ErrPendingNotReady):
					km.log.Debug("rotación postergada: pending no lista")
					_ = km.refill(ctx)
				case errors.Is(err, ErrRotationPaused):
					km.log.Warn("rotación pausada por secret store degradado")
				default:
					km.log.Error("rotación falló", logger.Err(err))
				}
			}
		case <-sweep.C:
			if _, err := km.RetireExpired(ctx); err != nil {
				km.log.Warn("barrido de retiro con errores", logger.Err(err))
			}
			if km.ring.Load().Pending == nil {
				_ = km.refill(ctx)
			}
		}
	}
}

// ─── helpers ───

func (km *KeyManager) persist(ctx context.Context, k *repository.SigningKey) error {
	if km.persister == nil {
		return nil
	}
	if err := km.persister.Push(ctx, k); err != nil {
		km.SetDegraded(true)
		return fmt.Errorf("persist key %s: %w", k.ID, err)
	}
	return nil
}

// publishLocked notifica al observer y recién después expone el snapshot a los
// firmantes. Requiere mu.
func (km *KeyManager) publishLocked(next *Keyring) {
	if km.observer != nil {
		km.observer.OnKeyring(next)
	}
	km.ring.Store(next)

	counts := map[repository.KeyStatus]int{}
	for _, k := range next.Keys() {
		counts[k.Status]++
	}
	for _, s := range []repository.KeyStatus{repository.KeyPending, repository.KeyActive, repository.KeyRetiring, repository.KeyRetired} {
		metrics.KeysByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
