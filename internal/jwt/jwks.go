package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// JWKSDocument es el key set serializado junto con su ETag.
type JWKSDocument struct {
	Body    []byte
	ETag    string
	Version uint64
}

type jwksEntry struct {
	pub       ed25519.PublicKey
	status    repository.KeyStatus
	expiresAt time.Time // solo retired: fin del historial
}

type jwksSnapshot struct {
	doc       JWKSDocument
	published int
	keys      map[string]jwksEntry
}

// JWKSService mantiene el key set público en un snapshot inmutable. Se
// reconstruye sincrónicamente en cada transición del KeyManager (OnKeyring);
// la verificación lo lee sin locks.
type JWKSService struct {
	snap    atomic.Pointer[jwksSnapshot]
	group   singleflight.Group
	rebuild atomic.Pointer[func(context.Context) error]

	maxAge time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewJWKSService crea el servicio. maxAge es el max-age publicado en Cache-Control.
func NewJWKSService(maxAge time.Duration, now func() time.Time) *JWKSService {
	if now == nil {
		now = time.Now
	}
	s := &JWKSService{maxAge: maxAge, now: now, log: logger.Named("jwks")}
	s.snap.Store(&jwksSnapshot{keys: map[string]jwksEntry{}})
	return s
}

// SetRebuilder registra la reconstrucción de arranque en frío (pull del secret store).
func (s *JWKSService) SetRebuilder(fn func(context.Context) error) {
	s.rebuild.Store(&fn)
}

// OnKeyring implementa KeyringObserver.
func (s *JWKSService) OnKeyring(ring *Keyring) {
	set := repository.JWKS{Keys: []repository.JWK{}}
	keys := make(map[string]jwksEntry, len(ring.Keys()))

	publish := func(k *repository.SigningKey) {
		if k == nil || len(k.PublicKey) != ed25519.PublicKeySize {
			return
		}
		set.Keys = append(set.Keys, JWKFromKey(k))
		keys[k.ID] = jwksEntry{pub: k.PublicKey, status: k.Status}
	}
	publish(ring.Active)
	publish(ring.Pending)
	for _, k := range ring.Retiring {
		publish(k)
	}
	published := len(set.Keys)

	// Las retiradas no se publican pero siguen verificando hasta ExpiresAt.
	for _, k := range ring.Retired {
		if len(k.PublicKey) != ed25519.PublicKeySize {
			continue
		}
		keys[k.ID] = jwksEntry{pub: k.PublicKey, status: repository.KeyRetired, expiresAt: k.ExpiresAt}
	}

	body, err := json.Marshal(set)
	if err != nil {
		// repository.JWKS solo tiene strings; no debería pasar.
		s.log.Error("no se pudo serializar JWKS", logger.Err(err))
		return
	}
	sum := sha256.Sum256(body)
	s.snap.Store(&jwksSnapshot{
		doc: JWKSDocument{
			Body:    body,
			ETag:    `"` + hex.EncodeToString(sum[:16]) + `"`,
			Version: ring.Version,
		},
		published: published,
		keys:      keys,
	})
	metrics.JWKSRebuilds.Inc()
}

// Document devuelve el key set vigente. Con el cache vacío intenta una
// reconstrucción sincrónica (coalescida) antes de responder.
func (s *JWKSService) Document(ctx context.Context) (JWKSDocument, error) {
	if cur := s.snap.Load(); cur.published > 0 {
		return cur.doc, nil
	}
	fn := s.rebuild.Load()
	if fn == nil {
		return JWKSDocument{}, ErrEmptyKeySet
	}
	_, err, _ := s.group.Do("rebuild", func() (any, error) {
		if cur := s.snap.Load(); cur.published > 0 {
			return nil, nil
		}
		s.log.Info("JWKS vacío, reconstruyendo desde secret store")
		return nil, (*fn)(ctx)
	})
	if err != nil {
		return JWKSDocument{}, fmt.Errorf("%w: rebuild: %v", ErrEmptyKeySet, err)
	}
	if cur := s.snap.Load(); cur.published > 0 {
		return cur.doc, nil
	}
	return JWKSDocument{}, ErrEmptyKeySet
}

// GetJWKS devuelve el JSON del key set.
func (s *JWKSService) GetJWKS(ctx context.Context) ([]byte, error) {
	doc, err := s.Document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Body, nil
}

// PublicKey resuelve un kid para verificar. Sin I/O ni locks.
func (s *JWKSService) PublicKey(kid string) (ed25519.PublicKey, error) {
	e, ok := s.snap.Load().keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	if e.status == repository.KeyRetired && !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		return nil, ErrUnknownKey
	}
	return e.pub, nil
}

// Has reporta si kid está publicado en el documento (no retirado).
func (s *JWKSService) Has(kid string) bool {
	e, ok := s.snap.Load().keys[kid]
	return ok && e.status != repository.KeyRetired
}

// Version del último snapshot aplicado.
func (s *JWKSService) Version() uint64 { return s.snap.Load().doc.Version }

// CacheMaxAge acota el max-age publicado para que un verificador externo
// nunca retenga el key set más allá de la mitad del overlap ni del grace de
// activación de la clave pending. Valores <= 0 no acotan.
func CacheMaxAge(maxAge, overlap, activationGrace time.Duration) time.Duration {
	out := maxAge
	for _, limit := range []time.Duration{overlap / 2, activationGrace} {
		if limit > 0 && (out <= 0 || limit < out) {
			out = limit
		}
	}
	return out
}

// CacheControl arma el header para el endpoint público.
func (s *JWKSService) CacheControl() string {
	secs := int(s.maxAge / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("public, max-age=%d, must-revalidate", secs)
}
