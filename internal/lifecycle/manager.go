// Package lifecycle aplica la política por clase encima de sign/verify:
// bundles de sesión, refresh con rotación por uso y detección de reuso,
// revocación y logout.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/cache"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// ReuseScope define el alcance de la revocación al detectar reuso.
type ReuseScope string

const (
	ReuseScopeChain   ReuseScope = "chain"
	ReuseScopeSubject ReuseScope = "subject"
)

// Config del manager.
type Config struct {
	ReuseScope ReuseScope
	// RevokedCacheTTL: cuánto se recuerda localmente que una sesión NO está
	// revocada. Las revocadas se recuerdan hasta que vence el token.
	RevokedCacheTTL time.Duration
	Now             func() time.Time
}

// Bundle es el set enlazado de IssueSessionBundle. Los tres comparten sid.
type Bundle struct {
	SessionID string
	Session   *jwt.IssuedToken
	Access    *jwt.IssuedToken
	Refresh   *jwt.IssuedToken
}

// Pair es el resultado de Refresh.
type Pair struct {
	Access  *jwt.IssuedToken
	Refresh *jwt.IssuedToken
}

// Target de Revoke: exactamente uno de los dos.
type Target struct {
	// TokenID: jti de un refresh token o un session id.
	TokenID string
	Subject string
}

// Manager es el TokenLifecycleManager.
type Manager struct {
	tokens *jwt.TokenService
	store  repository.TokenStore
	cache  cache.Cache
	cfg    Config
	log    *zap.Logger
}

// New arma el manager. c puede ser nil (se crea un cache en memoria).
func New(tokens *jwt.TokenService, store repository.TokenStore, c cache.Cache, cfg Config) *Manager {
	if cfg.ReuseScope == "" {
		cfg.ReuseScope = ReuseScopeChain
	}
	if cfg.RevokedCacheTTL <= 0 {
		cfg.RevokedCacheTTL = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if c == nil {
		c = cache.NewMemory(cfg.RevokedCacheTTL, time.Minute)
	}
	return &Manager{tokens: tokens, store: store, cache: c, cfg: cfg, log: logger.Named("lifecycle")}
}

// IssueSessionBundle emite session + access + refresh para un subject ya
// autenticado. El refresh es raíz de una cadena nueva (sin parent).
func (m *Manager) IssueSessionBundle(ctx context.Context, subject string) (*Bundle, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject required", repository.ErrInvalidInput)
	}
	sid := uuid.NewString()
	opts := jwt.Options{SessionID: sid}

	session, err := m.tokens.Sign(ctx, jwt.ClassSession, subject, opts)
	if err != nil {
		return nil, err
	}
	refresh, err := m.issueRefresh(ctx, subject, sid, nil)
	if err != nil {
		return nil, err
	}
	access, err := m.tokens.Sign(ctx, jwt.ClassAccess, subject, opts)
	if err != nil {
		return nil, err
	}
	audit.Log(ctx, "session.issued", logger.Subject(subject), logger.SessionID(sid), logger.JTI(refresh.TokenID))
	return &Bundle{SessionID: sid, Session: session, Access: access, Refresh: refresh}, nil
}

// issueRefresh firma un refresh y guarda su registro. parent nil = raíz.
func (m *Manager) issueRefresh(ctx context.Context, subject, sid string, parent *repository.RefreshRecord) (*jwt.IssuedToken, error) {
	opts := jwt.Options{SessionID: sid}
	if parent != nil {
		opts.ParentTokenID = parent.JTI
	}
	tok, err := m.tokens.Sign(ctx, jwt.ClassRefresh, subject, opts)
	if err != nil {
		return nil, err
	}
	rec := repository.RefreshRecord{
		JTI:       tok.TokenID,
		Subject:   subject,
		SessionID: sid,
		KeyID:     tok.KeyID,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	}
	if parent != nil {
		rec.ParentJTI = parent.JTI
		rec.RootJTI = parent.RootJTI
	}
	if err := m.store.CreateRefresh(ctx, rec); err != nil {
		return nil, fmt.Errorf("store refresh record: %w", err)
	}
	return tok, nil
}

// Refresh redime un refresh token: CAS sobre el flag used en el lookup store.
// Ganador: nuevo access + refresh (parent = jti redimido). Perdedor o token ya
// usado: reuso detectado, revocación de la cadena y ErrReuseDetected.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	pair, err := m.refresh(ctx, refreshToken)
	metrics.RefreshOutcomes.WithLabelValues(refreshOutcome(err)).Inc()
	return pair, err
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	claims, err := m.tokens.Verify(refreshToken, jwt.Expect{Class: jwt.ClassRefresh})
	if err != nil {
		return nil, err
	}
	rec, err := m.store.GetRefresh(ctx, claims.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownToken
	}
	if err != nil {
		return nil, err
	}
	if rec.RevokedAt != nil {
		return nil, ErrRevoked
	}
	revoked, err := m.store.IsRevoked(ctx, rec.SessionID, rec.Subject, rec.IssuedAt)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}

	if rec.Used {
		m.onReuse(ctx, rec)
		return nil, ErrReuseDetected
	}

	// El par nuevo se firma y se persiste antes de quemar el token redimido: una
	// falla de firma o del store deja el refresh intacto y el reintento del
	// cliente no se confunde con reuso. Si el CAS se pierde, el registro nuevo
	// nunca se entregó y comparte sid con la cadena que se revoca.
	refresh, err := m.issueRefresh(ctx, rec.Subject, rec.SessionID, rec)
	if err != nil {
		return nil, err
	}
	access, err := m.tokens.Sign(ctx, jwt.ClassAccess, rec.Subject, jwt.Options{SessionID: rec.SessionID})
	if err != nil {
		return nil, err
	}

	won, err := m.store.MarkUsedIfUnused(ctx, rec.JTI)
	if err != nil {
		return nil, err
	}
	if !won {
		cur, gerr := m.store.GetRefresh(ctx, rec.JTI)
		if gerr == nil && cur.RevokedAt != nil && !cur.Used {
			return nil, ErrRevoked
		}
		m.onReuse(ctx, rec)
		return nil, ErrReuseDetected
	}

	audit.Log(ctx, "refresh.rotated", logger.Subject(rec.Subject), logger.SessionID(rec.SessionID),
		logger.JTI(refresh.TokenID), logger.String("parent_jti", rec.JTI))
	return &Pair{Access: access, Refresh: refresh}, nil
}

// onReuse revoca la cadena comprometida. Todos los eslabones comparten sid, así
// que revocar la sesión alcanza también a los descendientes del token reusado.
func (m *Manager) onReuse(ctx context.Context, rec *repository.RefreshRecord) {
	metrics.ReuseDetections.Inc()
	chain, err := m.store.GetChain(ctx, rec.JTI)
	if err != nil {
		m.log.Warn("no se pudo recorrer la cadena", logger.JTI(rec.JTI), logger.Err(err))
	}
	root := rec.RootJTI
	if len(chain) > 0 {
		root = chain[len(chain)-1]
	}

	n, err := m.store.RevokeSession(ctx, rec.SessionID, "reuse_detected")
	if err != nil {
		m.log.Error("no se pudo revocar la cadena tras reuso", logger.SessionID(rec.SessionID), logger.Err(err))
	}
	metrics.Revocations.WithLabelValues("session").Inc()

	if m.cfg.ReuseScope == ReuseScopeSubject {
		k, err := m.store.RevokeSubject(ctx, rec.Subject, "reuse_detected")
		if err != nil {
			m.log.Error("no se pudo revocar el subject tras reuso", logger.Subject(rec.Subject), logger.Err(err))
		}
		n += k
		metrics.Revocations.WithLabelValues("subject").Inc()
	}
	m.cache.Flush()

	m.log.Error("reuso de refresh token detectado",
		logger.Subject(rec.Subject),
		logger.SessionID(rec.SessionID),
		logger.JTI(rec.JTI),
		logger.String("root_jti", root),
		zap.Int("chain_depth", len(chain)),
		logger.Count(n),
		logger.String("scope", string(m.cfg.ReuseScope)),
	)
	audit.Log(ctx, "refresh.reuse_detected", logger.Subject(rec.Subject), logger.SessionID(rec.SessionID),
		logger.JTI(rec.JTI), logger.String("root_jti", root), logger.Count(n))
}

// Revoke escribe una revocación. Solo afecta session/refresh; access y m2m
// siguen válidos hasta su exp salvo el chequeo de sid de VerifyAccess.
func (m *Manager) Revoke(ctx context.Context, target Target, reason string) (int, error) {
	if reason == "" {
		reason = "revoked"
	}
	var (
		n     int
		err   error
		scope string
	)
	switch {
	case target.TokenID != "" && target.Subject != "":
		return 0, fmt.Errorf("%w: token id and subject are exclusive", ErrInvalidTarget)
	case target.Subject != "":
		scope = "subject"
		n, err = m.store.RevokeSubject(ctx, target.Subject, reason)
	case target.TokenID != "":
		sid := target.TokenID
		if rec, gerr := m.store.GetRefresh(ctx, target.TokenID); gerr == nil {
			sid = rec.SessionID
		} else if !errors.Is(gerr, repository.ErrNotFound) {
			return 0, gerr
		}
		scope = "session"
		n, err = m.store.RevokeSession(ctx, sid, reason)
	default:
		return 0, ErrInvalidTarget
	}
	if err != nil {
		return 0, err
	}
	m.cache.Flush()
	metrics.Revocations.WithLabelValues(scope).Inc()
	audit.Log(ctx, "token.revoked", logger.String("scope", scope),
		logger.String("token_id", target.TokenID), logger.Subject(target.Subject),
		logger.Reason(reason), logger.Count(n))
	return n, nil
}

// ContinueSession valida un session token contra las revocaciones.
func (m *Manager) ContinueSession(ctx context.Context, sessionToken string) (*jwt.Claims, error) {
	claims, err := m.tokens.Verify(sessionToken, jwt.Expect{Class: jwt.ClassSession})
	if err != nil {
		return nil, err
	}
	revoked, err := m.store.IsRevoked(ctx, claims.SessionID, claims.Subject, issuedAt(claims))
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// VerifyAccess valida un access token sin estado y además descarta los de
// sesiones revocadas. El resultado del lookup se cachea localmente.
func (m *Manager) VerifyAccess(ctx context.Context, accessToken string) (*jwt.Claims, error) {
	claims, err := m.tokens.Verify(accessToken, jwt.Expect{Class: jwt.ClassAccess})
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return claims, nil
	}
	revoked, err := m.revokedCached(ctx, claims)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

func (m *Manager) revokedCached(ctx context.Context, c *jwt.Claims) (bool, error) {
	key := c.SessionID + "|" + c.Subject + "|" + strconv.FormatInt(issuedAt(c).Unix(), 10)
	if v, ok := m.cache.Get(key); ok {
		return v == "1", nil
	}
	revoked, err := m.store.IsRevoked(ctx, c.SessionID, c.Subject, issuedAt(c))
	if err != nil {
		return false, err
	}
	if revoked {
		ttl := time.Second
		if c.ExpiresAt != nil {
			ttl = c.ExpiresAt.Sub(m.cfg.Now())
		}
		if ttl <= 0 {
			ttl = time.Second
		}
		m.cache.Set(key, "1", ttl)
	} else {
		m.cache.Set(key, "0", m.cfg.RevokedCacheTTL)
	}
	return revoked, nil
}

// Logout revoca la sesión del refresh o session token presentado.
func (m *Manager) Logout(ctx context.Context, token string) error {
	claims, err := m.tokens.Verify(token, jwt.Expect{Class: jwt.ClassRefresh})
	if errors.Is(err, jwt.ErrClassMismatch) {
		claims, err = m.tokens.Verify(token, jwt.Expect{Class: jwt.ClassSession})
	}
	if err != nil {
		return err
	}
	if claims.SessionID == "" {
		return fmt.Errorf("%w: token without session", ErrInvalidTarget)
	}
	n, err := m.store.RevokeSession(ctx, claims.SessionID, "logout")
	if err != nil {
		return err
	}
	m.cache.Flush()
	metrics.Revocations.WithLabelValues("session").Inc()
	audit.Log(ctx, "session.logout", logger.Subject(claims.Subject), logger.SessionID(claims.SessionID), logger.Count(n))
	return nil
}

// issuedAt: sin iat el token cae bajo cualquier revocación de subject.
func issuedAt(c *jwt.Claims) time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrReuseDetected):
		return "reuse"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case IsUnauthenticated(err):
		return "invalid"
	default:
		return "error"
	}
}
