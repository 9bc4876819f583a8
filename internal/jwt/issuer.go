package jwt

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
)

// SignerSource entrega la clave activa (KeyManager).
type SignerSource interface {
	ActiveSigner() (*repository.SigningKey, error)
}

// KeyResolver resuelve claves públicas por kid (JWKSService).
type KeyResolver interface {
	PublicKey(kid string) (ed25519.PublicKey, error)
	Has(kid string) bool
}

// Claims de todos los tokens emitidos. Exactamente una clase por token (cls).
type Claims struct {
	jwtv5.RegisteredClaims
	Class         Class          `json:"cls"`
	SessionID     string         `json:"sid,omitempty"`
	Scopes        []string       `json:"scp,omitempty"`
	ParentTokenID string         `json:"pjti,omitempty"`
	Extra         map[string]any `json:"ext,omitempty"`
}

// Options son los claims opcionales de Sign.
type Options struct {
	SessionID     string
	Scopes        []string
	ParentTokenID string
	Extra         map[string]any
}

// IssuedToken es el resultado de Sign.
type IssuedToken struct {
	Token         string
	TokenID       string
	Class         Class
	Subject       string
	SessionID     string
	KeyID         string
	ParentTokenID string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// TokenServiceConfig agrupa los parámetros de firma/verificación.
type TokenServiceConfig struct {
	Issuer    string
	ClockSkew time.Duration
	Now       func() time.Time
}

// TokenService firma y verifica tokens de todas las clases.
type TokenService struct {
	iss      string
	skew     time.Duration
	now      func() time.Time
	policies *PolicyTable
	signer   SignerSource
	keys     KeyResolver
}

// NewTokenService arma el servicio. policies nil usa DefaultPolicies.
func NewTokenService(cfg TokenServiceConfig, policies *PolicyTable, signer SignerSource, keys KeyResolver) *TokenService {
	if policies == nil {
		policies = MustPolicyTable(DefaultPolicies()...)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	return &TokenService{
		iss:      cfg.Issuer,
		skew:     cfg.ClockSkew,
		now:      cfg.Now,
		policies: policies,
		signer:   signer,
		keys:     keys,
	}
}

// Policies expone la tabla (lifecycle/m2m la consultan).
func (s *TokenService) Policies() *PolicyTable { return s.policies }

// Sign firma un token de la clase indicada con la clave activa del snapshot.
// La clave solo se referencia durante la llamada.
func (s *TokenService) Sign(ctx context.Context, class Class, subject string, opts Options) (*IssuedToken, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pol, ok := s.policies.Get(class)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicyClass, uint8(class))
	}
	if subject == "" {
		return nil, fmt.Errorf("sign %s: subject required", class)
	}

	key, err := s.signer.ActiveSigner()
	if err != nil {
		return nil, err
	}
	// Nunca emitir con una clave que los verificadores todavía no pueden resolver.
	if s.keys != nil && !s.keys.Has(key.ID) {
		return nil, fmt.Errorf("%w: %s", ErrUnpublishedKey, key.ID)
	}

	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(pol.TTL)
	jti := uuid.NewString()

	claims := Claims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.iss,
			Subject:   subject,
			Audience:  jwtv5.ClaimStrings(pol.Audience),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
			ID:        jti,
		},
		Class:         class,
		SessionID:     opts.SessionID,
		Scopes:        opts.Scopes,
		ParentTokenID: opts.ParentTokenID,
		Extra:         opts.Extra,
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = key.ID
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", class, err)
	}

	metrics.ObserveSign(class.String(), start)
	return &IssuedToken{
		Token:         signed,
		TokenID:       jti,
		Class:         class,
		Subject:       subject,
		SessionID:     opts.SessionID,
		KeyID:         key.ID,
		ParentTokenID: opts.ParentTokenID,
		IssuedAt:      now,
		ExpiresAt:     exp,
	}, nil
}
