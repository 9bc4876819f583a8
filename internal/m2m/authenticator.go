// Package m2m emite y verifica tokens de identidad de servicio (client
// credentials). Sin refresh: los servicios piden otro token al vencer.
package m2m

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

var (
	// ErrScopeViolation: se pidió un scope fuera del máximo registrado. Se
	// devuelve antes de firmar.
	ErrScopeViolation     = errors.New("scope_violation")
	ErrUnknownService     = errors.New("unknown_service")
	ErrServiceDisabled    = errors.New("service_disabled")
	ErrInvalidCredentials = errors.New("invalid_client_credentials")
)

// dummyHash iguala el costo de Authenticate para servicios inexistentes.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("journal-auth/dummy"), bcrypt.DefaultCost)

// Authenticator es el M2MAuthenticator.
type Authenticator struct {
	tokens   *jwt.TokenService
	registry repository.ServiceRegistry
	log      *zap.Logger
}

func New(tokens *jwt.TokenService, registry repository.ServiceRegistry) *Authenticator {
	return &Authenticator{tokens: tokens, registry: registry, log: logger.Named("m2m")}
}

// Issue firma un token m2m para serviceID con los scopes pedidos. Sin scopes
// pedidos se otorga el máximo registrado.
func (a *Authenticator) Issue(ctx context.Context, serviceID string, scopes []string) (*jwt.IssuedToken, error) {
	tok, err := a.issue(ctx, serviceID, scopes)
	metrics.M2MAuth.WithLabelValues(result(err)).Inc()
	return tok, err
}

func (a *Authenticator) issue(ctx context.Context, serviceID string, scopes []string) (*jwt.IssuedToken, error) {
	id, err := a.lookup(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	requested := normalize(scopes)
	if len(requested) == 0 {
		requested = normalize(id.MaxScopes)
	}
	for _, s := range requested {
		if !slices.Contains(id.MaxScopes, s) {
			a.log.Warn("scope fuera del máximo registrado", logger.ServiceID(serviceID), logger.String("scope", s))
			audit.Log(ctx, "m2m.scope_violation", logger.ServiceID(serviceID), logger.String("scope", s))
			return nil, fmt.Errorf("%w: %q not allowed for %s", ErrScopeViolation, s, serviceID)
		}
	}

	tok, err := a.tokens.Sign(ctx, jwt.ClassM2M, serviceID, jwt.Options{Scopes: requested})
	if err != nil {
		return nil, err
	}
	audit.Log(ctx, "m2m.issued", logger.ServiceID(serviceID), logger.JTI(tok.TokenID),
		logger.String("scopes", strings.Join(requested, " ")))
	return tok, nil
}

// Verify valida el token y que requiredScope esté entre sus scopes.
// Token inválido: (false, err). Scope faltante: (false, nil).
func (a *Authenticator) Verify(_ context.Context, token, requiredScope string) (bool, error) {
	claims, err := a.Introspect(token)
	if err != nil {
		return false, err
	}
	if requiredScope == "" {
		return true, nil
	}
	return slices.Contains(claims.Scopes, requiredScope), nil
}

// Introspect devuelve los claims de un token m2m válido.
func (a *Authenticator) Introspect(token string) (*jwt.Claims, error) {
	return a.tokens.Verify(token, jwt.Expect{Class: jwt.ClassM2M})
}

// Authenticate valida client credentials contra el hash bcrypt del registry.
func (a *Authenticator) Authenticate(ctx context.Context, serviceID, secret string) (*repository.ServiceIdentity, error) {
	id, err := a.lookup(ctx, serviceID)
	if errors.Is(err, ErrUnknownService) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		metrics.M2MAuth.WithLabelValues("bad_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(id.SecretHash), []byte(secret)) != nil {
		metrics.M2MAuth.WithLabelValues("bad_credentials").Inc()
		audit.Log(ctx, "m2m.bad_credentials", logger.ServiceID(serviceID))
		return nil, ErrInvalidCredentials
	}
	return id, nil
}

func (a *Authenticator) lookup(ctx context.Context, serviceID string) (*repository.ServiceIdentity, error) {
	if serviceID == "" {
		return nil, ErrUnknownService
	}
	id, err := a.registry.Lookup(ctx, serviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, serviceID)
	}
	if err != nil {
		return nil, err
	}
	if id.Disabled {
		return nil, fmt.Errorf("%w: %s", ErrServiceDisabled, serviceID)
	}
	return id, nil
}

// HashSecret genera el hash bcrypt para registrar un client secret.
func HashSecret(secret string) (string, error) {
	if len(secret) < 16 {
		return "", fmt.Errorf("%w: client secret must be at least 16 chars", repository.ErrInvalidInput)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func normalize(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrScopeViolation):
		return "scope_violation"
	case errors.Is(err, ErrUnknownService), errors.Is(err, ErrServiceDisabled):
		return "unknown_service"
	default:
		return "error"
	}
}
