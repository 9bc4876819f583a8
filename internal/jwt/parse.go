package jwt

import (
	"errors"
	"fmt"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
)

// Expect describe qué espera el consumidor que llama a Verify.
type Expect struct {
	Class Class
	// Audience del consumidor. Vacío: cualquier audiencia de la política de la clase.
	Audience string
}

// Verify valida un token sin I/O: kid → JWKS snapshot, firma EdDSA, exp/nbf con
// tolerancia de reloj, iss, aud y clase. Seguro para concurrencia ilimitada.
func (s *TokenService) Verify(token string, want Expect) (*Claims, error) {
	claims, err := s.verify(token, want)
	class := want.Class.String()
	if claims != nil && claims.Class.Valid() {
		class = claims.Class.String()
	}
	metrics.TokensVerified.WithLabelValues(class, Reason(err)).Inc()
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *TokenService) verify(token string, want Expect) (*Claims, error) {
	pol, ok := s.policies.Get(want.Class)
	if !ok {
		return nil, fmt.Errorf("%w: expected class %d", ErrClassMismatch, uint8(want.Class))
	}
	if want.Audience != "" && !pol.allowsAudience(want.Audience) {
		return nil, fmt.Errorf("%w: %q is not a %s audience", ErrAudienceMismatch, want.Audience, want.Class)
	}
	if strings.Count(token, ".") != 2 {
		return nil, ErrMalformed
	}

	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{repository.AlgEdDSA}),
		jwtv5.WithLeeway(s.skew),
		jwtv5.WithTimeFunc(s.now),
		jwtv5.WithExpirationRequired(),
	}
	if s.iss != "" {
		opts = append(opts, jwtv5.WithIssuer(s.iss))
	}

	claims := &Claims{}
	_, err := jwtv5.ParseWithClaims(token, claims, s.keyfunc, opts...)
	if err != nil {
		return nil, mapParseError(err)
	}

	if claims.Class != want.Class {
		return nil, fmt.Errorf("%w: got %s want %s", ErrClassMismatch, claims.Class, want.Class)
	}
	if !audienceMatches(claims.Audience, pol, want.Audience) {
		return nil, ErrAudienceMismatch
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti/sub", ErrMalformed)
	}
	return claims, nil
}

func (s *TokenService) keyfunc(t *jwtv5.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: kid header missing", ErrMalformed)
	}
	return s.keys.PublicKey(kid)
}

func audienceMatches(aud jwtv5.ClaimStrings, pol Policy, want string) bool {
	for _, a := range aud {
		if want != "" {
			if a == want {
				return true
			}
			continue
		}
		if pol.allowsAudience(a) {
			return true
		}
	}
	return false
}

// mapParseError traduce los errores de golang-jwt a la taxonomía propia.
// Los errores del keyfunc (ErrUnknownKey, ErrMalformed) quedan envueltos y se
// preservan.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return ErrUnknownKey
	case errors.Is(err, ErrMalformed):
		return ErrMalformed
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwtv5.ErrTokenNotValidYet), errors.Is(err, jwtv5.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwtv5.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(err, jwtv5.ErrTokenUnverifiable):
		return ErrUnknownKey
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
