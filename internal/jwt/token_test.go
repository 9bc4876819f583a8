package jwt

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTripAllClasses(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	for _, class := range Classes() {
		t.Run(class.String(), func(t *testing.T) {
			tok, err := s.tokens.Sign(ctx, class, "u1", Options{
				SessionID: "sid-1",
				Scopes:    []string{"entries:read"},
				Extra:     map[string]any{"device": "web"},
			})
			require.NoError(t, err)
			require.Equal(t, s.km.Snapshot().Active.ID, tok.KeyID)

			claims, err := s.tokens.Verify(tok.Token, Expect{Class: class})
			require.NoError(t, err)
			require.Equal(t, class, claims.Class)
			require.Equal(t, "u1", claims.Subject)
			require.Equal(t, tok.TokenID, claims.ID)
			require.Equal(t, "sid-1", claims.SessionID)
			require.Equal(t, []string{"entries:read"}, claims.Scopes)
			require.Equal(t, "web", claims.Extra["device"])
			require.Equal(t, tok.ExpiresAt.Unix(), claims.ExpiresAt.Unix())

			pol, _ := s.tokens.Policies().Get(class)
			require.Equal(t, tok.IssuedAt.Add(pol.TTL), tok.ExpiresAt)
		})
	}
}

func TestSign_HeaderCarriesKid(t *testing.T) {
	s := newStack(t)
	tok, err := s.tokens.Sign(context.Background(), ClassAccess, "u1", Options{})
	require.NoError(t, err)

	parsed, _, err := jwtv5.NewParser().ParseUnverified(tok.Token, &Claims{})
	require.NoError(t, err)
	require.Equal(t, tok.KeyID, parsed.Header["kid"])
	require.Equal(t, "EdDSA", parsed.Header["alg"])
	require.Equal(t, "JWT", parsed.Header["typ"])
}

func TestVerify_ClassAndAudience(t *testing.T) {
	s := newStack(t)
	tok, err := s.tokens.Sign(context.Background(), ClassAccess, "u1", Options{})
	require.NoError(t, err)

	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassRefresh})
	require.ErrorIs(t, err, ErrClassMismatch)

	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassAccess, Audience: "journal-api"})
	require.NoError(t, err)

	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassAccess, Audience: "journal-services"})
	require.ErrorIs(t, err, ErrAudienceMismatch)
	require.True(t, IsUnauthenticated(err))
}

func TestVerify_ExpiryWithClockSkew(t *testing.T) {
	s := newStack(t)
	tok, err := s.tokens.Sign(context.Background(), ClassAccess, "u1", Options{})
	require.NoError(t, err)

	s.clock.Advance(10*time.Minute + 3*time.Second)
	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassAccess})
	require.NoError(t, err, "inside skew tolerance")

	s.clock.Advance(5 * time.Second)
	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassAccess})
	require.ErrorIs(t, err, ErrExpired)
	require.True(t, IsExpiredLike(err))
}

func TestVerify_TamperedSignature(t *testing.T) {
	s := newStack(t)
	tok, err := s.tokens.Sign(context.Background(), ClassAccess, "u1", Options{})
	require.NoError(t, err)

	parts := strings.Split(tok.Token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = s.tokens.Verify(tampered, Expect{Class: ClassAccess})
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.False(t, IsExpiredLike(err))
}

func TestVerify_Malformed(t *testing.T) {
	s := newStack(t)
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d", "eyJhbGciOiJFZERTQSJ9.e30.sig"} {
		_, err := s.tokens.Verify(raw, Expect{Class: ClassAccess})
		require.Error(t, err, raw)
		require.True(t, IsUnauthenticated(err), "%q: %v", raw, err)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	s := newStack(t)
	claims := Claims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject: "u1", ID: "x", Issuer: "https://auth.journal.test",
			Audience:  jwtv5.ClaimStrings{"journal-api"},
			ExpiresAt: jwtv5.NewNumericDate(s.clock.Now().Add(time.Minute)),
		},
		Class: ClassAccess,
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["kid"] = s.km.Snapshot().Active.ID
	raw, err := tk.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = s.tokens.Verify(raw, Expect{Class: ClassAccess})
	require.Error(t, err)
	require.True(t, IsUnauthenticated(err))
}

func TestVerify_AfterRetirementAndGrace(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	// refresh vive 30 días: sobrevive al overlap y sigue firmado por la clave vieja
	tok, err := s.tokens.Sign(ctx, ClassRefresh, "u1", Options{})
	require.NoError(t, err)

	_, err = s.km.RotateNow(ctx, "")
	require.NoError(t, err)
	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassRefresh})
	require.NoError(t, err, "retiring keys still verify")

	s.clock.Advance(48 * time.Hour)
	require.NoError(t, s.km.Retire(ctx, tok.KeyID))
	require.False(t, s.jwks.Has(tok.KeyID))
	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassRefresh})
	require.NoError(t, err, "retired keys verify during the grace period")

	s.clock.Advance(744 * time.Hour)
	_, err = s.tokens.Verify(tok.Token, Expect{Class: ClassRefresh})
	require.ErrorIs(t, err, ErrUnknownKey)
	require.NotErrorIs(t, err, ErrInvalidSignature)
	require.True(t, IsExpiredLike(err))
}

func TestSign_RefusesUnpublishedKey(t *testing.T) {
	clock := newFakeClock()
	km := NewKeyManager(testKeyConfig(clock), nil, nil) // sin observer: nada se publica
	require.NoError(t, km.EnsureActive(context.Background()))
	jwks := NewJWKSService(time.Hour, clock.Now)

	svc := NewTokenService(TokenServiceConfig{Now: clock.Now}, nil, km, jwks)
	_, err := svc.Sign(context.Background(), ClassAccess, "u1", Options{})
	require.ErrorIs(t, err, ErrUnpublishedKey)
}

func TestSign_UnknownClass(t *testing.T) {
	s := newStack(t)
	_, err := s.tokens.Sign(context.Background(), Class(42), "u1", Options{})
	require.ErrorIs(t, err, ErrUnknownPolicyClass)
}

// La clave de la firma más reciente siempre está en el JWKS, aun con rotaciones
// concurrentes.
func TestSign_ConcurrentWithRotation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = s.km.RotateNow(ctx, "test")
		}
		close(stop)
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tok, err := s.tokens.Sign(ctx, ClassAccess, "u1", Options{})
				if err != nil {
					t.Errorf("sign: %v", err)
					return
				}
				if _, err := s.jwks.PublicKey(tok.KeyID); err != nil {
					t.Errorf("kid %s not resolvable after sign", tok.KeyID)
					return
				}
				if _, err := s.tokens.Verify(tok.Token, Expect{Class: ClassAccess}); err != nil {
					t.Errorf("verify: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
