package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/lifecycle"
	"github.com/dropDatabas3/journal-auth/internal/m2m"
	"github.com/dropDatabas3/journal-auth/internal/secretsync"
)

func TestFromError_VerificationFailuresAreIndistinguishable(t *testing.T) {
	for _, err := range []error{
		jwt.ErrInvalidSignature, jwt.ErrExpired, jwt.ErrAudienceMismatch,
		jwt.ErrUnknownKey, jwt.ErrClassMismatch, jwt.ErrMalformed,
		lifecycle.ErrReuseDetected, lifecycle.ErrRevoked, lifecycle.ErrUnknownToken,
		m2m.ErrInvalidCredentials, fmt.Errorf("wrapped: %w", jwt.ErrExpired),
	} {
		rec := httptest.NewRecorder()
		WriteError(rec, err)
		require.Equal(t, http.StatusUnauthorized, rec.Code, err.Error())

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "UNAUTHENTICATED", body["code"])
		require.NotContains(t, body, "detail")
		require.NotContains(t, rec.Body.String(), err.Error())
	}
}

func TestFromError_Mapping(t *testing.T) {
	cases := map[error]int{
		m2m.ErrScopeViolation:                http.StatusForbidden,
		lifecycle.ErrInvalidTarget:           http.StatusBadRequest,
		jwt.ErrKeyNotFound:                   http.StatusNotFound,
		jwt.ErrOverlapNotElapsed:             http.StatusConflict,
		jwt.ErrRotationPaused:                http.StatusServiceUnavailable,
		secretsync.ErrSecretStoreUnavailable: http.StatusServiceUnavailable,
		fmt.Errorf("boom"):                   http.StatusInternalServerError,
		ErrRateLimitExceeded:                 http.StatusTooManyRequests,
	}
	for err, status := range cases {
		require.Equal(t, status, FromError(err).HTTPStatus, err.Error())
	}
}

func TestWithDetail_DoesNotMutateBase(t *testing.T) {
	e := ErrBadRequest.WithDetail("x")
	require.Equal(t, "x", e.Detail)
	require.Empty(t, ErrBadRequest.Detail)
}
