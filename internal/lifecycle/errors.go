package lifecycle

import (
	"errors"

	"github.com/dropDatabas3/journal-auth/internal/jwt"
)

var (
	// ErrReuseDetected: un refresh token ya redimido se presentó de nuevo. La
	// cadena (o el subject, según ReuseScope) queda revocada.
	ErrReuseDetected = errors.New("refresh_token_reuse_detected")
	ErrRevoked       = errors.New("token_revoked")
	ErrUnknownToken  = errors.New("unknown_refresh_token")
	ErrInvalidTarget = errors.New("invalid_revocation_target")
)

// IsUnauthenticated agrupa todo lo que el cliente ve como 401 indistinto.
func IsUnauthenticated(err error) bool {
	if err == nil {
		return false
	}
	return jwt.IsUnauthenticated(err) ||
		errors.Is(err, ErrReuseDetected) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrUnknownToken)
}
