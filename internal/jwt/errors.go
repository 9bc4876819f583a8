package jwt

import "errors"

// Errores de ciclo de vida de claves.
var (
	ErrNoActiveKey        = errors.New("no_active_signing_key")
	ErrKeyGeneration      = errors.New("key_generation_failed")
	ErrRotationPaused     = errors.New("rotation_paused_secret_store_degraded")
	ErrPendingNotReady    = errors.New("pending_key_not_ready")
	ErrOverlapNotElapsed  = errors.New("overlap_window_not_elapsed")
	ErrKeyNotFound        = errors.New("kid_not_found")
	ErrEmptyKeySet        = errors.New("empty_key_set")
	ErrUnpublishedKey     = errors.New("active_key_not_published")
	ErrUnknownPolicyClass = errors.New("unknown_token_class")
)

// Errores de verificación. Todos se exponen al cliente como "unauthenticated".
var (
	ErrUnknownKey       = errors.New("unknown_key")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrExpired          = errors.New("expired")
	ErrNotYetValid      = errors.New("not_yet_valid")
	ErrAudienceMismatch = errors.New("audience_mismatch")
	ErrClassMismatch    = errors.New("class_mismatch")
	ErrInvalidIssuer    = errors.New("invalid_issuer")
	ErrMalformed        = errors.New("malformed_token")
)

var verificationErrors = []error{
	ErrUnknownKey, ErrInvalidSignature, ErrExpired, ErrNotYetValid,
	ErrAudienceMismatch, ErrClassMismatch, ErrInvalidIssuer, ErrMalformed,
}

// IsUnauthenticated reporta si err es una falla de verificación de token.
func IsUnauthenticated(err error) bool {
	for _, target := range verificationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsExpiredLike trata ErrUnknownKey igual que la expiración: cerca de un borde de
// rotación una clave purgada es esperable y no indica un token adulterado.
func IsExpiredLike(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrUnknownKey)
}

// Reason devuelve el código interno (taxonomía) de un error de verificación,
// para logs de auditoría y métricas. Nunca se envía al cliente.
func Reason(err error) string {
	for _, target := range verificationErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	if err == nil {
		return "ok"
	}
	return "error"
}
