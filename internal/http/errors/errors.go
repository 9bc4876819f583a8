package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/lifecycle"
	"github.com/dropDatabas3/journal-auth/internal/m2m"
	"github.com/dropDatabas3/journal-auth/internal/secretsync"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta JSON de err. Errores que no son AppError
// pasan por FromError.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	if appErr.HTTPStatus == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// FromError traduce errores de dominio a AppError. Toda falla de verificación
// (firma, expiración, audiencia, clase, reuso, revocación) colapsa en
// UNAUTHENTICATED sin detalle.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case err == nil:
		return ErrInternalServerError
	case lifecycle.IsUnauthenticated(err),
		stderrors.Is(err, m2m.ErrInvalidCredentials),
		stderrors.Is(err, m2m.ErrUnknownService),
		stderrors.Is(err, m2m.ErrServiceDisabled):
		return ErrUnauthenticated.WithCause(err)
	case stderrors.Is(err, m2m.ErrScopeViolation):
		return ErrInsufficientScopes.WithCause(err)
	case stderrors.Is(err, lifecycle.ErrInvalidTarget):
		return ErrBadRequest.WithCause(err).WithDetail("exactly one of token_id or subject is required")
	case stderrors.Is(err, jwt.ErrKeyNotFound), stderrors.Is(err, repository.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, jwt.ErrPendingNotReady), stderrors.Is(err, jwt.ErrOverlapNotElapsed):
		return ErrConflict.WithCause(err).WithDetail(err.Error())
	case stderrors.Is(err, secretsync.ErrSecretStoreUnavailable),
		stderrors.Is(err, jwt.ErrRotationPaused),
		stderrors.Is(err, jwt.ErrNoActiveKey),
		stderrors.Is(err, jwt.ErrUnpublishedKey),
		stderrors.Is(err, jwt.ErrEmptyKeySet),
		stderrors.Is(err, repository.ErrUnavailable):
		return ErrServiceUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}
