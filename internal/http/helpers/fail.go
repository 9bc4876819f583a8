package helpers

import (
	"net/http"

	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// Fail traduce err, lo loguea con el nivel según el status y escribe la
// respuesta. El motivo interno de un 401 solo queda en el log.
func Fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	appErr := httperrors.FromError(err)
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op(op))
	switch {
	case appErr.HTTPStatus >= 500:
		log.Error("request failed", logger.Status(appErr.HTTPStatus), logger.Err(err))
	case appErr.HTTPStatus == http.StatusUnauthorized:
		log.Info("unauthenticated", logger.Reason(jwt.Reason(err)), logger.Err(err))
	default:
		log.Debug("request rejected", logger.Status(appErr.HTTPStatus), logger.Err(err))
	}
	httperrors.WriteError(w, appErr)
}
