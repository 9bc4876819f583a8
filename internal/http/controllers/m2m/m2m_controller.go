// Package m2m contiene los controllers de client credentials y verificación
// de tokens machine-to-machine.
package m2m

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	dto "github.com/dropDatabas3/journal-auth/internal/http/dto/m2m"
	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	"github.com/dropDatabas3/journal-auth/internal/http/helpers"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// Authenticator es la parte del M2MAuthenticator que usan los endpoints.
type Authenticator interface {
	Authenticate(ctx context.Context, serviceID, secret string) (*repository.ServiceIdentity, error)
	Issue(ctx context.Context, serviceID string, scopes []string) (*jwt.IssuedToken, error)
	Introspect(token string) (*jwt.Claims, error)
}

type Controller struct {
	auth Authenticator
}

func NewController(auth Authenticator) *Controller {
	return &Controller{auth: auth}
}

// Token maneja POST /v1/m2m/token. Acepta las credenciales en el body o por
// HTTP Basic.
func (c *Controller) Token(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if id, secret, ok := r.BasicAuth(); ok && req.ClientID == "" {
		req.ClientID, req.ClientSecret = id, secret
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("client_id and client_secret are required"))
		return
	}

	ctx := r.Context()
	if _, err := c.auth.Authenticate(ctx, req.ClientID, req.ClientSecret); err != nil {
		helpers.Fail(w, r, "M2MController.Token", err)
		return
	}
	tok, err := c.auth.Issue(ctx, req.ClientID, strings.Fields(req.Scope))
	if err != nil {
		helpers.Fail(w, r, "M2MController.Token", err)
		return
	}
	claims, err := c.auth.Introspect(tok.Token)
	if err != nil {
		helpers.Fail(w, r, "M2MController.Token", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.TokenResponse{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tok.ExpiresAt.Sub(tok.IssuedAt) / time.Second),
		Scope:       strings.Join(claims.Scopes, " "),
	})
}

// Verify maneja POST /v1/m2m/verify. Siempre 200; active indica el resultado.
func (c *Controller) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("token is required"))
		return
	}

	claims, err := c.auth.Introspect(strings.TrimSpace(req.Token))
	if err != nil {
		logger.From(r.Context()).Debug("m2m token inactive", logger.Reason(jwt.Reason(err)))
		helpers.WriteJSON(w, http.StatusOK, dto.VerifyResponse{Active: false})
		return
	}
	if req.RequiredScope != "" && !slices.Contains(claims.Scopes, req.RequiredScope) {
		helpers.WriteJSON(w, http.StatusOK, dto.VerifyResponse{Active: false})
		return
	}
	resp := dto.VerifyResponse{Active: true, ServiceID: claims.Subject, Scopes: claims.Scopes}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}
