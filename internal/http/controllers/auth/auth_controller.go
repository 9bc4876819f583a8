// Package auth contiene los controllers de tokens de usuario: bundle de
// sesión, refresh, logout y revocación.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	dto "github.com/dropDatabas3/journal-auth/internal/http/dto/auth"
	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	"github.com/dropDatabas3/journal-auth/internal/http/helpers"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/lifecycle"
)

// Lifecycle es la parte del TokenLifecycleManager que exponen estos endpoints.
type Lifecycle interface {
	IssueSessionBundle(ctx context.Context, subject string) (*lifecycle.Bundle, error)
	Refresh(ctx context.Context, refreshToken string) (*lifecycle.Pair, error)
	Logout(ctx context.Context, token string) error
	Revoke(ctx context.Context, target lifecycle.Target, reason string) (int, error)
}

type Controller struct {
	lc Lifecycle
}

func NewController(lc Lifecycle) *Controller {
	return &Controller{lc: lc}
}

// Session maneja POST /v1/auth/session
func (c *Controller) Session(w http.ResponseWriter, r *http.Request) {
	var req dto.SessionRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("subject is required"))
		return
	}

	b, err := c.lc.IssueSessionBundle(r.Context(), req.Subject)
	if err != nil {
		helpers.Fail(w, r, "AuthController.Session", err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, dto.SessionResponse{
		SessionID:        b.SessionID,
		SessionToken:     b.Session.Token,
		AccessToken:      b.Access.Token,
		RefreshToken:     b.Refresh.Token,
		TokenType:        "Bearer",
		ExpiresIn:        expiresIn(b.Access),
		RefreshExpiresIn: expiresIn(b.Refresh),
	})
}

// Refresh maneja POST /v1/auth/refresh
func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("refresh_token is required"))
		return
	}

	p, err := c.lc.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		helpers.Fail(w, r, "AuthController.Refresh", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RefreshResponse{
		AccessToken:  p.Access.Token,
		RefreshToken: p.Refresh.Token,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(p.Access),
	})
}

// Logout maneja POST /v1/auth/logout. Acepta el token en el body o como Bearer.
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	token := helpers.BearerToken(r)
	if token == "" {
		var req dto.LogoutRequest
		if !helpers.ReadJSON(w, r, &req) {
			return
		}
		token = strings.TrimSpace(req.Token)
	}
	if token == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("token is required"))
		return
	}
	if err := c.lc.Logout(r.Context(), token); err != nil {
		helpers.Fail(w, r, "AuthController.Logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke maneja POST /v1/auth/revoke (admin)
func (c *Controller) Revoke(w http.ResponseWriter, r *http.Request) {
	var req dto.RevokeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	target := lifecycle.Target{
		TokenID: strings.TrimSpace(req.TokenID),
		Subject: strings.TrimSpace(req.Subject),
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "admin"
	}
	n, err := c.lc.Revoke(r.Context(), target, reason)
	if err != nil {
		helpers.Fail(w, r, "AuthController.Revoke", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RevokeResponse{Revoked: n})
}

func expiresIn(t *jwt.IssuedToken) int64 {
	if t == nil {
		return 0
	}
	return int64(t.ExpiresAt.Sub(t.IssuedAt) / time.Second)
}
