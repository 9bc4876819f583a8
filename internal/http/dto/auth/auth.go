// Package auth contiene los DTOs de los endpoints de tokens de usuario.
package auth

// SessionRequest es el body de POST /v1/auth/session. El llamador ya
// autenticó al usuario (WebAuthn, password) y solo pide el bundle.
type SessionRequest struct {
	Subject string `json:"subject"`
}

// SessionResponse es el bundle completo de una sesión nueva.
type SessionResponse struct {
	SessionID        string `json:"session_id"`
	SessionToken     string `json:"session_token"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"` // siempre "Bearer"
	ExpiresIn        int64  `json:"expires_in"` // segundos del access token
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// RefreshRequest es el body de POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse devuelve el par rotado.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LogoutRequest acepta un refresh o un session token.
type LogoutRequest struct {
	Token string `json:"token"`
}

// RevokeRequest: exactamente uno de TokenID (jti o sid) o Subject.
type RevokeRequest struct {
	TokenID string `json:"token_id,omitempty"`
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type RevokeResponse struct {
	Revoked int `json:"revoked"`
}
