// Package m2m contiene los DTOs de los endpoints machine-to-machine.
package m2m

// TokenRequest es el body de POST /v1/m2m/token (client credentials). Scope
// es una lista separada por espacios; vacío pide el máximo registrado.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope,omitempty"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// VerifyRequest es el body de POST /v1/m2m/verify.
type VerifyRequest struct {
	Token         string `json:"token"`
	RequiredScope string `json:"required_scope,omitempty"`
}

// VerifyResponse: Active=false cubre token inválido y scope faltante.
type VerifyResponse struct {
	Active    bool     `json:"active"`
	ServiceID string   `json:"service_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
}
