// Package admin contiene los DTOs de administración de signing keys.
package admin

import "time"

// KeyView es la vista pública de una signing key. Nunca incluye material privado.
type KeyView struct {
	KID           string     `json:"kid"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ActivationAt  time.Time  `json:"activation_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RetiringSince *time.Time `json:"retiring_since,omitempty"`
}

type KeysResponse struct {
	Version  uint64    `json:"version"`
	Degraded bool      `json:"degraded"`
	Keys     []KeyView `json:"keys"`
}

// RotateRequest: Force promueve aunque el pending no haya cumplido el grace.
type RotateRequest struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type RotateResponse struct {
	ActiveKID string `json:"active_kid"`
}

// RetireRequest es el body de POST /v1/admin/keys/retire.
type RetireRequest struct {
	KID string `json:"kid"`
}
