package repository

import (
	"crypto/ed25519"
	"time"
)

// KeyStatus indica el estado de una signing key.
type KeyStatus string

const (
	KeyPending  KeyStatus = "pending"
	KeyActive   KeyStatus = "active"
	KeyRetiring KeyStatus = "retiring"
	KeyRetired  KeyStatus = "retired"
)

// Valid reporta si el status es uno de los conocidos.
func (s KeyStatus) Valid() bool {
	switch s {
	case KeyPending, KeyActive, KeyRetiring, KeyRetired:
		return true
	}
	return false
}

// AlgEdDSA es el único algoritmo soportado (Ed25519).
const AlgEdDSA = "EdDSA"

// SigningKey representa una clave de firma EdDSA y su ciclo de vida.
// PrivateKey es propiedad exclusiva del KeyManager; solo se serializa hacia el secret store.
type SigningKey struct {
	ID            string // kid
	Algorithm     string // "EdDSA"
	PrivateKey    ed25519.PrivateKey
	PublicKey     ed25519.PublicKey
	Status        KeyStatus
	CreatedAt     time.Time
	ActivationAt  time.Time
	ExpiresAt     time.Time
	RetiringSince time.Time // zero salvo retiring/retired
	RetiredAt     time.Time // zero salvo retired
}

// Public devuelve una copia sin material privado.
func (k SigningKey) Public() SigningKey {
	k.PrivateKey = nil
	return k
}

// JWK representa una clave pública OKP/Ed25519 en formato JWK.
type JWK struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	X   string `json:"x"`
}

// JWKS representa un conjunto de claves públicas.
type JWKS struct {
	Keys []JWK `json:"keys"`
}
