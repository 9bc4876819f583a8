package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// GenerateEd25519 genera un par Ed25519 leyendo entropía de r (crypto/rand si nil).
func GenerateEd25519(r io.Reader) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return pub, priv, nil
}

// NewKID arma un kid opaco y ordenable por fecha de creación.
func NewKID(now time.Time) string {
	return fmt.Sprintf("kid-%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// EncodeBase64URL codifica sin padding (RFC 7515).
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// JWKFromKey serializa la mitad pública de una clave como JWK OKP/Ed25519.
func JWKFromKey(k *repository.SigningKey) repository.JWK {
	return repository.JWK{
		KID: k.ID,
		Kty: "OKP",
		Crv: "Ed25519",
		Alg: repository.AlgEdDSA,
		Use: "sig",
		X:   EncodeBase64URL(k.PublicKey),
	}
}

// cloneKey copia la clave incluyendo los slices de material.
func cloneKey(k *repository.SigningKey) *repository.SigningKey {
	if k == nil {
		return nil
	}
	cp := *k
	if k.PrivateKey != nil {
		cp.PrivateKey = append(ed25519.PrivateKey(nil), k.PrivateKey...)
	}
	if k.PublicKey != nil {
		cp.PublicKey = append(ed25519.PublicKey(nil), k.PublicKey...)
	}
	return &cp
}
