package secretsync

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

const recordVersion = 1

// keyRecord es el formato de una signing key dentro del secret store.
// La clave privada solo viaja acá; los retirados se escriben sin ella.
type keyRecord struct {
	V             int       `json:"v"`
	KID           string    `json:"kid"`
	Alg           string    `json:"alg"`
	Status        string    `json:"status"`
	PublicKey     string    `json:"pub"`            // base64url sin padding
	PrivateKey    string    `json:"priv,omitempty"` // base64 std (64 bytes ed25519)
	CreatedAt     time.Time `json:"created_at"`
	ActivationAt  time.Time `json:"activation_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	RetiringSince time.Time `json:"retiring_since"`
	RetiredAt     time.Time `json:"retired_at"`
}

func encodeKey(k *repository.SigningKey) ([]byte, error) {
	if k == nil || k.ID == "" {
		return nil, fmt.Errorf("%w: key without kid", repository.ErrInvalidInput)
	}
	if len(k.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: kid %s public key size %d", repository.ErrInvalidInput, k.ID, len(k.PublicKey))
	}
	rec := keyRecord{
		V:             recordVersion,
		KID:           k.ID,
		Alg:           k.Algorithm,
		Status:        string(k.Status),
		PublicKey:     base64.RawURLEncoding.EncodeToString(k.PublicKey),
		CreatedAt:     k.CreatedAt.UTC(),
		ActivationAt:  k.ActivationAt.UTC(),
		ExpiresAt:     k.ExpiresAt.UTC(),
		RetiringSince: k.RetiringSince.UTC(),
		RetiredAt:     k.RetiredAt.UTC(),
	}
	if len(k.PrivateKey) > 0 {
		rec.PrivateKey = base64.StdEncoding.EncodeToString(k.PrivateKey)
	}
	return json.Marshal(rec)
}

func decodeKey(b []byte) (repository.SigningKey, error) {
	var rec keyRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return repository.SigningKey{}, fmt.Errorf("decode key record: %w", err)
	}
	if rec.V != recordVersion {
		return repository.SigningKey{}, fmt.Errorf("key record %s: unsupported version %d", rec.KID, rec.V)
	}
	status := repository.KeyStatus(rec.Status)
	if rec.KID == "" || !status.Valid() {
		return repository.SigningKey{}, fmt.Errorf("key record %q: invalid kid/status", rec.KID)
	}
	if rec.Alg != repository.AlgEdDSA {
		return repository.SigningKey{}, fmt.Errorf("key record %s: unsupported alg %q", rec.KID, rec.Alg)
	}
	pub, err := base64.RawURLEncoding.DecodeString(rec.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return repository.SigningKey{}, fmt.Errorf("key record %s: bad public key", rec.KID)
	}
	k := repository.SigningKey{
		ID:            rec.KID,
		Algorithm:     rec.Alg,
		PublicKey:     ed25519.PublicKey(pub),
		Status:        status,
		CreatedAt:     rec.CreatedAt,
		ActivationAt:  rec.ActivationAt,
		ExpiresAt:     rec.ExpiresAt,
		RetiringSince: rec.RetiringSince,
		RetiredAt:     rec.RetiredAt,
	}
	if rec.PrivateKey != "" {
		priv, err := base64.StdEncoding.DecodeString(rec.PrivateKey)
		if err != nil || len(priv) != ed25519.PrivateKeySize {
			return repository.SigningKey{}, fmt.Errorf("key record %s: bad private key", rec.KID)
		}
		pk := ed25519.PrivateKey(priv)
		if !pk.Public().(ed25519.PublicKey).Equal(k.PublicKey) {
			return repository.SigningKey{}, fmt.Errorf("key record %s: private/public mismatch", rec.KID)
		}
		k.PrivateKey = pk
	}
	return k, nil
}
