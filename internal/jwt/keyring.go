package jwt

import (
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// Keyring es un snapshot inmutable del estado de claves. Nunca se muta después de
// publicado: el KeyManager arma uno nuevo y lo intercambia atómicamente.
type Keyring struct {
	Version  uint64
	Active   *repository.SigningKey
	Pending  *repository.SigningKey
	Retiring []*repository.SigningKey
	// Retired conserva solo material público, hasta ExpiresAt (grace de verificación).
	Retired []*repository.SigningKey
}

// Keys devuelve todas las claves del snapshot (active, pending, retiring, retired).
func (r *Keyring) Keys() []*repository.SigningKey {
	if r == nil {
		return nil
	}
	out := make([]*repository.SigningKey, 0, 2+len(r.Retiring)+len(r.Retired))
	if r.Active != nil {
		out = append(out, r.Active)
	}
	if r.Pending != nil {
		out = append(out, r.Pending)
	}
	out = append(out, r.Retiring...)
	out = append(out, r.Retired...)
	return out
}

// Find busca por kid.
func (r *Keyring) Find(kid string) *repository.SigningKey {
	for _, k := range r.Keys() {
		if k.ID == kid {
			return k
		}
	}
	return nil
}

// ActiveCount cuenta claves con status active (invariante: ≤ 1).
func (r *Keyring) ActiveCount() int {
	n := 0
	for _, k := range r.Keys() {
		if k.Status == repository.KeyActive {
			n++
		}
	}
	return n
}

// next copia el ring para construir el siguiente snapshot.
func (r *Keyring) next() *Keyring {
	if r == nil {
		return &Keyring{Version: 1}
	}
	return &Keyring{
		Version:  r.Version + 1,
		Active:   r.Active,
		Pending:  r.Pending,
		Retiring: append([]*repository.SigningKey(nil), r.Retiring...),
		Retired:  append([]*repository.SigningKey(nil), r.Retired...),
	}
}

func (r *Keyring) withoutRetiring(kid string) []*repository.SigningKey {
	out := make([]*repository.SigningKey, 0, len(r.Retiring))
	for _, k := range r.Retiring {
		if k.ID != kid {
			out = append(out, k)
		}
	}
	return out
}
