package repository

import "context"

// ServiceIdentity es una entrada del service registry (identidad M2M).
type ServiceIdentity struct {
	ID         string
	SecretHash string // bcrypt del client secret
	MaxScopes  []string
	Disabled   bool
}

// ServiceRegistry mapea serviceID → identidad. Solo lectura para el core.
type ServiceRegistry interface {
	// Lookup devuelve la identidad; ErrNotFound si no está registrada.
	Lookup(ctx context.Context, serviceID string) (*ServiceIdentity, error)
}
