package repository

import "context"

// SecretStore es el colaborador genérico de almacenamiento de secretos.
// Los paths usan "/" como separador (ej: "signing-keys/<kid>").
type SecretStore interface {
	// Write crea o reemplaza el valor en path.
	Write(ctx context.Context, path string, value []byte) error

	// Read devuelve el valor; ErrNotFound si no existe.
	Read(ctx context.Context, path string) ([]byte, error)

	// List devuelve los nombres (sin prefijo) bajo prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete elimina el path. Borrar algo inexistente no es error.
	Delete(ctx context.Context, path string) error

	Ping(ctx context.Context) error
}
