// Package cache provee un cache local con TTL por entrada y contadores de
// hits/misses. Lo usa el lifecycle manager para no consultar el lookup store
// en cada verificación de access token.
package cache

import "time"

// Cache define las operaciones de cache.
type Cache interface {
	// Get obtiene un valor; ok=false si no existe o expiró.
	Get(key string) (value string, ok bool)

	// Set guarda un valor. ttl 0 usa el default del cache.
	Set(key, value string, ttl time.Duration)

	Delete(key string)

	// Flush vacía el cache completo.
	Flush()

	Stats() Stats
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Keys   int
	Hits   int64
	Misses int64
}
