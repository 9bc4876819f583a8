// Package health contiene el DTO de /readyz.
package health

// ReadyResponse es la respuesta de /readyz. Status: ready | degraded | unavailable.
type ReadyResponse struct {
	Status     string            `json:"status"`
	ActiveKID  string            `json:"active_kid,omitempty"`
	Components map[string]string `json:"components"`
}
