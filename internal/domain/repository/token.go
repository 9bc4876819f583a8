package repository

import (
	"context"
	"time"
)

// RefreshRecord es el registro server-side de un refresh token (lookup store).
// Los registros forman un arena por jti: ParentJTI apunta al token redimido que lo
// originó y RootJTI a la raíz de la cadena. SessionID agrupa la cadena completa.
type RefreshRecord struct {
	JTI          string
	Subject      string
	SessionID    string
	ParentJTI    string // "" para la raíz
	RootJTI      string
	KeyID        string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Used         bool
	UsedAt       *time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// RevocationRecord registra una revocación por token/sesión o por subject.
// Exactamente uno de TokenID / Subject está seteado.
type RevocationRecord struct {
	TokenID   string
	Subject   string
	Reason    string
	RevokedAt time.Time
}

// TokenStore es el lookup store de refresh tokens y revocaciones.
// Debe ser compartido entre instancias: la exclusión mutua del flag used
// vive en el backend, no en el proceso.
type TokenStore interface {
	// CreateRefresh inserta un registro nuevo. ErrConflict si el jti ya existe.
	CreateRefresh(ctx context.Context, rec RefreshRecord) error

	// GetRefresh busca por jti. ErrNotFound si no existe.
	GetRefresh(ctx context.Context, jti string) (*RefreshRecord, error)

	// MarkUsedIfUnused es el compare-and-set atómico del flag used.
	// Devuelve true solo para el primer llamador. ErrNotFound si no existe.
	MarkUsedIfUnused(ctx context.Context, jti string) (bool, error)

	// GetChain recorre ParentJTI desde jti hasta la raíz: [jti, parent, ..., root].
	GetChain(ctx context.Context, jti string) ([]string, error)

	// RevokeSession revoca todos los refresh de la sesión y registra la revocación del sid.
	// Devuelve la cantidad de registros de refresh afectados.
	RevokeSession(ctx context.Context, sessionID, reason string) (int, error)

	// RevokeSubject registra la revocación del subject, revoca por sid cada
	// sesión existente y marca sus refresh como revocados. Sesiones creadas
	// después solo quedan alcanzadas si su iat cae en un segundo anterior.
	RevokeSubject(ctx context.Context, subject, reason string) (int, error)

	// IsRevoked reporta si la sesión fue revocada o si el subject fue revocado
	// en un segundo posterior al de issuedAt (ver RevocationCutoff).
	IsRevoked(ctx context.Context, sessionID, subject string, issuedAt time.Time) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// RevocationCutoff es el revoked_at mínimo de una revocación de subject que
// alcanza a un token emitido en issuedAt. iat tiene resolución de segundos, así
// que un token emitido en el mismo segundo que la revocación no queda revocado.
func RevocationCutoff(issuedAt time.Time) time.Time {
	return issuedAt.UTC().Truncate(time.Second).Add(time.Second)
}
