package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS auth_refresh_tokens (
	jti           TEXT PRIMARY KEY,
	subject       TEXT NOT NULL,
	session_id    TEXT NOT NULL DEFAULT '',
	parent_jti    TEXT NOT NULL DEFAULT '',
	root_jti      TEXT NOT NULL,
	kid           TEXT NOT NULL DEFAULT '',
	issued_at     TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	used          BOOLEAN NOT NULL DEFAULT FALSE,
	used_at       TIMESTAMPTZ,
	revoked_at    TIMESTAMPTZ,
	revoke_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS auth_refresh_tokens_session_idx ON auth_refresh_tokens (session_id);
CREATE INDEX IF NOT EXISTS auth_refresh_tokens_subject_idx ON auth_refresh_tokens (subject);
CREATE TABLE IF NOT EXISTS auth_revocations (
	scope      TEXT NOT NULL,
	key        TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	revoked_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (scope, key)
);
`

// TokenStore implementa repository.TokenStore sobre un pgxpool.
type TokenStore struct {
	pool *pgxpool.Pool
}

// New aplica el esquema (idempotente) y devuelve el store.
func New(ctx context.Context, pool *pgxpool.Pool) (*TokenStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("pg: init schema: %w", err)
	}
	return &TokenStore{pool: pool}, nil
}

func (s *TokenStore) CreateRefresh(ctx context.Context, rec repository.RefreshRecord) error {
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti required", repository.ErrInvalidInput)
	}
	if rec.RootJTI == "" {
		rec.RootJTI = rec.JTI
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_refresh_tokens (jti, subject, session_id, parent_jti, root_jti, kid, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.JTI, rec.Subject, rec.SessionID, rec.ParentJTI, rec.RootJTI, rec.KeyID, rec.IssuedAt, rec.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return wrap("create refresh", err)
}

func (s *TokenStore) GetRefresh(ctx context.Context, jti string) (*repository.RefreshRecord, error) {
	var rec repository.RefreshRecord
	err := s.pool.QueryRow(ctx, `
		SELECT jti, subject, session_id, parent_jti, root_jti, kid, issued_at, expires_at,
			used, used_at, revoked_at, revoke_reason
		FROM auth_refresh_tokens WHERE jti = $1`, jti,
	).Scan(&rec.JTI, &rec.Subject, &rec.SessionID, &rec.ParentJTI, &rec.RootJTI, &rec.KeyID,
		&rec.IssuedAt, &rec.ExpiresAt, &rec.Used, &rec.UsedAt, &rec.RevokedAt, &rec.RevokeReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get refresh", err)
	}
	return &rec, nil
}

// MarkUsedIfUnused es un UPDATE condicional: solo una transacción concurrente
// ve RowsAffected == 1.
func (s *TokenStore) MarkUsedIfUnused(ctx context.Context, jti string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_refresh_tokens SET used = TRUE, used_at = NOW()
		WHERE jti = $1 AND used = FALSE AND revoked_at IS NULL`, jti)
	if err != nil {
		return false, wrap("mark used", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auth_refresh_tokens WHERE jti = $1)`, jti).Scan(&exists); err != nil {
		return false, wrap("mark used", err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (s *TokenStore) GetChain(ctx context.Context, jti string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE chain(jti, parent_jti, depth) AS (
			SELECT jti, parent_jti, 0 FROM auth_refresh_tokens WHERE jti = $1
			UNION ALL
			SELECT t.jti, t.parent_jti, c.depth + 1
			FROM auth_refresh_tokens t JOIN chain c ON t.jti = c.parent_jti
			WHERE c.depth < 10000
		)
		SELECT jti FROM chain ORDER BY depth`, jti)
	if err != nil {
		return nil, wrap("get chain", err)
	}
	chain, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("get chain", err)
	}
	if len(chain) == 0 {
		return nil, repository.ErrNotFound
	}
	seen := make(map[string]bool, len(chain))
	out := chain[:0]
	for _, j := range chain {
		if seen[j] {
			break
		}
		seen[j] = true
		out = append(out, j)
	}
	return out, nil
}

func (s *TokenStore) RevokeSession(ctx context.Context, sessionID, reason string) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id required", repository.ErrInvalidInput)
	}
	return s.revoke(ctx, "session_id", "sid", sessionID, reason, false)
}

func (s *TokenStore) RevokeSubject(ctx context.Context, subject, reason string) (int, error) {
	if subject == "" {
		return 0, fmt.Errorf("%w: subject required", repository.ErrInvalidInput)
	}
	return s.revoke(ctx, "subject", "sub", subject, reason, true)
}

// revoke marca los registros y guarda la revocación en una sola transacción.
// column es una constante interna, nunca input del usuario.
func (s *TokenStore) revoke(ctx context.Context, column, scope, key, reason string, overwrite bool) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, wrap("revoke", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE auth_refresh_tokens SET revoked_at = $1, revoke_reason = $2
		WHERE `+column+` = $3 AND revoked_at IS NULL`, now, reason, key)
	if err != nil {
		return 0, wrap("revoke", err)
	}
	conflict := `ON CONFLICT (scope, key) DO NOTHING`
	if overwrite {
		conflict = `ON CONFLICT (scope, key) DO UPDATE SET reason = EXCLUDED.reason, revoked_at = EXCLUDED.revoked_at`
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO auth_revocations (scope, key, reason, revoked_at) VALUES ($1, $2, $3, $4) `+conflict,
		scope, key, reason, now); err != nil {
		return 0, wrap("revoke", err)
	}
	if scope == "sub" {
		// Las sesiones existentes se revocan por sid: la fila 'sub' solo alcanza
		// a tokens emitidos en segundos anteriores.
		if _, err := tx.Exec(ctx, `
			INSERT INTO auth_revocations (scope, key, reason, revoked_at)
			SELECT DISTINCT 'sid', session_id, $2, $3::timestamptz FROM auth_refresh_tokens
			WHERE subject = $1 AND session_id <> ''
			ON CONFLICT (scope, key) DO NOTHING`, key, reason, now); err != nil {
			return 0, wrap("revoke", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrap("revoke", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *TokenStore) IsRevoked(ctx context.Context, sessionID, subject string, issuedAt time.Time) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM auth_revocations WHERE scope = 'sid' AND key = $1 AND $1 <> '')
			OR EXISTS (SELECT 1 FROM auth_revocations WHERE scope = 'sub' AND key = $2 AND $2 <> '' AND revoked_at >= $3)`,
		sessionID, subject, repository.RevocationCutoff(issuedAt),
	).Scan(&revoked)
	if err != nil {
		return false, wrap("is revoked", err)
	}
	return revoked, nil
}

func (s *TokenStore) Ping(ctx context.Context) error { return wrap("ping", s.pool.Ping(ctx)) }

func (s *TokenStore) Close() error {
	s.pool.Close()
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: pg %s: %v", repository.ErrUnavailable, op, err)
}
