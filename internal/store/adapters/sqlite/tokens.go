package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// TokenStore implementa repository.TokenStore sobre database/sql.
// Los timestamps se guardan como unix nanos (INTEGER).
type TokenStore struct {
	db *sql.DB
}

// Open abre (o crea) la base en path y aplica el esquema.
func Open(ctx context.Context, path string) (*TokenStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path required", repository.ErrInvalidInput)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// un solo writer: SQLite serializa escrituras y así evitamos SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &TokenStore{db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	tables := []struct{ name, ddl string }{
		{"refresh_tokens", `
			CREATE TABLE IF NOT EXISTS refresh_tokens (
				jti           TEXT PRIMARY KEY,
				subject       TEXT NOT NULL,
				session_id    TEXT NOT NULL DEFAULT '',
				parent_jti    TEXT NOT NULL DEFAULT '',
				root_jti      TEXT NOT NULL,
				kid           TEXT NOT NULL DEFAULT '',
				issued_at     INTEGER NOT NULL,
				expires_at    INTEGER NOT NULL,
				used          INTEGER NOT NULL DEFAULT 0,
				used_at       INTEGER,
				revoked_at    INTEGER,
				revoke_reason TEXT NOT NULL DEFAULT ''
			);`},
		{"refresh_tokens_session_idx", `CREATE INDEX IF NOT EXISTS refresh_tokens_session_idx ON refresh_tokens (session_id);`},
		{"refresh_tokens_subject_idx", `CREATE INDEX IF NOT EXISTS refresh_tokens_subject_idx ON refresh_tokens (subject);`},
		{"revocations", `
			CREATE TABLE IF NOT EXISTS revocations (
				scope      TEXT NOT NULL,
				key        TEXT NOT NULL,
				reason     TEXT NOT NULL DEFAULT '',
				revoked_at INTEGER NOT NULL,
				PRIMARY KEY (scope, key)
			);`},
	}
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to init '%s' schema: %w", t.name, err)
		}
	}
	return nil
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func (s *TokenStore) CreateRefresh(ctx context.Context, rec repository.RefreshRecord) error {
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti required", repository.ErrInvalidInput)
	}
	if rec.RootJTI == "" {
		rec.RootJTI = rec.JTI
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, subject, session_id, parent_jti, root_jti, kid, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JTI, rec.Subject, rec.SessionID, rec.ParentJTI, rec.RootJTI, rec.KeyID, nanos(rec.IssuedAt), nanos(rec.ExpiresAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return repository.ErrConflict
	}
	return wrap("create refresh", err)
}

func (s *TokenStore) GetRefresh(ctx context.Context, jti string) (*repository.RefreshRecord, error) {
	var (
		rec               repository.RefreshRecord
		iat, exp          int64
		used              int
		usedAt, revokedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT jti, subject, session_id, parent_jti, root_jti, kid, issued_at, expires_at,
			used, used_at, revoked_at, revoke_reason
		FROM refresh_tokens WHERE jti = ?`, jti,
	).Scan(&rec.JTI, &rec.Subject, &rec.SessionID, &rec.ParentJTI, &rec.RootJTI, &rec.KeyID,
		&iat, &exp, &used, &usedAt, &revokedAt, &rec.RevokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get refresh", err)
	}
	rec.IssuedAt = time.Unix(0, iat).UTC()
	rec.ExpiresAt = time.Unix(0, exp).UTC()
	rec.Used = used == 1
	rec.UsedAt = fromNanos(usedAt)
	rec.RevokedAt = fromNanos(revokedAt)
	return &rec, nil
}

func (s *TokenStore) MarkUsedIfUnused(ctx context.Context, jti string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET used = 1, used_at = ?
		WHERE jti = ? AND used = 0 AND revoked_at IS NULL`, nanos(time.Now()), jti)
	if err != nil {
		return false, wrap("mark used", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE jti = ?`, jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, repository.ErrNotFound
	}
	if err != nil {
		return false, wrap("mark used", err)
	}
	return false, nil
}

func (s *TokenStore) GetChain(ctx context.Context, jti string) ([]string, error) {
	chain := []string{}
	seen := map[string]bool{}
	for cur := jti; cur != "" && !seen[cur]; {
		var parent string
		err := s.db.QueryRowContext(ctx, `SELECT parent_jti FROM refresh_tokens WHERE jti = ?`, cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			if cur == jti {
				return nil, repository.ErrNotFound
			}
			break
		}
		if err != nil {
			return nil, wrap("get chain", err)
		}
		seen[cur] = true
		chain = append(chain, cur)
		cur = parent
	}
	return chain, nil
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

func (s *TokenStore) revoke(ctx context.Context, column, scope, key, reason string, overwrite bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("revoke", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nanos(time.Now())
	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = ?, revoke_reason = ?
		WHERE `+column+` = ? AND revoked_at IS NULL`, now, reason, key)
	if err != nil {
		return 0, wrap("revoke", err)
	}
	verb := "INSERT OR IGNORE"
	if overwrite {
		verb = "INSERT OR REPLACE"
	}
	if _, err := tx.ExecContext(ctx, verb+` INTO revocations (scope, key, reason, revoked_at) VALUES (?, ?, ?, ?)`,
		scope, key, reason, now); err != nil {
		return 0, wrap("revoke", err)
	}
	if scope == "sub" {
		// Las sesiones existentes se revocan por sid: la fila 'sub' solo alcanza
		// a tokens emitidos en segundos anteriores.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO revocations (scope, key, reason, revoked_at)
			SELECT DISTINCT 'sid', session_id, ?, ? FROM refresh_tokens
			WHERE subject = ? AND session_id <> ''`, reason, now, key); err != nil {
			return 0, wrap("revoke", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("revoke", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *TokenStore) IsRevoked(ctx context.Context, sessionID, subject string, issuedAt time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM revocations
		WHERE (scope = 'sid' AND key = ? AND key <> '')
		   OR (scope = 'sub' AND key = ? AND key <> '' AND revoked_at >= ?)`,
		sessionID, subject, nanos(repository.RevocationCutoff(issuedAt))).Scan(&n)
	if err != nil {
		return false, wrap("is revoked", err)
	}
	return n > 0, nil
}

func (s *TokenStore) Ping(ctx context.Context) error { return wrap("ping", s.db.PingContext(ctx)) }
func (s *TokenStore) Close() error                   { return s.db.Close() }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: sqlite %s: %v", repository.ErrUnavailable, op, err)
}
