package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// Layout de claves (prefijo configurable, default "auth:"):
//
//	<p>rt:<jti>        hash del refresh record
//	<p>sid:<sid>       set de jti de la sesión
//	<p>subj:<sub>      set de jti del subject
//	<p>rev:sid:<sid>   revocación de sesión (valor: reason)
//	<p>rev:sub:<sub>   revocación de subject (valor: unix nanos)
//
// RevokeSubject además revoca el sid de cada sesión existente del subject:
// rev:sub solo alcanza a tokens de segundos anteriores (iat en segundos).
var createScript = rdb.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'sub', ARGV[2], 'sid', ARGV[3], 'parent', ARGV[4], 'root', ARGV[5],
  'kid', ARGV[6], 'iat', ARGV[7], 'exp', ARGV[8], 'used', '0')
redis.call('PEXPIREAT', KEYS[1], ARGV[9])
if ARGV[3] ~= '' then
  redis.call('SADD', KEYS[2], ARGV[1])
  redis.call('EXPIRE', KEYS[2], ARGV[10])
end
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('EXPIRE', KEYS[3], ARGV[10])
return 1
`)

var markUsedScript = rdb.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'used', 'revoked_at')
if not v[1] then return -1 end
if v[1] == '1' or (v[2] and v[2] ~= '') then return 0 end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1])
return 1
`)

var revokeScript = rdb.NewScript(`
local n = 0
for _, jti in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local k = ARGV[1] .. jti
  if redis.call('EXISTS', k) == 1 then
    local r = redis.call('HGET', k, 'revoked_at')
    if not r or r == '' then
      redis.call('HSET', k, 'revoked_at', ARGV[2], 'reason', ARGV[3])
      n = n + 1
    end
    if ARGV[7] ~= '' then
      local sid = redis.call('HGET', k, 'sid')
      if sid and sid ~= '' then
        redis.call('SET', ARGV[7] .. sid, ARGV[3], 'EX', ARGV[4], 'NX')
      end
    end
  end
end
if ARGV[6] == '1' then
  redis.call('SET', KEYS[2], ARGV[5], 'EX', ARGV[4])
else
  redis.call('SET', KEYS[2], ARGV[5], 'EX', ARGV[4], 'NX')
end
return n
`)

// TokenStore implementa repository.TokenStore sobre go-redis.
type TokenStore struct {
	client    rdb.UniversalClient
	prefix    string
	retention time.Duration
}

// New arma el store. retention es el TTL de los sets y revocaciones (default 31 días).
func New(client rdb.UniversalClient, prefix string, retention time.Duration) *TokenStore {
	if prefix == "" {
		prefix = "auth:"
	}
	if retention <= 0 {
		retention = 744 * time.Hour
	}
	return &TokenStore{client: client, prefix: prefix, retention: retention}
}

func (s *TokenStore) rtKey(jti string) string     { return s.prefix + "rt:" + jti }
func (s *TokenStore) sidKey(sid string) string    { return s.prefix + "sid:" + sid }
func (s *TokenStore) subjKey(sub string) string   { return s.prefix + "subj:" + sub }
func (s *TokenStore) revSIDKey(sid string) string { return s.prefix + "rev:sid:" + sid }
func (s *TokenStore) revSubKey(sub string) string { return s.prefix + "rev:sub:" + sub }

func unixNano(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }

func parseNano(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *TokenStore) CreateRefresh(ctx context.Context, rec repository.RefreshRecord) error {
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti required", repository.ErrInvalidInput)
	}
	if rec.RootJTI == "" {
		rec.RootJTI = rec.JTI
	}
	// el registro sobrevive un rato a su exp para que la cadena siga navegable
	expireAt := rec.ExpiresAt.Add(time.Hour).UnixMilli()
	res, err := createScript.Run(ctx, s.client,
		[]string{s.rtKey(rec.JTI), s.sidKey(rec.SessionID), s.subjKey(rec.Subject)},
		rec.JTI, rec.Subject, rec.SessionID, rec.ParentJTI, rec.RootJTI, rec.KeyID,
		unixNano(rec.IssuedAt), unixNano(rec.ExpiresAt), expireAt, int64(s.retention/time.Second),
	).Int()
	if err != nil {
		return wrap(err)
	}
	if res == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (s *TokenStore) GetRefresh(ctx context.Context, jti string) (*repository.RefreshRecord, error) {
	m, err := s.client.HGetAll(ctx, s.rtKey(jti)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if len(m) == 0 {
		return nil, repository.ErrNotFound
	}
	rec := &repository.RefreshRecord{
		JTI:          jti,
		Subject:      m["sub"],
		SessionID:    m["sid"],
		ParentJTI:    m["parent"],
		RootJTI:      m["root"],
		KeyID:        m["kid"],
		IssuedAt:     parseNano(m["iat"]),
		ExpiresAt:    parseNano(m["exp"]),
		Used:         m["used"] == "1",
		RevokeReason: m["reason"],
	}
	if t := parseNano(m["used_at"]); !t.IsZero() {
		rec.UsedAt = &t
	}
	if t := parseNano(m["revoked_at"]); !t.IsZero() {
		rec.RevokedAt = &t
	}
	return rec, nil
}

func (s *TokenStore) MarkUsedIfUnused(ctx context.Context, jti string) (bool, error) {
	res, err := markUsedScript.Run(ctx, s.client, []string{s.rtKey(jti)}, unixNano(time.Now())).Int()
	if err != nil {
		return false, wrap(err)
	}
	switch res {
	case -1:
		return false, repository.ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (s *TokenStore) GetChain(ctx context.Context, jti string) ([]string, error) {
	chain := []string{}
	seen := map[string]bool{}
	for cur := jti; cur != "" && !seen[cur]; {
		parent, err := s.client.HGet(ctx, s.rtKey(cur), "parent").Result()
		if errors.Is(err, rdb.Nil) {
			if cur == jti {
				return nil, repository.ErrNotFound
			}
			break
		}
		if err != nil {
			return nil, wrap(err)
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
	now := unixNano(time.Now())
	n, err := revokeScript.Run(ctx, s.client,
		[]string{s.sidKey(sessionID), s.revSIDKey(sessionID)},
		s.prefix+"rt:", now, reason, int64(s.retention/time.Second), reason, "0", "",
	).Int()
	return n, wrap(err)
}

func (s *TokenStore) RevokeSubject(ctx context.Context, subject, reason string) (int, error) {
	if subject == "" {
		return 0, fmt.Errorf("%w: subject required", repository.ErrInvalidInput)
	}
	now := unixNano(time.Now())
	n, err := revokeScript.Run(ctx, s.client,
		[]string{s.subjKey(subject), s.revSubKey(subject)},
		s.prefix+"rt:", now, reason, int64(s.retention/time.Second), now, "1", s.prefix+"rev:sid:",
	).Int()
	return n, wrap(err)
}

func (s *TokenStore) IsRevoked(ctx context.Context, sessionID, subject string, issuedAt time.Time) (bool, error) {
	pipe := s.client.Pipeline()
	var sidCmd *rdb.IntCmd
	var subCmd *rdb.StringCmd
	if sessionID != "" {
		sidCmd = pipe.Exists(ctx, s.revSIDKey(sessionID))
	}
	if subject != "" {
		subCmd = pipe.Get(ctx, s.revSubKey(subject))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, rdb.Nil) {
		return false, wrap(err)
	}
	if sidCmd != nil && sidCmd.Val() > 0 {
		return true, nil
	}
	if subCmd != nil && subCmd.Err() == nil {
		if at := parseNano(subCmd.Val()); !at.IsZero() && !at.Before(repository.RevocationCutoff(issuedAt)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *TokenStore) Ping(ctx context.Context) error { return wrap(s.client.Ping(ctx).Err()) }
func (s *TokenStore) Close() error                   { return s.client.Close() }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: redis: %v", repository.ErrUnavailable, err)
}
