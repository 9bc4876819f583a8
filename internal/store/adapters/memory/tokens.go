package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// TokenStore guarda registros de refresh y revocaciones bajo un mutex; el CAS
// del flag used es atómico dentro del proceso.
type TokenStore struct {
	mu         sync.Mutex
	refresh    map[string]*repository.RefreshRecord
	bySession  map[string][]string
	bySubject  map[string][]string
	revokedSID map[string]repository.RevocationRecord
	revokedSub map[string]repository.RevocationRecord

	// Now permite fijar el reloj en tests.
	Now func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		refresh:    map[string]*repository.RefreshRecord{},
		bySession:  map[string][]string{},
		bySubject:  map[string][]string{},
		revokedSID: map[string]repository.RevocationRecord{},
		revokedSub: map[string]repository.RevocationRecord{},
		Now:        time.Now,
	}
}

func (s *TokenStore) CreateRefresh(_ context.Context, rec repository.RefreshRecord) error {
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti required", repository.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[rec.JTI]; ok {
		return repository.ErrConflict
	}
	if rec.RootJTI == "" {
		rec.RootJTI = rec.JTI
	}
	cp := rec
	s.refresh[rec.JTI] = &cp
	if rec.SessionID != "" {
		s.bySession[rec.SessionID] = append(s.bySession[rec.SessionID], rec.JTI)
	}
	s.bySubject[rec.Subject] = append(s.bySubject[rec.Subject], rec.JTI)
	return nil
}

func (s *TokenStore) GetRefresh(_ context.Context, jti string) (*repository.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[jti]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *TokenStore) MarkUsedIfUnused(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[jti]
	if !ok {
		return false, repository.ErrNotFound
	}
	if rec.Used || rec.RevokedAt != nil {
		return false, nil
	}
	now := s.Now().UTC()
	rec.Used = true
	rec.UsedAt = &now
	return true, nil
}

func (s *TokenStore) GetChain(_ context.Context, jti string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[jti]; !ok {
		return nil, repository.ErrNotFound
	}
	chain := []string{}
	seen := map[string]bool{}
	for cur := jti; cur != "" && !seen[cur]; {
		seen[cur] = true
		chain = append(chain, cur)
		rec, ok := s.refresh[cur]
		if !ok {
			break
		}
		cur = rec.ParentJTI
	}
	return chain, nil
}

func (s *TokenStore) RevokeSession(_ context.Context, sessionID, reason string) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id required", repository.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	n := s.revokeLocked(s.bySession[sessionID], reason, now)
	if _, ok := s.revokedSID[sessionID]; !ok {
		s.revokedSID[sessionID] = repository.RevocationRecord{TokenID: sessionID, Reason: reason, RevokedAt: now}
	}
	return n, nil
}

func (s *TokenStore) RevokeSubject(_ context.Context, subject, reason string) (int, error) {
	if subject == "" {
		return 0, fmt.Errorf("%w: subject required", repository.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	n := s.revokeLocked(s.bySubject[subject], reason, now)
	// Las sesiones existentes se revocan por sid: la marca por subject solo
	// alcanza a tokens emitidos en segundos anteriores.
	for _, jti := range s.bySubject[subject] {
		rec := s.refresh[jti]
		if rec == nil || rec.SessionID == "" {
			continue
		}
		if _, ok := s.revokedSID[rec.SessionID]; !ok {
			s.revokedSID[rec.SessionID] = repository.RevocationRecord{TokenID: rec.SessionID, Reason: reason, RevokedAt: now}
		}
	}
	s.revokedSub[subject] = repository.RevocationRecord{Subject: subject, Reason: reason, RevokedAt: now}
	return n, nil
}

func (s *TokenStore) revokeLocked(jtis []string, reason string, now time.Time) int {
	n := 0
	for _, jti := range jtis {
		rec := s.refresh[jti]
		if rec == nil || rec.RevokedAt != nil {
			continue
		}
		t := now
		rec.RevokedAt = &t
		rec.RevokeReason = reason
		n++
	}
	return n
}

func (s *TokenStore) IsRevoked(_ context.Context, sessionID, subject string, issuedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != "" {
		if _, ok := s.revokedSID[sessionID]; ok {
			return true, nil
		}
	}
	if subject != "" {
		if rec, ok := s.revokedSub[subject]; ok && !rec.RevokedAt.Before(repository.RevocationCutoff(issuedAt)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *TokenStore) Ping(context.Context) error { return nil }
func (s *TokenStore) Close() error               { return nil }
