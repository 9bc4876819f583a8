package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// SecretStore es un secret store en memoria. Down simula indisponibilidad.
type SecretStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	down bool
}

func NewSecretStore() *SecretStore {
	return &SecretStore{data: map[string][]byte{}}
}

// SetDown hace que todas las operaciones devuelvan ErrUnavailable.
func (s *SecretStore) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *SecretStore) Write(ctx context.Context, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.data[path] = append([]byte(nil), value...)
	return nil
}

func (s *SecretStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	v, ok := s.data[path]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *SecretStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	var out []string
	for k := range s.data {
		if name, ok := strings.CutPrefix(k, prefix); ok && name != "" && !strings.Contains(name, "/") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *SecretStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.data, path)
	return nil
}

func (s *SecretStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *SecretStore) check(ctx context.Context) error {
	if s.down {
		return repository.ErrUnavailable
	}
	return ctx.Err()
}
