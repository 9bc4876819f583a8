package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/security/secretbox"
	"github.com/dropDatabas3/journal-auth/internal/util/atomicwrite"
)

const ext = ".sec"

// SecretStore implementa repository.SecretStore.
type SecretStore struct {
	root string
	box  *secretbox.Box
}

// New crea el store bajo dir (se crea si no existe).
func New(dir string, master []byte) (*SecretStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: fs secret store dir required", repository.ErrInvalidInput)
	}
	box, err := secretbox.New(master, "journal-auth/secret-store/v1")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", repository.ErrUnavailable, dir, err)
	}
	return &SecretStore{root: dir, box: box}, nil
}

// clean normaliza un path lógico y rechaza escapes del root.
func clean(p string) (string, error) {
	c := path.Clean("/" + strings.TrimSpace(p))[1:]
	if c == "" || strings.Contains(p, "..") || strings.HasSuffix(c, ext) {
		return "", fmt.Errorf("%w: invalid secret path %q", repository.ErrInvalidInput, p)
	}
	return c, nil
}

func (s *SecretStore) file(logical string) string {
	return filepath.Join(s.root, filepath.FromSlash(logical)) + ext
}

func (s *SecretStore) Write(ctx context.Context, p string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logical, err := clean(p)
	if err != nil {
		return err
	}
	sealed, err := s.box.Seal(value, []byte(logical))
	if err != nil {
		return err
	}
	if err := atomicwrite.WriteFile(s.file(logical), []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return nil
}

func (s *SecretStore) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logical, err := clean(p)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.file(logical))
	if errors.Is(err, os.ErrNotExist) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	plain, err := s.box.Open(strings.TrimSpace(string(raw)), []byte(logical))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", repository.ErrInvalidInput, logical, err)
	}
	return plain, nil
}

func (s *SecretStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logical, err := clean(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(logical)))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	out := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ext))
	}
	sort.Strings(out)
	return out, nil
}

func (s *SecretStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logical, err := clean(p)
	if err != nil {
		return err
	}
	if err := atomicwrite.Remove(s.file(logical)); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return nil
}

func (s *SecretStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return nil
}
