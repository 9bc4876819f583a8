package m2m

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// MemoryRegistry es un ServiceRegistry fijo en memoria.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids map[string]repository.ServiceIdentity
}

func NewMemoryRegistry(ids ...repository.ServiceIdentity) *MemoryRegistry {
	r := &MemoryRegistry{ids: map[string]repository.ServiceIdentity{}}
	for _, id := range ids {
		r.Put(id)
	}
	return r
}

func (r *MemoryRegistry) Put(id repository.ServiceIdentity) {
	r.mu.Lock()
	r.ids[id.ID] = id
	r.mu.Unlock()
}

func (r *MemoryRegistry) Lookup(_ context.Context, serviceID string) (*repository.ServiceIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[serviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	id.MaxScopes = append([]string(nil), id.MaxScopes...)
	return &id, nil
}

// ─── File registry ───

type registryFile struct {
	Services []struct {
		ID         string   `yaml:"id"`
		SecretHash string   `yaml:"secret_hash"`
		Scopes     []string `yaml:"scopes"`
		Disabled   bool     `yaml:"disabled"`
	} `yaml:"services"`
}

// FileRegistry lee el registry de un YAML y lo recarga cuando el archivo cambia.
// Un archivo inválido deja vigente la última versión buena.
type FileRegistry struct {
	path string
	ids  atomic.Pointer[map[string]repository.ServiceIdentity]
	log  *zap.Logger
}

// LoadFileRegistry lee path. Falla si el archivo inicial no es válido.
func LoadFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path, log: logger.Named("m2m.registry")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload vuelve a leer el archivo.
func (r *FileRegistry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read service registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse service registry %s: %w", r.path, err)
	}
	ids := make(map[string]repository.ServiceIdentity, len(f.Services))
	for i, s := range f.Services {
		if s.ID == "" || s.SecretHash == "" {
			return fmt.Errorf("service registry %s: entry %d needs id and secret_hash", r.path, i)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("service registry %s: duplicate service %q", r.path, s.ID)
		}
		ids[s.ID] = repository.ServiceIdentity{
			ID:         s.ID,
			SecretHash: s.SecretHash,
			MaxScopes:  normalize(s.Scopes),
			Disabled:   s.Disabled,
		}
	}
	r.ids.Store(&ids)
	r.log.Info("service registry cargado", logger.Count(len(ids)))
	return nil
}

func (r *FileRegistry) Lookup(_ context.Context, serviceID string) (*repository.ServiceIdentity, error) {
	id, ok := (*r.ids.Load())[serviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	id.MaxScopes = append([]string(nil), id.MaxScopes...)
	return &id, nil
}

// Watch recarga el registry ante cambios del archivo hasta que ctx termine.
// Se observa el directorio: los editores y los ConfigMap reemplazan el archivo
// por rename. Los eventos se agrupan con debounce.
func (r *FileRegistry) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return err
	}
	name := filepath.Clean(r.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire, timer = nil, nil
			if err := r.Reload(); err != nil {
				r.log.Warn("recarga del service registry falló, se mantiene la versión anterior", logger.Err(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watcher del service registry", logger.Err(err))
		}
	}
}
