package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory implementa Cache sobre go-cache.
type Memory struct {
	c      *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory crea el cache. Las entradas vencidas se barren cada cleanup.
func NewMemory(defaultTTL, cleanup time.Duration) *Memory {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Memory{c: gocache.New(defaultTTL, cleanup)}
}

func (m *Memory) Get(key string) (string, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		m.misses.Add(1)
		return "", false
	}
	m.hits.Add(1)
	s, _ := v.(string)
	return s, true
}

func (m *Memory) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
}

func (m *Memory) Delete(key string) { m.c.Delete(key) }
func (m *Memory) Flush()            { m.c.Flush() }

func (m *Memory) Stats() Stats {
	return Stats{Keys: m.c.ItemCount(), Hits: m.hits.Load(), Misses: m.misses.Load()}
}
