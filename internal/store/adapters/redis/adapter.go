// Package redis implementa el lookup store sobre Redis. El CAS del flag used y
// las revocaciones corren como scripts Lua, atómicos en el servidor, así varias
// réplicas comparten el mismo estado.
package redis

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

const adapterName = "redis"

func init() {
	store.RegisterTokenAdapter(&adapter{})
}

type adapter struct{}

func (a *adapter) Name() string { return adapterName }

func (a *adapter) OpenTokens(ctx context.Context, cfg store.TokenConfig) (repository.TokenStore, error) {
	opts, err := rdb.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("redis: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	client := rdb.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(client, cfg.KeyPrefix, cfg.RevocationTTL), nil
}
