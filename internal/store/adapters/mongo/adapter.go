// Package mongo implementa el lookup store sobre MongoDB (driver v2).
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

const adapterName = "mongo"

func init() {
	store.RegisterTokenAdapter(&adapter{})
}

type adapter struct{}

func (a *adapter) Name() string { return adapterName }

func (a *adapter) OpenTokens(ctx context.Context, cfg store.TokenConfig) (repository.TokenStore, error) {
	opts := options.Client().ApplyURI(cfg.DSN).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxConnIdleTime(5 * time.Minute)
	if cfg.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "journal_auth"
	}
	s, err := New(ctx, client, dbName)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}
