package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/todoapi/pkg/auth/nonce"
	"github.com/rhuss/todoapi/pkg/auth/token"
	"github.com/rhuss/todoapi/pkg/config"
	"github.com/rhuss/todoapi/pkg/storage/memory"
	"github.com/rhuss/todoapi/pkg/storage/postgres"
	"github.com/rhuss/todoapi/pkg/storage/sqlite"
	"github.com/rhuss/todoapi/pkg/transport"
	"github.com/rhuss/todoapi/pkg/users"
)

// backend is everything the service needs from a storage adapter.
// Each adapter implements all four stores on one connection.
type backend interface {
	transport.TodoStore
	users.Directory
	nonce.Store
	token.Store
}

// openStore opens the adapter selected by storage.type.
func openStore(ctx context.Context, cfg config.StorageConfig) (backend, error) {
	switch cfg.Type {
	case "memory", "":
		slog.Info("storage enabled", "type", "memory", "max_nonces", cfg.MaxNonces)
		return memory.New(cfg.MaxNonces), nil

	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return s, nil

	case "sqlite":
		s, err := sqlite.New(ctx, sqlite.Config{Path: cfg.SQLite.Path})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		slog.Info("storage enabled", "type", "sqlite", "path", cfg.SQLite.Path)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
