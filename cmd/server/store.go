package main

import (
	"context"
	"fmt"

	"github.com/kiliankoe/dropone/internal/config"
	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage/memory"
	"github.com/kiliankoe/dropone/internal/storage/postgres"
	"github.com/kiliankoe/dropone/internal/storage/sqlite"
)

// closableStore is a game.Store the server owns for its whole lifetime.
type closableStore interface {
	game.Store
	Ping(ctx context.Context) error
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Ping(context.Context) error { return nil }
func (memoryStore) Close() error               { return nil }

func openStore(ctx context.Context, cfg config.Config) (closableStore, error) {
	switch cfg.Store {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	}
	return memoryStore{memory.New()}, nil
}
