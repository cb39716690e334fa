package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kiliankoe/dropone/internal/config"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, config.Config{Store: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if err := mem.Ping(ctx); err != nil {
		t.Fatalf("memory ping: %v", err)
	}

	lite, err := openStore(ctx, config.Config{Store: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "db.sqlite")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer lite.Close()
	if err := lite.Ping(ctx); err != nil {
		t.Fatalf("sqlite ping: %v", err)
	}

	if _, err := openStore(ctx, config.Config{Store: "postgres"}); err == nil {
		t.Fatal("postgres without a DSN should fail")
	}
}
