// Package storage persists the rule store and audit log. Every backend
// applies one intake cycle's audit entries in a single transaction.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/rs/zerolog"
)

// New creates the persister selected by cfg.Driver. The memory driver has no
// persister and returns nil.
func New(ctx context.Context, cfg core.StorageConfig, logger zerolog.Logger) (core.Persister, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "adaptivefw"
	}

	switch strings.ToLower(cfg.Driver) {
	case "memory", "":
		return nil, nil

	case DialectSQLite, DialectPostgres, DialectMySQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required when driver=%s", cfg.Driver)
		}
		store, err := OpenSQL(ctx, strings.ToLower(cfg.Driver), cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("storage.redis_addr is required when driver=redis")
		}
		store, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB, prefix, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// ruleMutation is what an audit entry does to the persisted rules.
type ruleMutation int

const (
	mutUpsert ruleMutation = iota
	mutDelete
)

func mutationFor(kind core.ChangeKind) (ruleMutation, error) {
	switch kind {
	case core.ChangeAdded, core.ChangeReplaced:
		return mutUpsert, nil
	case core.ChangeExpired, core.ChangeRemoved:
		return mutDelete, nil
	default:
		return 0, fmt.Errorf("unknown change kind %q", kind)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}
