package kvstore

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend    string
	RedisURL   string
	SQLitePath string
}

// Open constructs the Store named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendRedis:
		return NewRedis(ctx, opts.RedisURL, logger)
	case BackendSQLite:
		return NewSQLite(ctx, opts.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", opts.Backend)
	}
}
