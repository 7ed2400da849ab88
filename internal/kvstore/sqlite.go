package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

const (
	sqlSelectKey = `SELECT value, expires_at FROM kv WHERE key = ?`

	sqlUpsertKey = `INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 expires_at = excluded.expires_at`

	sqlDeleteExpired = `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`
)

// SQLiteStore is a Store backed by a local SQLite database. It suits
// single-instance deployments that have no Redis server.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// NewSQLite opens (creating if needed) the database at dbPath and runs
// migrations.
func NewSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store initialized", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// GetWithTTL reads value and expiry in one query. Expired rows read as
// missing and are purged lazily.
func (s *SQLiteStore) GetWithTTL(ctx context.Context, key string) (string, time.Duration, error) {
	var (
		value     string
		expiresAt sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, sqlSelectKey, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}

	if err != nil {
		return "", 0, fmt.Errorf("kvstore: reading %s: %w", key, err)
	}

	if !expiresAt.Valid {
		return value, NoExpiry, nil
	}

	now := s.nowFunc()

	remaining := time.UnixMilli(expiresAt.Int64).Sub(now)
	if remaining <= 0 {
		s.purgeExpired(ctx, now)
		return "", 0, ErrNotFound
	}

	// Redis reports TTL in whole seconds; match it so both backends agree.
	return value, remaining.Truncate(time.Second), nil
}

// Set upserts value. ttl <= 0 stores without expiry.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.nowFunc().Add(ttl).UnixMilli(), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertKey, key, value, expiresAt); err != nil {
		return fmt.Errorf("kvstore: writing %s: %w", key, err)
	}

	s.logger.Debug("stored key", slog.String("key", key), slog.Duration("ttl", ttl))

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) purgeExpired(ctx context.Context, now time.Time) {
	res, err := s.db.ExecContext(ctx, sqlDeleteExpired, now.UnixMilli())
	if err != nil {
		s.logger.Warn("purging expired keys failed", slog.String("error", err.Error()))
		return
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("purged expired keys", slog.Int64("count", n))
	}
}
