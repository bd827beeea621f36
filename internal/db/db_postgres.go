package db

import (
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const pgDriverName = "pgx"

// NewPostgresDB connects to a Postgres database through the pgx stdlib driver.
// Only the pool options apply; path and pragmas are ignored.
func NewPostgresDB(dsn string, opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{
		maxOpenConns:    4,
		maxIdleConns:    2,
		connMaxLifetime: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	slog.Debug("db", "driver", pgDriverName)
	db, err := sqlx.Connect(pgDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.maxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	if cfg.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	return db, nil
}
