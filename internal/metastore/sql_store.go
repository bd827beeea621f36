package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const fileColumns = `name, COALESCE(hash, '') AS hash, COALESCE(last_modified, '') AS last_modified,
	COALESCE(source, '') AS source, COALESCE(add_date, '') AS add_date,
	COALESCE(last_sync_date, '') AS last_sync_date, pending_deletes`

// SQLStore keeps the three domains as tables of a SQLite or Postgres database.
// Queries are written with `?` placeholders and rebound for the driver in use.
type SQLStore struct {
	db      *sqlx.DB
	domains Domains
}

// NewSQLStore wraps an open database. Call Init before use.
func NewSQLStore(db *sqlx.DB, domains Domains) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("nil database")
	}
	if err := domains.Validate(); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, domains: domains}, nil
}

func (s *SQLStore) files() string     { return quoteIdent(s.domains.Files) }
func (s *SQLStore) versions() string  { return quoteIdent(s.domains.Versions) }
func (s *SQLStore) syncDates() string { return quoteIdent(s.domains.SyncDates) }

func (s *SQLStore) q(query string, args ...any) string {
	return s.db.Rebind(fmt.Sprintf(query, args...))
}

func (s *SQLStore) Init(ctx context.Context) error {
	// all columns but the key are nullable, a record may be partially written
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			hash TEXT,
			last_modified TEXT,
			source TEXT,
			add_date TEXT,
			last_sync_date TEXT,
			pending_deletes INTEGER NOT NULL DEFAULT 0
		)`, s.files()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(last_sync_date)`,
			quoteIdent("idx_"+s.domains.Files+"_last_sync_date"), s.files()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			item_name TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			last_modified TEXT NOT NULL,
			name TEXT NOT NULL,
			source TEXT NOT NULL
		)`, s.versions()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(name)`,
			quoteIdent("idx_"+s.domains.Versions+"_name"), s.versions()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			host TEXT PRIMARY KEY,
			last_sync_date TEXT NOT NULL
		)`, s.syncDates()),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize metadata schema: %w", err)
		}
	}

	slog.Debug("metastore initialized", "backend", "sql", "driver", s.db.DriverName(),
		"files", s.domains.Files, "versions", s.domains.Versions, "syncDates", s.domains.SyncDates)
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) SelectChanged(ctx context.Context, since string) ([]*FileItem, error) {
	var items []*FileItem
	query := s.q(`SELECT %s FROM %s WHERE last_sync_date > ? OR pending_deletes > 0 ORDER BY name`, fileColumns, s.files())
	if err := s.db.SelectContext(ctx, &items, query, since); err != nil {
		return nil, fmt.Errorf("failed to select changed files: %w", err)
	}
	return items, nil
}

func (s *SQLStore) SelectByName(ctx context.Context, name string) ([]*FileItem, error) {
	var items []*FileItem
	query := s.q(`SELECT %s FROM %s WHERE name = ?`, fileColumns, s.files())
	if err := s.db.SelectContext(ctx, &items, query, name); err != nil {
		return nil, fmt.Errorf("failed to select file %s: %w", name, err)
	}
	return items, nil
}

func (s *SQLStore) PutFile(ctx context.Context, item *FileItem) error {
	if item == nil || item.Name == "" {
		return fmt.Errorf("cannot put file without a name")
	}

	query := s.q(`INSERT INTO %s (name, hash, last_modified, source, last_sync_date, pending_deletes)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (name) DO UPDATE SET
			hash = excluded.hash,
			last_modified = excluded.last_modified,
			source = excluded.source,
			last_sync_date = excluded.last_sync_date,
			pending_deletes = 0`, s.files())
	if _, err := s.db.ExecContext(ctx, query, item.Name, item.Hash, item.LastModified, item.Source, item.LastSyncDate); err != nil {
		return fmt.Errorf("failed to put file %s: %w", item.Name, err)
	}
	return nil
}

func (s *SQLStore) PutAddDateIfAbsent(ctx context.Context, name string, addDate string) error {
	query := s.q(`UPDATE %s SET add_date = ? WHERE name = ? AND add_date IS NULL`, s.files())
	res, err := s.db.ExecContext(ctx, query, addDate, name)
	if err != nil {
		return fmt.Errorf("failed to put add date for %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to put add date for %s: %w", name, err)
	} else if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *SQLStore) SetPendingDeletes(ctx context.Context, name string, count int) error {
	query := s.q(`UPDATE %s SET pending_deletes = ? WHERE name = ?`, s.files())
	res, err := s.db.ExecContext(ctx, query, count, name)
	if err != nil {
		return fmt.Errorf("failed to set pending deletes for %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to set pending deletes for %s: %w", name, err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteFile(ctx context.Context, name string) error {
	query := s.q(`DELETE FROM %s WHERE name = ?`, s.files())
	if _, err := s.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) PutVersion(ctx context.Context, item *VersionItem) error {
	if item == nil {
		return fmt.Errorf("cannot put nil version")
	}
	if item.ItemName == "" {
		item.ItemName = VersionItemName(item.Hash, item.LastModified, item.Name)
	}

	query := s.q(`INSERT INTO %s (item_name, hash, last_modified, name, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (item_name) DO UPDATE SET source = excluded.source`, s.versions())
	if _, err := s.db.ExecContext(ctx, query, item.ItemName, item.Hash, item.LastModified, item.Name, item.Source); err != nil {
		return fmt.Errorf("failed to put version of %s: %w", item.Name, err)
	}
	return nil
}

func (s *SQLStore) ListVersions(ctx context.Context, name string) ([]*VersionItem, error) {
	var items []*VersionItem
	query := s.q(`SELECT item_name, hash, last_modified, name, source FROM %s WHERE name = ? ORDER BY last_modified`, s.versions())
	if err := s.db.SelectContext(ctx, &items, query, name); err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
	}
	return items, nil
}

func (s *SQLStore) GetSyncDate(ctx context.Context, host string) (string, error) {
	var date string
	query := s.q(`SELECT last_sync_date FROM %s WHERE host = ?`, s.syncDates())
	if err := s.db.GetContext(ctx, &date, query, host); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get sync date of %s: %w", host, err)
	}
	return date, nil
}

func (s *SQLStore) PutSyncDate(ctx context.Context, host string, date string) error {
	query := s.q(`INSERT INTO %s (host, last_sync_date) VALUES (?, ?)
		ON CONFLICT (host) DO UPDATE SET last_sync_date = excluded.last_sync_date`, s.syncDates())
	if _, err := s.db.ExecContext(ctx, query, host, date); err != nil {
		return fmt.Errorf("failed to put sync date of %s: %w", host, err)
	}
	return nil
}

func (s *SQLStore) ListSyncDates(ctx context.Context) ([]*SyncDateItem, error) {
	var items []*SyncDateItem
	query := s.q(`SELECT host, last_sync_date FROM %s ORDER BY host`, s.syncDates())
	if err := s.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("failed to list sync dates: %w", err)
	}
	return items, nil
}

func (s *SQLStore) CountSyncDates(ctx context.Context) (int, error) {
	var count int
	query := s.q(`SELECT COUNT(*) FROM %s`, s.syncDates())
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count sync dates: %w", err)
	}
	return count, nil
}

// quoteIdent quotes a validated domain name. Double quotes work on SQLite and Postgres.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

var _ Store = (*SQLStore)(nil)
