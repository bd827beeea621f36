package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syncbox/internal/db"
	"github.com/openmined/syncbox/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
    name TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    last_modified TEXT NOT NULL,
    last_synced_last_modified TEXT NOT NULL,
    last_synced_hash TEXT NOT NULL,
    last_sync_time TEXT NOT NULL
);
`

// FileRecord is what this host last knew about a file.
type FileRecord struct {
	Name                   string
	Hash                   string
	LastModified           time.Time
	LastSyncedLastModified time.Time
	LastSyncedHash         string
	LastSyncTime           time.Time
}

// dbFileRecord is used for scanning from the database where times are stored as TEXT.
type dbFileRecord struct {
	Name                   string `db:"name"`
	Hash                   string `db:"hash"`
	LastModified           string `db:"last_modified"`
	LastSyncedLastModified string `db:"last_synced_last_modified"`
	LastSyncedHash         string `db:"last_synced_hash"`
	LastSyncTime           string `db:"last_sync_time"`
}

func (r *dbFileRecord) toRecord() (*FileRecord, error) {
	lastModified, err := utils.ParseTime(r.LastModified)
	if err != nil {
		return nil, fmt.Errorf("parse last_modified of %s: %w", r.Name, err)
	}
	lastSyncedLastModified, err := utils.ParseTime(r.LastSyncedLastModified)
	if err != nil {
		return nil, fmt.Errorf("parse last_synced_last_modified of %s: %w", r.Name, err)
	}
	lastSyncTime, err := utils.ParseTime(r.LastSyncTime)
	if err != nil {
		return nil, fmt.Errorf("parse last_sync_time of %s: %w", r.Name, err)
	}

	return &FileRecord{
		Name:                   r.Name,
		Hash:                   r.Hash,
		LastModified:           lastModified,
		LastSyncedLastModified: lastSyncedLastModified,
		LastSyncedHash:         r.LastSyncedHash,
		LastSyncTime:           lastSyncTime,
	}, nil
}

// Journal is the local metadata table, one FileRecord per synced file, backed by SQLite.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

// NewJournal creates a journal at dbPath. Use ":memory:" for an in-memory journal.
func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

// Open the journal and the underlying database
func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("journal already open")
	}

	if j.dbPath != ":memory:" {
		dbDir := filepath.Dir(j.dbPath)
		if err := utils.EnsureDir(dbDir); err != nil {
			return fmt.Errorf("failed to create journal directory %s: %w", dbDir, err)
		}
	}

	sqldb, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	if _, err := sqldb.Exec(schema); err != nil {
		sqldb.Close()
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	j.db = sqldb
	return nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return fmt.Errorf("journal not open")
	}
	if err := j.db.Close(); err != nil {
		slog.Error("failed to close journal database", "error", err)
		return err
	}
	j.db = nil
	slog.Debug("journal closed")
	return nil
}

// Get returns the record for name, or nil when there is none.
func (j *Journal) Get(name string) (*FileRecord, error) {
	var rec dbFileRecord
	err := j.db.Get(&rec, `SELECT name, hash, last_modified, last_synced_last_modified, last_synced_hash, last_sync_time
		FROM file_records WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query record %s: %w", name, err)
	}
	return rec.toRecord()
}

// GetAll returns every record keyed by name.
func (j *Journal) GetAll() (map[string]*FileRecord, error) {
	var recs []dbFileRecord
	err := j.db.Select(&recs, `SELECT name, hash, last_modified, last_synced_last_modified, last_synced_hash, last_sync_time
		FROM file_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	records := make(map[string]*FileRecord, len(recs))
	for _, r := range recs {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		records[rec.Name] = rec
	}
	return records, nil
}

// Set inserts or replaces the record.
func (j *Journal) Set(rec *FileRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot set nil record")
	}

	data := dbFileRecord{
		Name:                   rec.Name,
		Hash:                   rec.Hash,
		LastModified:           utils.FormatTime(rec.LastModified),
		LastSyncedLastModified: utils.FormatTime(rec.LastSyncedLastModified),
		LastSyncedHash:         rec.LastSyncedHash,
		LastSyncTime:           utils.FormatTime(rec.LastSyncTime),
	}

	query := `INSERT OR REPLACE INTO file_records (name, hash, last_modified, last_synced_last_modified, last_synced_hash, last_sync_time)
	          VALUES (:name, :hash, :last_modified, :last_synced_last_modified, :last_synced_hash, :last_sync_time)`
	if _, err := j.db.NamedExec(query, data); err != nil {
		return fmt.Errorf("failed to set record %s: %w", rec.Name, err)
	}
	slog.Debug("journal set", "path", rec.Name, "hash", rec.Hash)
	return nil
}

// Delete removes the record for name. Deleting a missing record is not an error.
func (j *Journal) Delete(name string) error {
	if _, err := j.db.Exec("DELETE FROM file_records WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", name, err)
	}
	return nil
}

// Count returns the number of records.
func (j *Journal) Count() (int, error) {
	var count int
	if err := j.db.Get(&count, "SELECT COUNT(*) FROM file_records"); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}
