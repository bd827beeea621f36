// Package metastore is the shared, predicate-queryable metadata store that every
// host reads and writes. It holds three domains:
//
//   - Files: one record per filename (hash, last modified, source host, add date,
//     last sync date, pending deletes)
//   - Versions: append-only history keyed by hash + last modified + filename
//   - SyncDates: last successful sync date per host
//
// Times are stored as strings in utils.TimeLayout so lexical comparison is time
// comparison on every backend.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrConditionFailed = errors.New("conditional put failed")
	ErrInvalidDomain   = errors.New("invalid domain name")
)

const (
	DefaultFilesDomain     = "CloudFiles"
	DefaultVersionsDomain  = "CloudVersions"
	DefaultSyncDatesDomain = "LastSyncDates"
)

// FileItem is a Files domain record. Empty strings mean the attribute is absent.
type FileItem struct {
	Name           string `db:"name"`
	Hash           string `db:"hash"`
	LastModified   string `db:"last_modified"`
	Source         string `db:"source"`
	AddDate        string `db:"add_date"`
	LastSyncDate   string `db:"last_sync_date"`
	PendingDeletes int    `db:"pending_deletes"`
}

// VersionItem is one entry of the version history.
type VersionItem struct {
	ItemName     string `db:"item_name"`
	Hash         string `db:"hash"`
	LastModified string `db:"last_modified"`
	Name         string `db:"name"`
	Source       string `db:"source"`
}

// VersionItemName builds the history key of a version.
func VersionItemName(hash, lastModified, name string) string {
	return hash + lastModified + name
}

// SyncDateItem is the last sync date of one host.
type SyncDateItem struct {
	Host         string `db:"host"`
	LastSyncDate string `db:"last_sync_date"`
}

// Store is implemented by every metadata backend.
type Store interface {
	// Init creates the domains if they don't exist.
	Init(ctx context.Context) error
	Close() error

	// SelectChanged returns the files synced after since, or with pending deletes.
	SelectChanged(ctx context.Context, since string) ([]*FileItem, error)
	// SelectByName returns every record named name (zero or one for well-behaved backends).
	SelectByName(ctx context.Context, name string) ([]*FileItem, error)
	// PutFile creates or replaces the record; pending deletes are reset and the add date is left as is.
	PutFile(ctx context.Context, item *FileItem) error
	// PutAddDateIfAbsent sets the add date only when unset. ErrConditionFailed otherwise.
	PutAddDateIfAbsent(ctx context.Context, name string, addDate string) error
	// SetPendingDeletes updates an existing record. ErrNotFound when there is none.
	SetPendingDeletes(ctx context.Context, name string, count int) error
	DeleteFile(ctx context.Context, name string) error

	PutVersion(ctx context.Context, item *VersionItem) error
	ListVersions(ctx context.Context, name string) ([]*VersionItem, error)

	// GetSyncDate returns ErrNotFound for an unknown host.
	GetSyncDate(ctx context.Context, host string) (string, error)
	PutSyncDate(ctx context.Context, host string, date string) error
	ListSyncDates(ctx context.Context) ([]*SyncDateItem, error)
	CountSyncDates(ctx context.Context) (int, error)
}

// Domains names the three logical domains. Backends use them as table or key prefixes.
type Domains struct {
	Files     string
	Versions  string
	SyncDates string
}

func DefaultDomains() Domains {
	return Domains{
		Files:     DefaultFilesDomain,
		Versions:  DefaultVersionsDomain,
		SyncDates: DefaultSyncDatesDomain,
	}
}

var domainRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func (d Domains) Validate() error {
	for _, name := range []string{d.Files, d.Versions, d.SyncDates} {
		if !domainRegex.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidDomain, name)
		}
	}
	if d.Files == d.Versions || d.Files == d.SyncDates || d.Versions == d.SyncDates {
		return fmt.Errorf("%w: domains must be distinct", ErrInvalidDomain)
	}
	return nil
}
