package sync

import (
	"sort"
	"time"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
)

// FileState holds what both snapshot kinds observe about a file.
type FileState struct {
	Name         string
	LastModified time.Time
	Hash         string
	Action       ActionKind
}

func (f *FileState) State() *FileState {
	return f
}

// Snapshot is either a *LocalSnapshot or a *RemoteSnapshot.
type Snapshot interface {
	State() *FileState
}

// LocalSnapshot is the state of a file on this host for one round.
type LocalSnapshot struct {
	FileState
	ExistsLocally          bool
	LastSyncedLastModified time.Time
	LastSyncedHash         string
	LastSyncTime           time.Time

	// ConflictWith is the remote side of a Conflict.
	ConflictWith *RemoteSnapshot
}

// RemoteSnapshot is the state of a file in the shared metadata store for one round.
type RemoteSnapshot struct {
	FileState
	Source         string
	PendingDeletes int
}

type LocalSnapshots map[string]*LocalSnapshot

type RemoteSnapshots map[string]*RemoteSnapshot

func (m LocalSnapshots) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m RemoteSnapshots) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newLocalSnapshotFromRecord builds a snapshot whose current state is what the record last saw.
func newLocalSnapshotFromRecord(rec *FileRecord, existsLocally bool) *LocalSnapshot {
	return &LocalSnapshot{
		FileState: FileState{
			Name:         rec.Name,
			LastModified: rec.LastModified,
			Hash:         rec.Hash,
		},
		ExistsLocally:          existsLocally,
		LastSyncedLastModified: rec.LastSyncedLastModified,
		LastSyncedHash:         rec.LastSyncedHash,
		LastSyncTime:           rec.LastSyncTime,
	}
}

// newRemoteSnapshot validates a Files record. Missing or unparseable fields yield a *MalformedRecordError.
func newRemoteSnapshot(item *metastore.FileItem) (*RemoteSnapshot, error) {
	var missing []string
	if item.Hash == "" {
		missing = append(missing, "hash")
	}
	lastModified, err := utils.ParseTime(item.LastModified)
	if err != nil {
		missing = append(missing, "lastModifiedDate")
	}
	if item.Source == "" {
		missing = append(missing, "source")
	}
	if item.PendingDeletes < 0 {
		missing = append(missing, "pendingDeletes")
	}
	if len(missing) > 0 {
		return nil, &MalformedRecordError{Name: item.Name, Missing: missing}
	}

	return &RemoteSnapshot{
		FileState: FileState{
			Name:         item.Name,
			LastModified: lastModified,
			Hash:         item.Hash,
		},
		Source:         item.Source,
		PendingDeletes: item.PendingDeletes,
	}, nil
}
