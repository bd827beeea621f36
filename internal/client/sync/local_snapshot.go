package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/afero"
)

// LocalSnapshotBuilder compares the files under the sync root with the journal.
type LocalSnapshotBuilder struct {
	fs      afero.Fs
	journal *Journal
	ignore  *SyncIgnoreList
}

func NewLocalSnapshotBuilder(fs afero.Fs, journal *Journal, ignore *SyncIgnoreList) *LocalSnapshotBuilder {
	return &LocalSnapshotBuilder{
		fs:      fs,
		journal: journal,
		ignore:  ignore,
	}
}

// Build returns the files that changed or appeared since baseline, plus journal records
// whose file is gone (ExistsLocally false). Any filesystem error aborts the build.
func (b *LocalSnapshotBuilder) Build(ctx context.Context, baseline time.Time) (LocalSnapshots, error) {
	records, err := b.journal.GetAll()
	if err != nil {
		return nil, localIOError("read journal", "", err)
	}

	snapshots := make(LocalSnapshots, len(records))
	for name, rec := range records {
		snapshots[name] = newLocalSnapshotFromRecord(rec, false)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	err = afero.Walk(b.fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		name := relName(path)
		if name == "" {
			return nil
		}

		if b.ignore.ShouldIgnore(name) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		seen.Add(name)

		modTime := utils.NormTime(info.ModTime())
		snapshot, ok := snapshots[name]
		if ok && snapshot.LastModified.Equal(modTime) {
			snapshot.ExistsLocally = true
			// untouched since a round this host already accounted for
			if !snapshot.LastSyncTime.After(baseline) {
				delete(snapshots, name)
			}
			return nil
		}

		hash, err := utils.FileHash(b.fs, path)
		if err != nil {
			return localIOError("hash", name, err)
		}

		fresh := &LocalSnapshot{
			FileState: FileState{
				Name:         name,
				LastModified: modTime,
				Hash:         hash,
			},
			ExistsLocally:          true,
			LastSyncedLastModified: utils.Epoch,
			LastSyncTime:           utils.Epoch,
		}
		if ok {
			fresh.LastSyncedLastModified = snapshot.LastSyncedLastModified
			fresh.LastSyncedHash = snapshot.LastSyncedHash
			fresh.LastSyncTime = snapshot.LastSyncTime
		}
		snapshots[name] = fresh
		return nil
	})
	if err != nil {
		var ioErr *LocalIOError
		if errors.As(err, &ioErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, localIOError("walk", "/", err)
	}

	// records of files that are ignored now were not walked, they stay out of the round
	for name, snapshot := range snapshots {
		if snapshot.ExistsLocally || seen.Contains(name) {
			continue
		}
		info, err := b.fs.Stat(absName(name))
		if err == nil && info.Mode().IsRegular() {
			delete(snapshots, name)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, localIOError("stat", name, err)
		}
	}

	slog.Debug("local snapshots", "records", len(records), "files", seen.Cardinality(), "changed", len(snapshots))
	return snapshots, nil
}

// relName turns a walked path into a slash-separated name relative to the sync root.
func relName(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "/")
}

// absName is the inverse of relName for paths handed to the afero Fs.
func absName(name string) string {
	return "/" + strings.TrimPrefix(name, "/")
}
