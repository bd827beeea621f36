package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
)

// RemoteSnapshotBuilder selects the shared records that changed since a baseline.
type RemoteSnapshotBuilder struct {
	meta    metastore.Store
	ignore  *SyncIgnoreList
	retries int
}

func NewRemoteSnapshotBuilder(meta metastore.Store, ignore *SyncIgnoreList, retries int) *RemoteSnapshotBuilder {
	return &RemoteSnapshotBuilder{meta: meta, ignore: ignore, retries: retries}
}

// Build returns records synced after baseline or still carrying pending deletes.
// Malformed records are logged and left for a later round.
func (b *RemoteSnapshotBuilder) Build(ctx context.Context, baseline time.Time) (RemoteSnapshots, error) {
	since := utils.FormatTime(baseline)
	items, err := retryValue(ctx, b.retries, "select changed files", func() ([]*metastore.FileItem, error) {
		return b.meta.SelectChanged(ctx, since)
	})
	if err != nil {
		return nil, err
	}

	snapshots := make(RemoteSnapshots, len(items))
	skipped := 0
	for _, item := range items {
		// ignore rules are per host, another host may sync what this one ignores
		if b.ignore.ShouldIgnore(item.Name) {
			continue
		}
		snapshot, err := newRemoteSnapshot(item)
		if err != nil {
			slog.Warn("sync skip remote record", "path", item.Name, "error", err)
			skipped++
			continue
		}
		snapshots[snapshot.Name] = snapshot
	}

	slog.Debug("remote snapshots", "since", since, "changed", len(snapshots), "malformed", skipped)
	return snapshots, nil
}
