package sync

import (
	"context"
	"testing"
	"time"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRemoteBuilder(t *testing.T, meta metastore.Store) *RemoteSnapshotBuilder {
	t.Helper()
	ignore := NewSyncIgnoreList(afero.NewMemMapFs())
	ignore.Load()
	return NewRemoteSnapshotBuilder(meta, ignore, DefaultRetries)
}

func TestRemoteSnapshotBuilder_MalformedRecords(t *testing.T) {
	baseline := time.Date(2011, 7, 14, 20, 0, 0, 0, time.UTC)
	synced := "2011-07-14 21:00:00.000"
	valid := metastore.FileItem{
		Name:         "a.txt",
		Hash:         "h1",
		LastModified: "2011-07-14 20:15:00.000",
		Source:       "beta",
		LastSyncDate: synced,
	}

	cases := []struct {
		name   string
		broken func(item *metastore.FileItem)
	}{
		{"missing hash", func(item *metastore.FileItem) { item.Hash = "" }},
		{"missing source", func(item *metastore.FileItem) { item.Source = "" }},
		{"missing last modified", func(item *metastore.FileItem) { item.LastModified = "" }},
		{"unparseable last modified", func(item *metastore.FileItem) { item.LastModified = "yesterday" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			meta := newTestMetaStore(t)
			builder := newTestRemoteBuilder(t, meta)

			good := valid
			good.Name = "good.txt"
			require.NoError(t, meta.PutFile(ctx, &good))

			broken := valid
			tc.broken(&broken)
			require.NoError(t, meta.PutFile(ctx, &broken))

			snapshots, err := builder.Build(ctx, baseline)
			require.NoError(t, err)
			assert.Equal(t, []string{"good.txt"}, snapshots.Names(), "malformed record skipped")

			// the repaired record is picked up by the next build with the same baseline
			require.NoError(t, meta.PutFile(ctx, &valid))
			snapshots, err = builder.Build(ctx, baseline)
			require.NoError(t, err)
			assert.Equal(t, []string{"a.txt", "good.txt"}, snapshots.Names())

			a := snapshots["a.txt"]
			assert.Equal(t, "h1", a.Hash)
			assert.Equal(t, "beta", a.Source)
			assert.True(t, a.LastModified.Equal(time.Date(2011, 7, 14, 20, 15, 0, 0, time.UTC)))
			assert.Equal(t, ActionNone, a.Action)
		})
	}
}

func TestRemoteSnapshotBuilder_Selection(t *testing.T) {
	ctx := context.Background()
	meta := newTestMetaStore(t)
	builder := newTestRemoteBuilder(t, meta)
	baseline := time.Date(2011, 7, 14, 20, 0, 0, 0, time.UTC)

	put := func(name, lastSyncDate string) {
		require.NoError(t, meta.PutFile(ctx, &metastore.FileItem{
			Name:         name,
			Hash:         utils.BytesHash([]byte(name)),
			LastModified: "2011-07-14 19:00:00.000",
			Source:       "beta",
			LastSyncDate: lastSyncDate,
		}))
	}
	put("old.txt", "2011-07-14 19:30:00.000")
	put("new.txt", "2011-07-14 20:30:00.000")
	put("deleted.txt", "2011-07-14 19:30:00.000")
	require.NoError(t, meta.SetPendingDeletes(ctx, "deleted.txt", 2))
	put("notes.tmp", "2011-07-14 20:30:00.000")
	put("docs/.DS_Store", "2011-07-14 20:30:00.000")

	snapshots, err := builder.Build(ctx, baseline)
	require.NoError(t, err)
	assert.Equal(t, []string{"deleted.txt", "new.txt"}, snapshots.Names(), "older and ignored records are left out")
	assert.Equal(t, 2, snapshots["deleted.txt"].PendingDeletes)
}
