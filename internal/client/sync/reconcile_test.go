package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	require.NoError(t, err)
	return v
}

func localSnap(name string, modified time.Time, hash string, syncedModified time.Time, syncedHash string) *LocalSnapshot {
	return &LocalSnapshot{
		FileState:              FileState{Name: name, LastModified: modified, Hash: hash},
		ExistsLocally:          true,
		LastSyncedLastModified: syncedModified,
		LastSyncedHash:         syncedHash,
		LastSyncTime:           utils.Epoch,
	}
}

func remoteSnap(name string, modified time.Time, hash string, pending int) *RemoteSnapshot {
	return &RemoteSnapshot{
		FileState:      FileState{Name: name, LastModified: modified, Hash: hash},
		Source:         "otherbox",
		PendingDeletes: pending,
	}
}

func TestDecide_TableDriven(t *testing.T) {
	never := utils.Epoch

	cases := []struct {
		name         string
		local        *LocalSnapshot
		remote       *RemoteSnapshot
		expectLocal  ActionKind
		expectRemote ActionKind
		expectFault  bool
	}{
		{
			name:         "same time and hash is unchanged",
			local:        localSnap("file2", ts(t, "2011-07-14 20:15:00"), "12345", never, ""),
			remote:       remoteSnap("file2", ts(t, "2011-07-14 20:15:00"), "12345", 0),
			expectLocal:  ActionLocalUnchanged,
			expectRemote: ActionNoOp,
		},
		{
			name:         "same time different hash conflicts",
			local:        localSnap("file2", ts(t, "2011-07-14 20:16:00"), "23456", never, ""),
			remote:       remoteSnap("file2", ts(t, "2011-07-14 20:16:00"), "23457", 0),
			expectLocal:  ActionConflict,
			expectRemote: ActionNoOp,
		},
		{
			name:         "both sides edited since last sync conflicts",
			local:        localSnap("file2", ts(t, "2011-07-14 20:17:00"), "23458", ts(t, "2011-07-14 20:16:00"), "23456"),
			remote:       remoteSnap("file2", ts(t, "2011-07-14 20:18:00"), "23457", 0),
			expectLocal:  ActionConflict,
			expectRemote: ActionNoOp,
		},
		{
			name:         "local matches last sync so remote wins",
			local:        localSnap("file5", ts(t, "2011-07-14 20:16:00"), "23456", ts(t, "2011-07-14 20:16:00"), "23456"),
			remote:       remoteSnap("file5", ts(t, "2011-07-14 21:54:23"), "23457", 0),
			expectLocal:  ActionNoOp,
			expectRemote: ActionRemoteChanged,
		},
		{
			name:         "local touched without edit so remote wins",
			local:        localSnap("file5", ts(t, "2011-07-15 20:16:00"), "23456", ts(t, "2011-07-14 20:16:00"), "23456"),
			remote:       remoteSnap("file5", ts(t, "2011-07-14 22:22:22"), "23457", 0),
			expectLocal:  ActionNoOp,
			expectRemote: ActionRemoteChanged,
		},
		{
			name:         "same hash later local is a local change",
			local:        localSnap("file5", ts(t, "2011-07-15 20:16:00"), "77777", ts(t, "2011-07-14 20:16:00"), "23456"),
			remote:       remoteSnap("file5", ts(t, "2011-07-14 22:22:22"), "77777", 0),
			expectLocal:  ActionLocalChanged,
			expectRemote: ActionNoOp,
		},
		{
			name:         "same hash later remote is a remote change",
			local:        localSnap("file5", ts(t, "2011-07-14 20:16:00"), "77777", never, ""),
			remote:       remoteSnap("file5", ts(t, "2011-07-15 20:16:00"), "77777", 0),
			expectLocal:  ActionNoOp,
			expectRemote: ActionRemoteChanged,
		},
		{
			name:         "never synced later remote wins",
			local:        localSnap("file2", ts(t, "2011-07-14 20:16:00"), "23456", never, ""),
			remote:       remoteSnap("file2", ts(t, "2011-07-14 20:17:00"), "23457", 0),
			expectLocal:  ActionNoOp,
			expectRemote: ActionRemoteChanged,
		},
		{
			name:         "never synced later local wins",
			local:        localSnap("file3", ts(t, "2011-07-17 20:16:00"), "23488", never, ""),
			remote:       remoteSnap("file3", ts(t, "2011-07-14 20:17:00"), "23457", 0),
			expectLocal:  ActionLocalChanged,
			expectRemote: ActionNoOp,
		},
		{
			name:         "zero synced time counts as never",
			local:        localSnap("file3", ts(t, "2011-07-17 20:16:00"), "23488", time.Time{}, ""),
			remote:       remoteSnap("file3", ts(t, "2011-07-14 20:17:00"), "23457", 0),
			expectLocal:  ActionLocalChanged,
			expectRemote: ActionNoOp,
		},
		{
			name:        "last sync after local modification is a fault",
			local:       localSnap("file2", ts(t, "1901-07-14 20:15:00"), "past_perfect", ts(t, "2011-07-14 20:15:00"), "future_perfect"),
			remote:      remoteSnap("file2", ts(t, "2011-07-14 20:15:00"), "future_perfect", 0),
			expectFault: true,
		},
		{
			name:        "last sync after remote modification is a fault",
			local:       localSnap("file2", ts(t, "2011-07-16 20:15:00"), "a", ts(t, "2011-07-15 20:15:00"), "b"),
			remote:      remoteSnap("file2", ts(t, "2011-07-14 20:15:00"), "c", 0),
			expectFault: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			localAction, remoteAction, err := decide(tc.local, tc.remote)
			if tc.expectFault {
				var fault *IntegrityFault
				require.ErrorAs(t, err, &fault)
				assert.Equal(t, tc.local.Name, fault.Name)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectLocal, localAction)
			assert.Equal(t, tc.expectRemote, remoteAction)
		})
	}
}

type fakeLookup struct {
	records map[string][]*metastore.FileItem
	onDisk  map[string]bool
	journal map[string]*FileRecord
	err     error
}

func (f *fakeLookup) RemoteRecords(_ context.Context, name string) ([]*metastore.FileItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[name], nil
}

func (f *fakeLookup) LocalFile(_ context.Context, name string) (bool, *FileRecord, error) {
	if f.err != nil {
		return false, nil, f.err
	}
	return f.onDisk[name], f.journal[name], nil
}

func fileItem(name, hash, modified string, pending int) *metastore.FileItem {
	return &metastore.FileItem{
		Name:           name,
		Hash:           hash,
		LastModified:   modified,
		Source:         "otherbox",
		LastSyncDate:   modified,
		PendingDeletes: pending,
	}
}

func TestReconcile_TableDriven(t *testing.T) {
	t1 := ts(t, "2011-07-14 20:15:00")
	t2 := ts(t, "2011-07-14 20:16:00")

	deletedHere := func(name string) *LocalSnapshot {
		l := localSnap(name, t1, "h1", t1, "h1")
		l.ExistsLocally = false
		return l
	}

	cases := []struct {
		name   string
		local  LocalSnapshots
		remote RemoteSnapshots
		lookup *fakeLookup
		expect func(*testing.T, LocalSnapshots, RemoteSnapshots, error)
	}{
		{
			name:   "new local file is added",
			local:  LocalSnapshots{"a.txt": localSnap("a.txt", t1, "h1", utils.Epoch, "")},
			remote: RemoteSnapshots{},
			lookup: &fakeLookup{},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionLocalAdded, l["a.txt"].Action)
				assert.Empty(t, r)
			},
		},
		{
			name:   "new remote file is downloaded",
			local:  LocalSnapshots{},
			remote: RemoteSnapshots{"b.txt": remoteSnap("b.txt", t1, "h1", 0)},
			lookup: &fakeLookup{},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionRemoteAdded, r["b.txt"].Action)
				assert.Empty(t, l)
			},
		},
		{
			name:   "local delete materializes the remote record",
			local:  LocalSnapshots{"c.txt": deletedHere("c.txt")},
			remote: RemoteSnapshots{},
			lookup: &fakeLookup{records: map[string][]*metastore.FileItem{
				"c.txt": {fileItem("c.txt", "h1", utils.FormatTime(t1), 0)},
			}},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionNoOp, l["c.txt"].Action)
				require.Contains(t, r, "c.txt")
				assert.Equal(t, ActionRemoteDeleted, r["c.txt"].Action)
				assert.Equal(t, "h1", r["c.txt"].Hash)
			},
		},
		{
			name:   "local delete without a remote record is a no-op",
			local:  LocalSnapshots{"c.txt": deletedHere("c.txt")},
			remote: RemoteSnapshots{},
			lookup: &fakeLookup{},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionNoOp, l["c.txt"].Action)
				assert.Empty(t, r)
			},
		},
		{
			name:   "local delete with a malformed remote record is a no-op",
			local:  LocalSnapshots{"c.txt": deletedHere("c.txt")},
			remote: RemoteSnapshots{},
			lookup: &fakeLookup{records: map[string][]*metastore.FileItem{
				"c.txt": {{Name: "c.txt", Hash: "h1"}},
			}},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionNoOp, l["c.txt"].Action)
				assert.Empty(t, r)
			},
		},
		{
			name:   "pending delete removes the local copy",
			local:  LocalSnapshots{},
			remote: RemoteSnapshots{"d.txt": remoteSnap("d.txt", t1, "h1", 2)},
			lookup: &fakeLookup{
				onDisk: map[string]bool{"d.txt": true},
				journal: map[string]*FileRecord{"d.txt": {
					Name: "d.txt", Hash: "h1", LastModified: t1,
					LastSyncedLastModified: t1, LastSyncedHash: "h1", LastSyncTime: t2,
				}},
			},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionNoOp, r["d.txt"].Action)
				require.Contains(t, l, "d.txt")
				assert.Equal(t, ActionLocalDeleted, l["d.txt"].Action)
				assert.True(t, l["d.txt"].ExistsLocally)
			},
		},
		{
			name:   "pending delete of a file never seen here is a no-op",
			local:  LocalSnapshots{},
			remote: RemoteSnapshots{"d.txt": remoteSnap("d.txt", t1, "h1", 1)},
			lookup: &fakeLookup{},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionNoOp, r["d.txt"].Action)
				assert.Empty(t, l)
			},
		},
		{
			name:   "pending delete of an unrecorded file on disk is a fault",
			local:  LocalSnapshots{},
			remote: RemoteSnapshots{"d.txt": remoteSnap("d.txt", t1, "h1", 1)},
			lookup: &fakeLookup{onDisk: map[string]bool{"d.txt": true}},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				var fault *IntegrityFault
				require.ErrorAs(t, err, &fault)
				assert.Equal(t, "d.txt", fault.Name)
			},
		},
		{
			name: "pairs are decided and conflicts linked",
			local: LocalSnapshots{
				"e.txt": localSnap("e.txt", t1, "h1", utils.Epoch, ""),
				"f.txt": localSnap("f.txt", t2, "h2", utils.Epoch, ""),
			},
			remote: RemoteSnapshots{
				"e.txt": remoteSnap("e.txt", t1, "h9", 0),
				"f.txt": remoteSnap("f.txt", t2, "h2", 0),
			},
			lookup: &fakeLookup{},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				require.NoError(t, err)
				assert.Equal(t, ActionConflict, l["e.txt"].Action)
				assert.Same(t, r["e.txt"], l["e.txt"].ConflictWith)
				assert.Equal(t, ActionNoOp, r["e.txt"].Action)
				assert.Equal(t, ActionLocalUnchanged, l["f.txt"].Action)
				assert.Equal(t, ActionNoOp, r["f.txt"].Action)
			},
		},
		{
			name:   "lookup failures propagate",
			local:  LocalSnapshots{"c.txt": deletedHere("c.txt")},
			remote: RemoteSnapshots{},
			lookup: &fakeLookup{err: &ServiceError{Op: "select", Attempts: 4, Err: errors.New("boom")}},
			expect: func(t *testing.T, l LocalSnapshots, r RemoteSnapshots, err error) {
				var svc *ServiceError
				require.ErrorAs(t, err, &svc)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Reconcile(context.Background(), tc.local, tc.remote, tc.lookup)
			tc.expect(t, tc.local, tc.remote, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t1 := time.Date(2011, 7, 14, 20, 15, 0, 0, time.UTC)

	t.Run("unassigned local", func(t *testing.T) {
		err := Validate(LocalSnapshots{"a": localSnap("a", t1, "h", utils.Epoch, "")}, RemoteSnapshots{})
		assert.ErrorIs(t, err, ErrUnassignedAction)
	})

	t.Run("remote action on local side", func(t *testing.T) {
		l := localSnap("a", t1, "h", utils.Epoch, "")
		l.Action = ActionRemoteAdded
		err := Validate(LocalSnapshots{"a": l}, RemoteSnapshots{})
		assert.ErrorIs(t, err, ErrActionMismatch)
	})

	t.Run("local action on remote side", func(t *testing.T) {
		r := remoteSnap("a", t1, "h", 0)
		r.Action = ActionLocalAdded
		err := Validate(LocalSnapshots{}, RemoteSnapshots{"a": r})
		assert.ErrorIs(t, err, ErrActionMismatch)
	})

	t.Run("conflict without pair", func(t *testing.T) {
		l := localSnap("a", t1, "h", utils.Epoch, "")
		l.Action = ActionConflict
		err := Validate(LocalSnapshots{"a": l}, RemoteSnapshots{})
		assert.ErrorIs(t, err, ErrActionMismatch)
	})

	t.Run("valid", func(t *testing.T) {
		l := localSnap("a", t1, "h", utils.Epoch, "")
		l.Action = ActionLocalUnchanged
		r := remoteSnap("a", t1, "h", 0)
		r.Action = ActionNoOp
		assert.NoError(t, Validate(LocalSnapshots{"a": l}, RemoteSnapshots{"a": r}))
	})
}
