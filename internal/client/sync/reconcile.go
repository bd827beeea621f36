package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
)

// Lookup answers the by-name questions reconciliation asks outside of the two snapshot sets.
type Lookup interface {
	// RemoteRecords returns every Files record named name, whenever it was synced.
	RemoteRecords(ctx context.Context, name string) ([]*metastore.FileItem, error)
	// LocalFile reports whether name is a regular file on disk, with its journal record if there is one.
	LocalFile(ctx context.Context, name string) (bool, *FileRecord, error)
}

// Reconcile assigns exactly one action to every snapshot in local and remote.
// Snapshots materialized on the way (a remote record for a local delete, a local record for a
// remote delete) are added to the maps. Reconcile does no I/O beyond what lookup does.
// An *IntegrityFault stops reconciliation immediately.
func Reconcile(ctx context.Context, local LocalSnapshots, remote RemoteSnapshots, lookup Lookup) error {
	for _, name := range local.Names() {
		l := local[name]

		r, ok := remote[name]
		if !ok {
			if err := reconcileLocalOnly(ctx, l, remote, lookup); err != nil {
				return err
			}
			continue
		}

		localAction, remoteAction, err := decide(l, r)
		if err != nil {
			return err
		}
		l.Action, r.Action = localAction, remoteAction
		if localAction == ActionConflict {
			l.ConflictWith = r
		}
		slog.Debug("sync decision", "path", name, "local", l.Action, "remote", r.Action)
	}

	for _, name := range remote.Names() {
		r := remote[name]
		if r.Action != ActionNone {
			continue
		}
		if err := reconcileRemoteOnly(ctx, r, local, lookup); err != nil {
			return err
		}
	}

	return Validate(local, remote)
}

func reconcileLocalOnly(ctx context.Context, l *LocalSnapshot, remote RemoteSnapshots, lookup Lookup) error {
	if l.ExistsLocally {
		l.Action = ActionLocalAdded
		slog.Debug("sync decision", "path", l.Name, "local", l.Action)
		return nil
	}

	// deleted here, the remote record may predate the baseline
	l.Action = ActionNoOp
	items, err := lookup.RemoteRecords(ctx, l.Name)
	if err != nil {
		return fmt.Errorf("lookup remote record %s: %w", l.Name, err)
	}
	if len(items) != 1 {
		slog.Debug("sync decision", "path", l.Name, "local", l.Action, "remoteRecords", len(items))
		return nil
	}

	r, err := newRemoteSnapshot(items[0])
	if err != nil {
		slog.Warn("sync skip remote record", "path", l.Name, "error", err)
		return nil
	}
	r.Action = ActionRemoteDeleted
	remote[r.Name] = r
	slog.Debug("sync decision", "path", l.Name, "local", l.Action, "remote", r.Action)
	return nil
}

func reconcileRemoteOnly(ctx context.Context, r *RemoteSnapshot, local LocalSnapshots, lookup Lookup) error {
	if r.PendingDeletes == 0 {
		r.Action = ActionRemoteAdded
		slog.Debug("sync decision", "path", r.Name, "remote", r.Action)
		return nil
	}

	r.Action = ActionNoOp
	onDisk, rec, err := lookup.LocalFile(ctx, r.Name)
	if err != nil {
		return fmt.Errorf("lookup local file %s: %w", r.Name, err)
	}
	if !onDisk {
		// never downloaded here, or already deleted
		return nil
	}
	if rec == nil {
		r.Action = ActionNone
		return &IntegrityFault{Name: r.Name, Reason: "file exists on disk without a record yet no local snapshot was made for it"}
	}

	l := newLocalSnapshotFromRecord(rec, true)
	l.Action = ActionLocalDeleted
	local[l.Name] = l
	slog.Debug("sync decision", "path", r.Name, "local", l.Action, "remote", r.Action, "pendingDeletes", r.PendingDeletes)
	return nil
}

// decide is the decision for a file present in both snapshot sets.
func decide(l *LocalSnapshot, r *RemoteSnapshot) (ActionKind, ActionKind, error) {
	if l.LastModified.Equal(r.LastModified) {
		if l.Hash == r.Hash {
			return ActionLocalUnchanged, ActionNoOp, nil
		}
		// divergent edits at the same instant cannot be ordered
		return ActionConflict, ActionNoOp, nil
	}

	// touched without a content change, the later side wins
	if l.Hash == r.Hash {
		if l.LastModified.After(r.LastModified) {
			return ActionLocalChanged, ActionNoOp, nil
		}
		return ActionNoOp, ActionRemoteChanged, nil
	}

	synced := l.LastSyncedLastModified
	if synced.After(r.LastModified) || synced.After(l.LastModified) {
		return ActionNone, ActionNone, &IntegrityFault{
			Name: l.Name,
			Reason: fmt.Sprintf("last synced modification %s is later than local %s or remote %s",
				utils.FormatTime(synced), utils.FormatTime(l.LastModified), utils.FormatTime(r.LastModified)),
		}
	}

	// both sides moved since the last common point
	if !isNever(synced) && synced.Before(r.LastModified) && synced.Before(l.LastModified) {
		if l.Hash == l.LastSyncedHash {
			return ActionNoOp, ActionRemoteChanged, nil
		}
		return ActionConflict, ActionNoOp, nil
	}

	switch {
	case l.LastModified.After(r.LastModified):
		return ActionLocalChanged, ActionNoOp, nil
	case r.LastModified.After(l.LastModified):
		return ActionNoOp, ActionRemoteChanged, nil
	}
	return ActionNone, ActionNone, &IntegrityFault{Name: l.Name, Reason: "modification times can not be ordered"}
}

func isNever(t time.Time) bool {
	return t.IsZero() || utils.IsEpoch(t)
}

// Validate checks that every snapshot carries an action that applies to its side.
func Validate(local LocalSnapshots, remote RemoteSnapshots) error {
	for _, name := range local.Names() {
		action := local[name].Action
		if action == ActionNone {
			return fmt.Errorf("%w: local %s", ErrUnassignedAction, name)
		}
		if !action.forLocal() {
			return fmt.Errorf("%w: %s on local %s", ErrActionMismatch, action, name)
		}
		if action == ActionConflict && local[name].ConflictWith == nil {
			return fmt.Errorf("%w: conflict without remote pair for %s", ErrActionMismatch, name)
		}
	}
	for _, name := range remote.Names() {
		action := remote[name].Action
		if action == ActionNone {
			return fmt.Errorf("%w: remote %s", ErrUnassignedAction, name)
		}
		if !action.forRemote() {
			return fmt.Errorf("%w: %s on remote %s", ErrActionMismatch, action, name)
		}
	}
	return nil
}
