package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openmined/syncbox/internal/blob"
	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/afero"
)

// Executor applies the action assigned to a snapshot to the local and remote stores.
type Executor struct {
	fs      afero.Fs
	journal *Journal
	meta    metastore.Store
	content blob.Store
	counter *PendingDeleteCounter
	hostID  string
	retries int
	now     func() time.Time

	bytesUp   atomic.Int64
	bytesDown atomic.Int64
}

type ExecutorOptions struct {
	Fs      afero.Fs
	Journal *Journal
	Meta    metastore.Store
	Content blob.Store
	HostID  string
	Retries int
}

func NewExecutor(opts ExecutorOptions) *Executor {
	return &Executor{
		fs:      opts.Fs,
		journal: opts.Journal,
		meta:    opts.Meta,
		content: opts.Content,
		counter: NewPendingDeleteCounter(opts.Meta, opts.HostID, opts.Retries),
		hostID:  opts.HostID,
		retries: opts.Retries,
		now:     time.Now,
	}
}

// Execute runs the action assigned to snap.
func (e *Executor) Execute(ctx context.Context, snap Snapshot) error {
	st := snap.State()

	switch st.Action {
	case ActionNoOp:
		return nil

	case ActionLocalAdded, ActionLocalChanged, ActionLocalUnchanged, ActionLocalDeleted, ActionConflict:
		l, ok := snap.(*LocalSnapshot)
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrActionMismatch, st.Action, st.Name)
		}
		switch st.Action {
		case ActionLocalAdded, ActionLocalChanged:
			return e.localAdded(ctx, l)
		case ActionLocalUnchanged:
			return e.localUnchanged(ctx, l)
		case ActionLocalDeleted:
			return e.localDeleted(ctx, l)
		default:
			return e.conflict(ctx, l)
		}

	case ActionRemoteAdded, ActionRemoteChanged, ActionRemoteDeleted:
		r, ok := snap.(*RemoteSnapshot)
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrActionMismatch, st.Action, st.Name)
		}
		if st.Action == ActionRemoteDeleted {
			return e.remoteDeleted(ctx, r)
		}
		_, err := e.remoteAdded(ctx, r)
		return err

	default:
		return fmt.Errorf("%w: %s", ErrUnassignedAction, st.Name)
	}
}

// localUnchanged records a file that already matches the remote side.
func (e *Executor) localUnchanged(_ context.Context, l *LocalSnapshot) error {
	err := e.journal.Set(&FileRecord{
		Name:                   l.Name,
		Hash:                   l.Hash,
		LastModified:           l.LastModified,
		LastSyncedLastModified: l.LastModified,
		LastSyncedHash:         l.Hash,
		LastSyncTime:           e.now(),
	})
	if err != nil {
		return localIOError("write journal", l.Name, err)
	}
	slog.Debug("sync", "op", ActionLocalUnchanged, "path", l.Name)
	return nil
}

func (e *Executor) stamp() (time.Time, string) {
	now := utils.NormTime(e.now())
	return now, utils.FormatTime(now)
}

// BytesTransferred returns the bytes uploaded and downloaded so far and resets the counters.
func (e *Executor) BytesTransferred() (up, down int64) {
	return e.bytesUp.Swap(0), e.bytesDown.Swap(0)
}
