package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syncbox/internal/utils"
)

const remoteLabelSuffix = " [remote]"

// conflictName labels a diverged copy with the host that made it and the day it was modified.
func conflictName(name, host string, modified time.Time) string {
	return fmt.Sprintf("%s (%s's conflicted copy %s)", name, host, modified.UTC().Format(utils.DateLayout))
}

// conflictNames returns distinct labels for the local and remote copies.
func conflictNames(name, selfHost string, localModified time.Time, remoteHost string, remoteModified time.Time) (string, string) {
	localName := conflictName(name, selfHost, localModified)
	remoteName := conflictName(name, remoteHost, remoteModified)
	if remoteName == localName {
		remoteName += remoteLabelSuffix
	}
	return localName, remoteName
}

// conflict keeps both diverged copies under new names and retires the original name on both sides.
func (e *Executor) conflict(ctx context.Context, l *LocalSnapshot) error {
	r := l.ConflictWith
	if r == nil {
		return fmt.Errorf("%w: conflict without remote pair for %s", ErrActionMismatch, l.Name)
	}

	localName, remoteName := conflictNames(l.Name, e.hostID, l.LastModified, r.Source, r.LastModified)
	slog.Info("sync", "op", ActionConflict, "path", l.Name, "local", localName, "remote", remoteName)

	if err := e.fs.Rename(absName(l.Name), absName(localName)); err != nil {
		return localIOError("rename", l.Name, err)
	}

	err := retry(ctx, e.retries, "rename filename "+r.Name, func() error {
		return e.content.RenameFile(ctx, r.Name, remoteName)
	})
	if err != nil {
		return err
	}

	// the original name no longer denotes one agreed file
	original := *l
	original.Action = ActionLocalDeleted
	if err := e.localDeleted(ctx, &original); err != nil {
		return err
	}
	originalRemote := *r
	originalRemote.Action = ActionRemoteDeleted
	if err := e.remoteDeleted(ctx, &originalRemote); err != nil {
		return err
	}

	localCopy := *l
	localCopy.Name = localName
	localCopy.Action = ActionLocalAdded
	localCopy.ConflictWith = nil
	if err := e.localAdded(ctx, &localCopy); err != nil {
		return err
	}

	remoteCopy := *r
	remoteCopy.Name = remoteName
	remoteCopy.Action = ActionRemoteAdded
	rec, err := e.remoteAdded(ctx, &remoteCopy)
	if err != nil {
		return err
	}

	// publishes the downloaded copy under this host as well; the blob is already there
	downloaded := newLocalSnapshotFromRecord(rec, true)
	downloaded.Action = ActionLocalAdded
	return e.localAdded(ctx, downloaded)
}
