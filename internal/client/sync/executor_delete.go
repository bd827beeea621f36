package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

// localDeleted applies a delete that another host originated.
func (e *Executor) localDeleted(ctx context.Context, l *LocalSnapshot) error {
	if err := e.journal.Delete(l.Name); err != nil {
		return localIOError("delete journal record", l.Name, err)
	}

	name := absName(l.Name)
	if err := e.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return localIOError("delete", l.Name, err)
	}
	cleanupEmptyParentDirs(e.fs, path.Dir(name), "/")

	if err := e.counter.Decrement(ctx, l.Name); err != nil {
		return err
	}

	slog.Info("sync", "op", ActionLocalDeleted, "path", l.Name)
	return nil
}

// remoteDeleted publishes a delete made on this host.
func (e *Executor) remoteDeleted(ctx context.Context, r *RemoteSnapshot) error {
	if err := e.journal.Delete(r.Name); err != nil {
		return localIOError("delete journal record", r.Name, err)
	}

	err := retry(ctx, e.retries, "delete filename "+r.Name, func() error {
		return e.content.DeleteFile(ctx, r.Name)
	})
	if err != nil {
		return err
	}

	count, err := e.counter.CountForDelete(ctx, r.Name)
	if err != nil {
		return err
	}

	slog.Info("sync", "op", ActionRemoteDeleted, "path", r.Name, "pendingDeletes", max(count, 0))
	return nil
}

// cleanupEmptyParentDirs removes dir and its parents up to root while they are empty.
// OS litter files do not count as content.
func cleanupEmptyParentDirs(fs afero.Fs, dir string, root string) {
	currentDir := dir

	for {
		if currentDir == root || currentDir == "." || currentDir == "" {
			break
		}

		if statInfo, statErr := fs.Stat(currentDir); statErr != nil || !statInfo.IsDir() {
			break
		}

		dirEntries, err := afero.ReadDir(fs, currentDir)
		if err != nil {
			slog.Warn("sync", "op", ActionLocalDeleted, "path", currentDir, "error", err)
			break
		}

		remaining := 0
		for _, entry := range dirEntries {
			if entry.Name() == ".DS_Store" || entry.Name() == "Thumbs.db" {
				_ = fs.RemoveAll(path.Join(currentDir, entry.Name()))
			} else {
				remaining++
			}
		}

		if remaining > 0 {
			break
		}

		// Windows can hold handles briefly after a file is deleted
		var rmErr error
		for attempt := 0; attempt < 3; attempt++ {
			if rmErr = fs.Remove(currentDir); rmErr == nil {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if rmErr != nil {
			slog.Warn("sync", "op", ActionLocalDeleted, "path", currentDir, "error", rmErr)
			break
		}
		slog.Info("sync", "op", "Cleanup", "path", currentDir, "reason", "empty parent dir")
		currentDir = path.Dir(currentDir)
	}
}
