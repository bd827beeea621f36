package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/syncbox/internal/blob"
	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
)

// localAdded publishes a local file: content, filename object, journal, Files record, version.
func (e *Executor) localAdded(ctx context.Context, l *LocalSnapshot) error {
	exists, err := retryValue(ctx, e.retries, "check blob "+l.Hash, func() (bool, error) {
		return e.content.BlobExists(ctx, l.Hash)
	})
	if err != nil {
		return err
	}

	if !exists {
		if err := e.upload(ctx, l); err != nil {
			return err
		}
	} else {
		slog.Debug("sync", "op", l.Action, "path", l.Name, "hash", l.Hash, "reason", "blob exists")
	}

	lastModified := utils.FormatTime(l.LastModified)
	err = retry(ctx, e.retries, "put filename "+l.Name, func() error {
		return e.content.PutFile(ctx, l.Name, &blob.FileMeta{
			Hash:         l.Hash,
			LastModified: lastModified,
			Source:       e.hostID,
		})
	})
	if err != nil {
		return err
	}

	now, nowStr := e.stamp()
	err = e.journal.Set(&FileRecord{
		Name:                   l.Name,
		Hash:                   l.Hash,
		LastModified:           l.LastModified,
		LastSyncedLastModified: l.LastModified,
		LastSyncedHash:         l.Hash,
		LastSyncTime:           now,
	})
	if err != nil {
		return localIOError("write journal", l.Name, err)
	}

	err = retry(ctx, e.retries, "put file "+l.Name, func() error {
		return e.meta.PutFile(ctx, &metastore.FileItem{
			Name:         l.Name,
			Hash:         l.Hash,
			LastModified: lastModified,
			Source:       e.hostID,
			LastSyncDate: nowStr,
		})
	})
	if err != nil {
		return err
	}

	err = retry(ctx, e.retries, "put add date "+l.Name, func() error {
		return e.meta.PutAddDateIfAbsent(ctx, l.Name, nowStr)
	})
	if err != nil && !errors.Is(err, metastore.ErrConditionFailed) {
		return err
	}

	err = retry(ctx, e.retries, "put version "+l.Name, func() error {
		return e.meta.PutVersion(ctx, &metastore.VersionItem{
			Hash:         l.Hash,
			LastModified: lastModified,
			Name:         l.Name,
			Source:       e.hostID,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("sync", "op", l.Action, "path", l.Name, "hash", l.Hash)
	return nil
}

func (e *Executor) upload(ctx context.Context, l *LocalSnapshot) error {
	name := absName(l.Name)
	info, err := e.fs.Stat(name)
	if err != nil {
		return localIOError("stat", l.Name, err)
	}

	err = retry(ctx, e.retries, "put blob "+l.Hash, func() error {
		f, err := e.fs.Open(name)
		if err != nil {
			return localIOError("open", l.Name, err)
		}
		defer f.Close()
		return e.content.PutBlob(ctx, l.Hash, f, info.Size())
	})
	if err != nil {
		return err
	}

	e.bytesUp.Add(info.Size())
	slog.Debug("sync", "op", "upload", "path", l.Name, "hash", l.Hash, "size", info.Size())
	return nil
}

// remoteAdded downloads a remote file and records it. The returned record is what was written.
func (e *Executor) remoteAdded(ctx context.Context, r *RemoteSnapshot) (*FileRecord, error) {
	meta, err := retryValue(ctx, e.retries, "head filename "+r.Name, func() (*blob.FileMeta, error) {
		return e.content.HeadFile(ctx, r.Name)
	})
	if err != nil {
		return nil, err
	}

	lastModified, err := utils.ParseTime(meta.LastModified)
	if err != nil || meta.Hash == "" {
		return nil, fmt.Errorf("filename object %s: %w", r.Name, &MalformedRecordError{Name: r.Name, Missing: []string{"hash", "lastModifiedDate"}})
	}

	name := absName(r.Name)
	var written int64
	err = retry(ctx, e.retries, "get blob "+meta.Hash, func() error {
		body, err := e.content.GetBlob(ctx, meta.Hash)
		if err != nil {
			return err
		}
		defer body.Close()

		written, err = writeFileWithIntegrityCheck(e.fs, absName(tmpDirName), name, body, meta.Hash)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.fs.Chtimes(name, lastModified, lastModified); err != nil {
		return nil, localIOError("set modification time", r.Name, err)
	}
	e.bytesDown.Add(written)

	rec := &FileRecord{
		Name:                   r.Name,
		Hash:                   meta.Hash,
		LastModified:           lastModified,
		LastSyncedLastModified: lastModified,
		LastSyncedHash:         meta.Hash,
		LastSyncTime:           utils.NormTime(e.now()),
	}
	if err := e.journal.Set(rec); err != nil {
		return nil, localIOError("write journal", r.Name, err)
	}

	slog.Info("sync", "op", r.Action, "path", r.Name, "hash", meta.Hash, "source", meta.Source)
	return rec, nil
}
