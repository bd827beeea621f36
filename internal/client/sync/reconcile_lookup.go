package sync

import (
	"context"
	"errors"
	"os"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/spf13/afero"
)

// storeLookup answers Lookup from the metadata store, the journal and the sync root.
type storeLookup struct {
	meta    metastore.Store
	journal *Journal
	fs      afero.Fs
	retries int
}

func (s *storeLookup) RemoteRecords(ctx context.Context, name string) ([]*metastore.FileItem, error) {
	return retryValue(ctx, s.retries, "select file "+name, func() ([]*metastore.FileItem, error) {
		return s.meta.SelectByName(ctx, name)
	})
}

func (s *storeLookup) LocalFile(ctx context.Context, name string) (bool, *FileRecord, error) {
	info, err := s.fs.Stat(absName(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil, nil
	} else if err != nil {
		return false, nil, localIOError("stat", name, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil, nil
	}

	rec, err := s.journal.Get(name)
	if err != nil {
		return true, nil, localIOError("read journal", name, err)
	}
	return true, rec, nil
}
