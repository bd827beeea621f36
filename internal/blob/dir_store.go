package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	dirFiles = "/files"
	dirBlobs = "/blobs"
	dirTmp   = "/tmp"
)

// DirStore keeps both namespaces under a directory, for single-machine setups and tests.
// Filename objects are JSON documents holding their metadata.
type DirStore struct {
	fs afero.Fs
}

func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, fmt.Errorf("dir content store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content store root %s: %w", root, err)
	}
	return NewDirStoreFs(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

func NewDirStoreFs(fs afero.Fs) *DirStore {
	return &DirStore{fs: fs}
}

func (d *DirStore) Init(ctx context.Context) error {
	for _, dir := range []string{dirFiles, dirBlobs, dirTmp} {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	slog.Debug("content store initialized", "backend", "dir")
	return nil
}

func (d *DirStore) filePath(name string) string {
	return path.Join(dirFiles, name)
}

func (d *DirStore) blobPath(hash string) string {
	return path.Join(dirBlobs, hash)
}

// writeAtomic writes through a temp file so readers never see a partial object.
func (d *DirStore) writeAtomic(dst string, r io.Reader) error {
	tmp := path.Join(dirTmp, uuid.NewString())
	f, err := d.fs.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		d.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		d.fs.Remove(tmp)
		return err
	}

	if err := d.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		d.fs.Remove(tmp)
		return err
	}
	return d.fs.Rename(tmp, dst)
}

func (d *DirStore) HeadFile(ctx context.Context, name string) (*FileMeta, error) {
	data, err := afero.ReadFile(d.fs, d.filePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var meta FileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", name, err)
	}
	return &meta, nil
}

func (d *DirStore) PutFile(ctx context.Context, name string, meta *FileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return d.writeAtomic(d.filePath(name), bytes.NewReader(data))
}

func (d *DirStore) RenameFile(ctx context.Context, from, to string) error {
	src, dst := d.filePath(from), d.filePath(to)
	if _, err := d.fs.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := d.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	return d.fs.Rename(src, dst)
}

func (d *DirStore) DeleteFile(ctx context.Context, name string) error {
	err := d.fs.Remove(d.filePath(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DirStore) BlobExists(ctx context.Context, hash string) (bool, error) {
	return afero.Exists(d.fs, d.blobPath(hash))
}

func (d *DirStore) GetBlob(ctx context.Context, hash string) (io.ReadCloser, error) {
	f, err := d.fs.Open(d.blobPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (d *DirStore) PutBlob(ctx context.Context, hash string, body io.Reader, size int64) error {
	return d.writeAtomic(d.blobPath(hash), body)
}

var _ Store = (*DirStore)(nil)
