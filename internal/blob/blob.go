// Package blob is the remote content store. It keeps two namespaces:
// a filename namespace whose objects carry only metadata (hash, last modified, source),
// and a content namespace of blobs addressed by content hash.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotFound = errors.New("object not found")
)

const (
	metaHash         = "hash"
	metaLastModified = "lastmodifieddate"
	metaSource       = "source"
)

// FileMeta is the metadata attached to a filename object.
type FileMeta struct {
	Hash         string `json:"hash"`
	LastModified string `json:"lastModifiedDate"`
	Source       string `json:"source"`
}

func (m *FileMeta) toMap() map[string]string {
	return map[string]string{
		metaHash:         m.Hash,
		metaLastModified: m.LastModified,
		metaSource:       m.Source,
	}
}

func fileMetaFromMap(m map[string]string) *FileMeta {
	return &FileMeta{
		Hash:         m[metaHash],
		LastModified: m[metaLastModified],
		Source:       m[metaSource],
	}
}

// Store is implemented by every content backend.
type Store interface {
	// Init creates the namespaces if missing. The filename namespace is versioned where supported.
	Init(ctx context.Context) error

	// HeadFile returns the metadata of a filename object, or ErrNotFound.
	HeadFile(ctx context.Context, name string) (*FileMeta, error)
	PutFile(ctx context.Context, name string, meta *FileMeta) error
	RenameFile(ctx context.Context, from, to string) error
	// DeleteFile succeeds when the object is already gone.
	DeleteFile(ctx context.Context, name string) error

	BlobExists(ctx context.Context, hash string) (bool, error)
	// GetBlob returns ErrNotFound for an unknown hash. The caller closes the reader.
	GetBlob(ctx context.Context, hash string) (io.ReadCloser, error)
	PutBlob(ctx context.Context, hash string, body io.Reader, size int64) error
}

const (
	DriverS3  = "s3"
	DriverDir = "dir"
)

// Options selects and configures a backend and its wrappers.
type Options struct {
	Driver string

	S3 *S3Config
	// Dir is the root of the dir backend.
	Dir string

	// Passphrase enables client-side encryption of blob contents.
	Passphrase string
	// CacheSize bounds the blob existence cache. Zero disables it.
	CacheSize int
}

// New builds the backend named by opts.Driver, wrapped with encryption and caching when enabled.
func New(opts Options) (Store, error) {
	var store Store
	var err error

	switch opts.Driver {
	case DriverS3:
		if opts.S3 == nil {
			return nil, fmt.Errorf("s3 content store requires s3 config")
		}
		store, err = NewS3StoreWithConfig(opts.S3)
	case DriverDir, "":
		store, err = NewDirStore(opts.Dir)
	default:
		return nil, fmt.Errorf("unknown content store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.Passphrase != "" {
		store, err = NewEncryptedStore(store, opts.Passphrase)
		if err != nil {
			return nil, err
		}
	}

	if opts.CacheSize > 0 {
		store, err = NewCachedStore(store, opts.CacheSize)
		if err != nil {
			return nil, err
		}
	}

	return store, nil
}
