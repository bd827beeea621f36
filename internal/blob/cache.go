package blob

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore remembers blobs known to exist. Blobs are immutable and never deleted,
// so only positive answers are cached.
type CachedStore struct {
	Store
	known *lru.Cache[string, struct{}]
}

func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	known, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: inner, known: known}, nil
}

func (c *CachedStore) BlobExists(ctx context.Context, hash string) (bool, error) {
	if c.known.Contains(hash) {
		return true, nil
	}

	ok, err := c.Store.BlobExists(ctx, hash)
	if err != nil {
		return false, err
	}
	if ok {
		c.known.Add(hash, struct{}{})
	}
	return ok, nil
}

func (c *CachedStore) PutBlob(ctx context.Context, hash string, body io.Reader, size int64) error {
	if err := c.Store.PutBlob(ctx, hash, body, size); err != nil {
		return err
	}
	c.known.Add(hash, struct{}{})
	return nil
}

var _ Store = (*CachedStore)(nil)
