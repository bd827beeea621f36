package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
)

// PendingDeleteCounter maintains how many hosts still have to apply a delete before the
// shared Files record can be purged. Updates are plain writes, concurrent decrements from
// different hosts can be lost.
type PendingDeleteCounter struct {
	meta    metastore.Store
	hostID  string
	retries int
}

func NewPendingDeleteCounter(meta metastore.Store, hostID string, retries int) *PendingDeleteCounter {
	return &PendingDeleteCounter{meta: meta, hostID: hostID, retries: retries}
}

// CountForDelete is run by the host that originated a delete. Every known host except this one
// owes the delete, unless its last sync predates the file's add date.
func (c *PendingDeleteCounter) CountForDelete(ctx context.Context, name string) (int, error) {
	total, err := retryValue(ctx, c.retries, "count hosts", func() (int, error) {
		return c.meta.CountSyncDates(ctx)
	})
	if err != nil {
		return 0, err
	}

	items, err := retryValue(ctx, c.retries, "select file "+name, func() ([]*metastore.FileItem, error) {
		return c.meta.SelectByName(ctx, name)
	})
	if err != nil {
		return 0, err
	}
	addDate := utils.Epoch
	if len(items) == 1 {
		addDate = utils.ParseTimeOr(items[0].AddDate, utils.Epoch)
	}

	dates, err := retryValue(ctx, c.retries, "list hosts", func() ([]*metastore.SyncDateItem, error) {
		return c.meta.ListSyncDates(ctx)
	})
	if err != nil {
		return 0, err
	}

	// this host never owes its own delete, whether or not it has synced before
	count := total - 1
	for _, d := range dates {
		if d.Host == c.hostID {
			continue
		}
		// never learned of the file
		if utils.ParseTimeOr(d.LastSyncDate, utils.Epoch).Before(addDate) {
			count--
		}
	}

	slog.Debug("pending deletes", "path", name, "hosts", total, "addDate", utils.FormatTime(addDate), "count", count)
	return count, c.apply(ctx, name, count)
}

// Decrement is run by a host that applied someone else's delete. It does nothing unless the
// record exists with pending deletes left.
func (c *PendingDeleteCounter) Decrement(ctx context.Context, name string) error {
	items, err := retryValue(ctx, c.retries, "select file "+name, func() ([]*metastore.FileItem, error) {
		return c.meta.SelectByName(ctx, name)
	})
	if err != nil {
		return err
	}
	if len(items) != 1 || items[0].PendingDeletes <= 0 {
		return nil
	}

	count := items[0].PendingDeletes - 1
	slog.Debug("pending deletes", "path", name, "count", count)
	return c.apply(ctx, name, count)
}

// apply purges the record when count is not positive, or stores count.
func (c *PendingDeleteCounter) apply(ctx context.Context, name string, count int) error {
	if count <= 0 {
		return retry(ctx, c.retries, "purge file "+name, func() error {
			return c.meta.DeleteFile(ctx, name)
		})
	}

	err := retry(ctx, c.retries, "set pending deletes "+name, func() error {
		return c.meta.SetPendingDeletes(ctx, name, count)
	})
	if errors.Is(err, metastore.ErrNotFound) {
		slog.Debug("pending deletes record already purged", "path", name)
		return nil
	}
	return err
}
