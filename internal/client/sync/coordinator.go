package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/syncbox/internal/blob"
	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/afero"
)

// State is where the coordinator is within a round.
type State string

const (
	StateIdle               State = "Idle"
	StateFetchingBaseline   State = "FetchingBaseline"
	StateBuildingSnapshots  State = "BuildingSnapshots"
	StateReconciling        State = "Reconciling"
	StateExecuting          State = "Executing"
	StatePersistingBaseline State = "PersistingBaseline"
	StateAborted            State = "Aborted"
)

type CoordinatorOptions struct {
	// Fs is rooted at the sync root.
	Fs      afero.Fs
	Journal *Journal
	Meta    metastore.Store
	Content blob.Store
	Ignore  *SyncIgnoreList
	HostID  string
	Retries int
}

// Coordinator runs sync rounds: fetch baseline, build snapshots, reconcile, execute, persist.
type Coordinator struct {
	hostID        string
	meta          metastore.Store
	retries       int
	localBuilder  *LocalSnapshotBuilder
	remoteBuilder *RemoteSnapshotBuilder
	lookup        Lookup
	executor      *Executor
	now           func() time.Time

	muSync  sync.Mutex
	muState sync.RWMutex
	state   State
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Fs == nil || opts.Journal == nil || opts.Meta == nil || opts.Content == nil {
		return nil, fmt.Errorf("coordinator requires a filesystem, journal, metadata store and content store")
	}
	if opts.HostID == "" {
		return nil, fmt.Errorf("coordinator requires a host id")
	}
	if opts.Ignore == nil {
		opts.Ignore = NewSyncIgnoreList(opts.Fs)
		opts.Ignore.Load()
	}

	return &Coordinator{
		hostID:        opts.HostID,
		meta:          opts.Meta,
		retries:       opts.Retries,
		localBuilder:  NewLocalSnapshotBuilder(opts.Fs, opts.Journal, opts.Ignore),
		remoteBuilder: NewRemoteSnapshotBuilder(opts.Meta, opts.Ignore, opts.Retries),
		lookup: &storeLookup{
			meta:    opts.Meta,
			journal: opts.Journal,
			fs:      opts.Fs,
			retries: opts.Retries,
		},
		executor: NewExecutor(ExecutorOptions{
			Fs:      opts.Fs,
			Journal: opts.Journal,
			Meta:    opts.Meta,
			Content: opts.Content,
			HostID:  opts.HostID,
			Retries: opts.Retries,
		}),
		now:   time.Now,
		state: StateIdle,
	}, nil
}

func (c *Coordinator) State() State {
	c.muState.RLock()
	defer c.muState.RUnlock()
	return c.state
}

func (c *Coordinator) setState(state State) {
	c.muState.Lock()
	c.state = state
	c.muState.Unlock()
}

// InitialSync runs one round from this host's last sync date, or from the epoch when there is none.
func (c *Coordinator) InitialSync(ctx context.Context) error {
	if !c.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer c.muSync.Unlock()

	c.setState(StateFetchingBaseline)
	baseline, err := c.fetchBaseline(ctx)
	if err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("fetch baseline: %w", err)
	}
	return c.round(ctx, baseline)
}

// Round runs one round against an explicit baseline.
func (c *Coordinator) Round(ctx context.Context, baseline time.Time) error {
	if !c.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer c.muSync.Unlock()
	return c.round(ctx, baseline)
}

// Run repeats rounds every interval until ctx is done. A failed round stops the loop.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if err := c.InitialSync(ctx); err != nil {
		return err
	}

	// a timer, not a ticker, so slow rounds don't queue ticks
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			err := c.InitialSync(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			} else if err != nil {
				return err
			}
			timer.Reset(interval)
		}
	}
}

func (c *Coordinator) fetchBaseline(ctx context.Context) (time.Time, error) {
	date, err := retryValue(ctx, c.retries, "get sync date", func() (string, error) {
		return c.meta.GetSyncDate(ctx, c.hostID)
	})
	if errors.Is(err, metastore.ErrNotFound) {
		slog.Info("no previous sync for host, running a full sync", "host", c.hostID)
		return utils.Epoch, nil
	} else if err != nil {
		return time.Time{}, err
	}

	baseline, err := utils.ParseTime(date)
	if err != nil {
		slog.Warn("unparseable sync date, running a full sync", "host", c.hostID, "value", date)
		return utils.Epoch, nil
	}
	return baseline, nil
}

func (c *Coordinator) round(ctx context.Context, baseline time.Time) (err error) {
	roundID := uuid.NewString()
	tStart := time.Now()
	defer func() {
		if err != nil {
			failedIn := c.State()
			c.setState(StateAborted)
			slog.Error("sync round aborted", "round", roundID, "state", failedIn, "error", err)
		}
	}()

	c.setState(StateBuildingSnapshots)
	local, err := c.localBuilder.Build(ctx, baseline)
	if err != nil {
		return fmt.Errorf("build local snapshots: %w", err)
	}
	remote, err := c.remoteBuilder.Build(ctx, baseline)
	if err != nil {
		return fmt.Errorf("build remote snapshots: %w", err)
	}
	tSnapshots := time.Since(tStart)

	c.setState(StateReconciling)
	tReconcile := time.Now()
	if err := Reconcile(ctx, local, remote, c.lookup); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	dReconcile := time.Since(tReconcile)

	c.setState(StateExecuting)
	tExecute := time.Now()
	counts := make(map[ActionKind]int, len(allActions))

	// local side first, conflict handling changes what the remote side sees
	for _, name := range local.Names() {
		l := local[name]
		counts[l.Action]++
		if err := c.executor.Execute(ctx, l); err != nil {
			return fmt.Errorf("execute %s %s: %w", l.Action, name, err)
		}
	}
	for _, name := range remote.Names() {
		r := remote[name]
		counts[r.Action]++
		if err := c.executor.Execute(ctx, r); err != nil {
			return fmt.Errorf("execute %s %s: %w", r.Action, name, err)
		}
	}
	dExecute := time.Since(tExecute)

	c.setState(StatePersistingBaseline)
	syncDate := utils.FormatTime(c.now())
	err = retry(ctx, c.retries, "put sync date", func() error {
		return c.meta.PutSyncDate(ctx, c.hostID, syncDate)
	})
	if err != nil {
		return fmt.Errorf("persist sync date: %w", err)
	}

	up, down := c.executor.BytesTransferred()
	attrs := []any{
		"round", roundID,
		"baseline", utils.FormatTime(baseline),
		"syncDate", syncDate,
		"local", len(local),
		"remote", len(remote),
		"uploaded", humanize.Bytes(uint64(up)),
		"downloaded", humanize.Bytes(uint64(down)),
		"tsSnapshots", tSnapshots,
		"tsReconcile", dReconcile,
		"tsExecute", dExecute,
		"tsTotal", time.Since(tStart),
	}
	for _, action := range allActions {
		if n := counts[action]; n > 0 && action != ActionNoOp {
			attrs = append(attrs, string(action), n)
		}
	}
	slog.Info("sync round", attrs...)

	c.setState(StateIdle)
	return nil
}
