package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syncbox/internal/blob"
	"github.com/openmined/syncbox/internal/client/config"
	clientsync "github.com/openmined/syncbox/internal/client/sync"
	"github.com/openmined/syncbox/internal/client/workspace"
	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/version"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync round, or keep running rounds with --interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncCmd(cmd, interval)
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "repeat rounds at this interval until interrupted")
	return cmd
}

func runSyncCmd(cmd *cobra.Command, interval time.Duration) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	closeLog, err := setupFileLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info(version.ShortWithApp(), "host", cfg.HostID, "root", cfg.SyncRoot, "config", cfg.Path)
	defer slog.Info("Bye!")

	if err := runSync(cmd.Context(), cfg, interval); err != nil {
		slog.Error("sync failed", "error", err)
		return err
	}
	return nil
}

// runSync wires the stores to a coordinator and runs one round, or rounds every interval.
func runSync(ctx context.Context, cfg *config.Config, interval time.Duration) error {
	ws, err := workspace.NewWorkspace(cfg.SyncRoot, cfg.DataDir)
	if err != nil {
		return err
	}
	if err := ws.Setup(); err != nil {
		return err
	}
	defer ws.Unlock()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fs := ws.Fs()
	ignore := clientsync.NewSyncIgnoreList(fs)
	ignore.Load()

	coordinator, err := clientsync.NewCoordinator(clientsync.CoordinatorOptions{
		Fs:      fs,
		Journal: st.journal,
		Meta:    st.meta,
		Content: st.content,
		Ignore:  ignore,
		HostID:  cfg.HostID,
		Retries: cfg.Retries,
	})
	if err != nil {
		return err
	}

	if interval > 0 {
		return coordinator.Run(ctx, interval)
	}
	return coordinator.InitialSync(ctx)
}

type stores struct {
	journal *clientsync.Journal
	meta    metastore.Store
	content blob.Store
}

// openStores opens and initializes the journal and both remote stores.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	st.journal = clientsync.NewJournal(cfg.JournalPath())
	if err := st.journal.Open(); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	meta, err := metastore.Open(cfg.MetastoreOptions())
	if err != nil {
		st.Close()
		return nil, err
	}
	st.meta = meta
	if err := meta.Init(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("init metadata store: %w", err)
	}

	content, err := blob.New(cfg.BlobOptions())
	if err != nil {
		st.Close()
		return nil, err
	}
	st.content = content
	if err := content.Init(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("init content store: %w", err)
	}

	return st, nil
}

func (s *stores) Close() error {
	var errs []error
	if s.meta != nil {
		errs = append(errs, s.meta.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	return errors.Join(errs...)
}
