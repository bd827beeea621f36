package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/openmined/syncbox/internal/version"
	"github.com/spf13/cobra"
)

var home, _ = os.UserHomeDir()

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "syncbox",
		Short:   "SyncBox keeps a folder in sync across hosts",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncCmd(cmd, 0)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "SyncBox config file")
	rootCmd.PersistentFlags().StringP("sync-root", "r", "", "folder to keep in sync")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "directory for local state")
	rootCmd.PersistentFlags().String("host", "", "host id of this machine")
	rootCmd.PersistentFlags().Int("retries", 0, "retries for each remote call")
	rootCmd.PersistentFlags().String("env-file", "", "dotenv file with SYNCBOX_ variables")

	rootCmd.AddCommand(
		newSyncCmd(),
		newInitCmd(),
		newHostsCmd(),
		newVersionsCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	slog.SetDefault(slog.New(newStdoutHandler()))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newStdoutHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// setupFileLogging adds a log file next to stdout. The returned func closes the file.
func setupFileLogging(logFile string) (func(), error) {
	if err := utils.EnsureDir(filepath.Dir(logFile)); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	prev := slog.Default()
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(newStdoutHandler(), fileHandler)))

	return func() {
		slog.SetDefault(prev)
		logInterceptor.Close()
		file.Close()
	}, nil
}

// loadEnvFile loads the --env-file flag, or a .env in the working directory when present.
func loadEnvFile(cmd *cobra.Command) error {
	if f := cmd.Flag("env-file"); f != nil && f.Changed {
		return godotenv.Load(f.Value.String())
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
