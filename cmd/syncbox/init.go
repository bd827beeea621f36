package main

import (
	"fmt"

	"github.com/openmined/syncbox/internal/client/workspace"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the sync root, local state and remote stores, and save the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ws, err := workspace.NewWorkspace(cfg.SyncRoot, cfg.DataDir)
			if err != nil {
				return err
			}
			if err := ws.Setup(); err != nil {
				return err
			}
			defer ws.Unlock()

			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			saved := false
			if !utils.FileExists(cfg.Path) {
				if err := cfg.Save(); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				saved = true
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, bold.Render("SyncBox initialized"))
			if saved {
				fmt.Fprintf(out, "Config Path: %s\n", green.Render(cfg.Path))
			} else {
				fmt.Fprintf(out, "Config Path: %s %s\n", green.Render(cfg.Path), gray.Render("(kept)"))
			}
			fmt.Fprintf(out, "Host:        %s\n", cyan.Render(cfg.HostID))
			fmt.Fprintf(out, "Sync Root:   %s\n", cyan.Render(cfg.SyncRoot))
			fmt.Fprintf(out, "Data Dir:    %s\n", cyan.Render(cfg.DataDir))
			fmt.Fprintf(out, "Metadata:    %s\n", cyan.Render(cfg.Metadata.Driver))
			fmt.Fprintf(out, "Content:     %s\n", cyan.Render(cfg.Content.Driver))
			return nil
		},
	}
}
