package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List the hosts sharing this sync set and when they last synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			dates, err := st.meta.ListSyncDates(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, bold.Render("HOST")+"\t"+bold.Render("LAST SYNC (UTC)"))
			for _, d := range dates {
				host := d.Host
				if host == cfg.HostID {
					host = green.Render(host + " (this host)")
				}
				fmt.Fprintf(w, "%s\t%s\n", host, d.LastSyncDate)
			}
			return w.Flush()
		},
	}
}
