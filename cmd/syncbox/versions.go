package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <name>",
		Short: "List the recorded versions of a file, oldest first",
		Args:  cobra.ExactArgs(1),
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

			versions, err := st.meta.ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray.Render("no versions of "+args[0]))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, bold.Render("MODIFIED (UTC)")+"\t"+bold.Render("HASH")+"\t"+bold.Render("SOURCE"))
			for _, v := range versions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", v.LastModified, cyan.Render(v.Hash), v.Source)
			}
			return w.Flush()
		},
	}
}
