package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kvlat/kvlat/internal/backend"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List available backends and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDURABLE\tPERSISTENT\tCOMPRESSION")
			for _, name := range backend.Names() {
				caps, _ := backend.Describe(name)
				fmt.Fprintf(tw, "%s\t%v\t%v\t%v\n", name, caps.Durable, caps.Persistent, caps.Compression)
			}
			return tw.Flush()
		},
	}
}
