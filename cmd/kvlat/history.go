package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kvlat/kvlat/internal/journal"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previously recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			cfg.Resolve()

			j, err := journal.Open(cfg.HistoryDir, journal.DefaultMaxSegmentSize, zap.NewNop())
			if err != nil {
				return err
			}
			defer j.Close()

			records, err := j.Tail(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tRECORDED\tBACKEND\tDURABLE\tN\tWRITE AVG/P90 (mus)\tREAD AVG/P90 (mus)\tRUN ID")
			for _, r := range records {
				s := r.Summary
				w, _ := s.Phase("write")
				rd, _ := s.Phase("read")
				fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%d\t%.2f/%.2f\t%.2f/%.2f\t%s\n",
					r.Seq, r.RecordedAt.Format("2006-01-02 15:04:05"), s.Backend, s.Durable, s.Iterations,
					w.MeanUS, w.P90US, rd.MeanUS, rd.P90US, s.RunID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many recent runs; 0 shows all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
