// Package main implements the kvlat binary, a single-client latency
// benchmark for embedded key-value stores.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalFlags are shared by every subcommand that reads configuration.
type globalFlags struct {
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "kvlat",
		Short: "Measure put/get latency of embedded key-value stores",
		Long: `kvlat writes N random key/value pairs, reads N of them back, then runs
N interleaved write+read iterations, and reports the mean and p90 latency
of every phase.

Environment Variables:
  ITERATIONS, KEY_LENGTH, VALUE_LENGTH   run parameters
  KVLAT_BACKEND                          backend name (see "kvlat backends")
  KVLAT_DURABLE, KVLAT_COMPRESSION       backend options
  KVLAT_DATA_DIR, KVLAT_HISTORY_DIR      on-disk locations
  KVLAT_PUBLISH_TYPE, KVLAT_S3_*         report publishing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "path to configuration file (YAML or JSON)")
	pf.StringVar(&g.envFile, "env-file", ".env", "path to a .env file; missing is ignored")
	pf.StringVar(&g.dataDir, "data-dir", "", "base directory for backend files and history")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newRunCmd(g),
		newHistoryCmd(g),
		newBackendsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kvlat version %s (commit: %s)\n", version, commit)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(1)
	}
}

// describeError renders an error with the location details a failed run
// attaches: phase, op, iteration and backend first, then anything else.
func describeError(err error) string {
	details := kerrors.GetDetails(err)
	if len(details) == 0 {
		return "Error: " + err.Error()
	}

	var parts []string
	seen := make(map[string]bool)
	for _, k := range []string{"phase", "op", "iteration", "backend"} {
		if v, ok := details[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			seen[k] = true
		}
	}
	var rest []string
	for k := range details {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}

	return fmt.Sprintf("Error: %v (%s)", err, strings.Join(parts, " "))
}
