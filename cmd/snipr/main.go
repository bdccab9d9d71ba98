package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot(newCommand())
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands
func buildRoot(c *command) *cobra.Command {
	rootFlags := &RootFlags{}
	listFlags := &ListFlags{}

	root := createRootCommand(c, rootFlags)
	root.AddCommand(
		createListCommand(c, rootFlags, listFlags),
		createSignalsCommand(c),
	)
	return root
}

// createRootCommand creates the root command; running it signals the
// matching processes.
func createRootCommand(c *command, flags *RootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "snipr",
		Short: "Send a signal to processes matched by command line, memory, CPU or age",
		Long: `Snipr locates processes in the process table and sends each one a signal.
Every process is re-checked immediately before it is signalled, so a PID
recycled by an unrelated process is left alone.

Examples:
  snipr -s USR1 -i resque -e scheduler       # pause resque workers
  snipr -s KILL -i worker -m 2147483648 -d   # dry run: workers over 2 GiB
  snipr -s TERM -i unicorn -a 24h -p         # signal parents of old unicorns
  snipr list -i ruby -c 90                   # show busy ruby processes`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Signal(cmd.Context(), *flags, cmd.Flags().Changed)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringArrayVarP(&flags.Include, "include", "i", nil, "only processes whose command line matches this regexp (repeatable)")
	pf.StringArrayVarP(&flags.Exclude, "exclude", "e", nil, "skip processes whose command line matches this regexp (repeatable)")
	pf.Int64VarP(&flags.Memory, "memory", "m", 0, "only processes using more than this many bytes of resident memory")
	pf.Float64VarP(&flags.CPU, "cpu", "c", 0, "only processes using more than this CPU percentage")
	pf.StringVarP(&flags.Alive, "alive", "a", "", "only processes alive longer than this (seconds, duration or [dd-]hh:mm:ss)")
	pf.StringVar(&flags.Table, "table", "", "process table backend: ps or native")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&flags.LogFormat, "log-format", "", "log format: text or json")

	f := root.Flags()
	f.StringVarP(&flags.Signal, "signal", "s", "", "signal to send, by name or number (default TERM)")
	f.BoolVarP(&flags.Parent, "target-parent", "p", false, "signal the parent of each matching process")
	f.BoolVarP(&flags.DryRun, "dry-run", "d", false, "report what would be signalled without sending anything")
	f.BoolVar(&flags.Pkill, "pkill", false, "delegate matching and signalling to pkill as one operation")
	f.StringVar(&flags.HistoryDSN, "history-dsn", "", "record signalling events (sqlite, postgres, clickhouse or opensearch DSN)")
	f.StringVar(&flags.Pushgateway, "pushgateway", "", "push run metrics to this Prometheus Pushgateway URL")
	f.StringVar(&flags.MetricsTextfile, "metrics-textfile", "", "write run metrics to this file for the node_exporter textfile collector")

	return root
}

// createListCommand creates the list subcommand
func createListCommand(c *command, rootFlags *RootFlags, flags *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the processes that would be signalled",
		Long: `List locates processes with the same filters as the root command and prints
them without signalling anything.

Examples:
  snipr list -i resque
  snipr list -m 1073741824 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *rootFlags, *flags, cmd.Flags().Changed)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print records as JSON")
	return cmd
}

// createSignalsCommand creates the signals subcommand
func createSignalsCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "signals",
		Short: "List the signal names this platform understands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Signals()
		},
	}
}
