package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kpotier/aimd/pkg/logging"
	"github.com/kpotier/aimd/pkg/parser"
	"github.com/kpotier/aimd/pkg/store"
)

type options struct {
	dbname  string
	layout  string
	jobs    int
	verbose bool

	discover parser.Options
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "parser",
		Short: "Store the ionic steps of the AIMD runs into a database",
		Long: `parser walks the root folder, finds the vasprun.xml or OUTCAR files of
the runs according to the layout, and writes every ionic step into an SQLite
database. The runs that could not be stored are listed in <db>_error.txt and
the stored ones in <db>_completed.txt.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(o.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return run(ctx, log, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.dbname, "dbname", "test.db", "Database file")
	f.StringVar(&o.layout, "default", string(parser.LDetails), "Layout of the runs: details, recursive, all_in_one or run_folders")
	f.StringVar(&o.discover.Consider, "consider", "", "Only the states containing this string")
	f.StringVar(&o.discover.Exact, "exact", "", "Only the states starting with this string")
	f.StringVar(&o.discover.Exclude, "exclude", "", "Skip the paths containing this string")
	f.StringVar(&o.discover.Root, "root", ".", "Folder containing the states")
	f.IntVarP(&o.jobs, "jobs", "j", 0, "Number of files read at the same time (default GOMAXPROCS)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging")

	return cmd
}

func run(ctx context.Context, log *zap.Logger, o options) error {
	layout, err := parser.ParseLayout(o.layout)
	if err != nil {
		return err
	}
	o.discover.Layout = layout

	log.Info("Looking for the runs", zap.String("root", o.discover.Root), zap.String("layout", string(layout)))
	jobs, err := parser.Discover(o.discover)
	if err != nil {
		return fmt.Errorf("Discover: %w", err)
	}
	log.Info("Runs found", zap.Int("runs", len(jobs)))

	s, err := store.Open(o.dbname)
	if err != nil {
		return err
	}
	defer s.Close()

	in := parser.NewIngester(s, log, layout)
	in.Jobs = o.jobs

	sum, err := in.Run(ctx, jobs)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	log.Info("Done", zap.Int("stored", sum.Stored), zap.Int("failed", sum.Failed), zap.Int("frames", sum.Frames))
	if sum.Failed > 0 {
		log.Warn("Some runs could not be stored", zap.String("file", in.ErrorFile))
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
