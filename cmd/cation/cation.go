package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kpotier/aimd/pkg/build"
	"github.com/kpotier/aimd/pkg/cfg"
	"github.com/kpotier/aimd/pkg/logging"
)

type options struct {
	out     string
	verbose bool
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "cation <config.yaml>",
		Short: "Generate a metal/water interface with a cation",
		Long: `cation builds a metal slab covered by layers of randomly placed water
molecules, one of them being replaced by a cation. The structure is written
into <out>/<state>/pre_relaxation as an extended XYZ file and a POSCAR.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(o.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			return run(log, args[0], o.out)
		},
	}

	cmd.Flags().StringVarP(&o.out, "out", "o", ".", "Folder in which the state is created")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging")

	return cmd
}

func run(log *zap.Logger, path, out string) error {
	log.Info("Reading configuration file", zap.String("path", path))
	c, err := cfg.New(path)
	if err != nil {
		return fmt.Errorf("newInput: %w", err)
	}

	log.Info("Generating the structure")
	g := build.New(c, log)
	s, err := g.Generate()
	if err != nil {
		return fmt.Errorf("Generate: %w", err)
	}

	folder, err := g.Write(out, s)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}

	log.Info("Done", zap.String("folder", folder), zap.Int("atoms", s.Len()))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
