package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kpotier/aimd/pkg/logging"
	"github.com/kpotier/aimd/pkg/msd"
	"github.com/kpotier/aimd/pkg/series"
	"github.com/kpotier/aimd/pkg/store"
)

type options struct {
	db      string
	out     string
	verbose bool

	step    float64
	axis    string
	columns bool

	state   string
	species string
	dt      float64
	start   int
	end     int
	drift   bool
}

// withStore opens the logger and the database before calling fn.
func withStore(o *options, fn func(context.Context, *zap.Logger, *store.Store, *options) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(o.verbose)
		if err != nil {
			return err
		}
		defer log.Sync()

		if _, err := os.Stat(o.db); err != nil {
			return fmt.Errorf("database: %w", err)
		}

		log.Info("Reading database", zap.String("path", o.db))
		s, err := store.Open(o.db)
		if err != nil {
			return err
		}
		defer s.Close()

		return fn(cmd.Context(), log, s, o)
	}
}

func newRootCmd() *cobra.Command {
	o := options{}

	cmd := &cobra.Command{
		Use:           "analyse",
		Short:         "Analyse the frames stored by parser",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.db, "db", "test.db", "Database file")
	pf.StringVarP(&o.out, "out", "o", "", "Output file, or folder with --columns")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.MarkPersistentFlagRequired("out")

	energy := &cobra.Command{
		Use:   "energy",
		Short: "Running average of the energy of each state",
		Args:  cobra.NoArgs,
		RunE:  withStore(&o, runEnergy),
	}
	energy.Flags().Float64Var(&o.step, "step", series.DefaultStep, "Time between two frames (ps)")
	energy.Flags().BoolVar(&o.columns, "columns", false, "Write one text file per state instead of JSON")

	dipole := &cobra.Command{
		Use:   "dipole",
		Short: "Running average of the dipole moment of each state",
		Args:  cobra.NoArgs,
		RunE:  withStore(&o, runDipole),
	}
	dipole.Flags().Float64Var(&o.step, "step", series.DefaultStep, "Time between two frames (ps)")
	dipole.Flags().StringVar(&o.axis, "axis", string(series.AZ), "Component of the dipole moment: x, y or z")
	dipole.Flags().BoolVar(&o.columns, "columns", false, "Write one text file per state instead of JSON")

	msdCmd := &cobra.Command{
		Use:   "msd",
		Short: "Mean squared displacement of a species in one state",
		Args:  cobra.NoArgs,
		RunE:  withStore(&o, runMSD),
	}
	msdCmd.Flags().StringVar(&o.state, "state", "", "State to analyse")
	msdCmd.Flags().StringVar(&o.species, "species", "O", "Chemical symbol of the atoms followed")
	msdCmd.Flags().Float64Var(&o.dt, "dt", series.DefaultStep, "Time between two frames (ps)")
	msdCmd.Flags().IntVar(&o.start, "start", 0, "First frame")
	msdCmd.Flags().IntVar(&o.end, "end", 0, "Last frame, excluded (default all)")
	msdCmd.Flags().BoolVar(&o.drift, "drift", false, "Remove the drift of the centre of mass of the system")
	msdCmd.MarkFlagRequired("state")

	cmd.AddCommand(energy, dipole, msdCmd)
	return cmd
}

func write(log *zap.Logger, o *options, s map[string]series.Series) error {
	if len(s) == 0 {
		return fmt.Errorf("no frame to analyse")
	}

	log.Info("Writing results", zap.String("out", o.out), zap.Int("states", len(s)))
	if o.columns {
		return series.WriteColumns(o.out, s)
	}
	return series.WriteJSON(o.out, s)
}

func runEnergy(ctx context.Context, log *zap.Logger, s *store.Store, o *options) error {
	rows, err := s.Select(ctx, store.Filter{HasEnergy: true})
	if err != nil {
		return err
	}

	log.Info("Calculating the running average of the energy", zap.Int("frames", len(rows)))
	err = write(log, o, series.Energy(rows, o.step))
	if err != nil {
		return err
	}

	log.Info("Done")
	return nil
}

func runDipole(ctx context.Context, log *zap.Logger, s *store.Store, o *options) error {
	rows, err := s.Select(ctx, store.Filter{HasDipole: true})
	if err != nil {
		return err
	}

	log.Info("Calculating the running average of the dipole moment",
		zap.Int("frames", len(rows)), zap.String("axis", o.axis))
	res, err := series.Dipole(rows, series.Axis(o.axis), o.step)
	if err != nil {
		return err
	}

	err = write(log, o, res)
	if err != nil {
		return err
	}

	log.Info("Done")
	return nil
}

func runMSD(ctx context.Context, log *zap.Logger, s *store.Store, o *options) error {
	st := msd.NewStored(s, o.state, o.species)
	st.Drift = o.drift

	m := msd.MSD{
		Method: st,
		Log:    log,
		Out:    o.out,
		Start:  o.start,
		End:    o.end,
		Dt:     o.dt,
	}

	log.Info("Calculating the mean square displacement",
		zap.String("state", o.state), zap.String("species", o.species))
	err := m.Perform(ctx)
	if err != nil {
		return fmt.Errorf("Perform: %w", err)
	}

	err = m.Write()
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}

	log.Info("Done", zap.Int("frames", m.Tot), zap.Int("atoms", m.At))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
