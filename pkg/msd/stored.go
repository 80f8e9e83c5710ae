package msd

import (
	"context"
	"fmt"
	"sort"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/store"
)

// Stored reads the configurations of one state from the database. Only the
// atoms of Species are kept. The whole trajectory is held in memory.
type Stored struct {
	Store   *store.Store
	State   string
	Species string

	// Drift removes the displacement of the centre of mass of the whole
	// system from the positions
	Drift bool

	xyz [][][3]float64
}

// NewStored returns a Method reading the atoms of species in state.
func NewStored(s *store.Store, state, species string) *Stored {
	return &Stored{Store: s, State: state, Species: species}
}

// Read is part of the Method interface. It selects the frames of the state,
// orders them by run number then timestep and unwraps the positions.
func (s *Stored) Read(ctx context.Context) error {
	rows, err := s.Store.Select(ctx, store.Filter{State: s.State})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no frame for state %q", s.State)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RunNumber != rows[j].RunNumber {
			return rows[i].RunNumber < rows[j].RunNumber
		}
		return rows[i].Timestep < rows[j].Timestep
	})

	var indices []int
	for i, sym := range rows[0].Atoms.Symbols {
		if sym == s.Species {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return fmt.Errorf("no %s atom in state %q", s.Species, s.State)
	}

	all := make([][][3]float64, len(rows))
	mics := make([]*atoms.MIC, len(rows))
	for c, r := range rows {
		if r.Atoms.Len() != rows[0].Atoms.Len() {
			return fmt.Errorf("run %d timestep %d: %d atoms instead of %d",
				r.RunNumber, r.Timestep, r.Atoms.Len(), rows[0].Atoms.Len())
		}
		for _, i := range indices {
			if r.Atoms.Symbols[i] != s.Species {
				return fmt.Errorf("run %d timestep %d: atom %d is %s", r.RunNumber, r.Timestep, i, r.Atoms.Symbols[i])
			}
		}

		all[c] = make([][3]float64, r.Atoms.Len())
		copy(all[c], r.Atoms.Positions)
		mics[c] = atoms.NewMIC(r.Atoms.Cell, r.Atoms.PBC)
	}

	err = Unwrap(all, mics)
	if err != nil {
		return err
	}

	var shift [][3]float64
	if s.Drift {
		shift, err = drift(rows[0].Atoms.Symbols, all)
		if err != nil {
			return err
		}
	}

	s.xyz = make([][][3]float64, len(rows))
	for c := range all {
		cfg := make([][3]float64, len(indices))
		for a, i := range indices {
			cfg[a] = all[c][i]
			if shift != nil {
				for k := 0; k < 3; k++ {
					cfg[a][k] -= shift[c][k]
				}
			}
		}
		s.xyz[c] = cfg
	}

	return nil
}

// drift returns the displacement of the centre of mass of each unwrapped
// configuration from the first one.
func drift(symbols []string, cfgs [][][3]float64) ([][3]float64, error) {
	masses := make([]float64, len(symbols))
	var mTot float64
	for i, sym := range symbols {
		m, err := atoms.Mass(sym)
		if err != nil {
			return nil, err
		}
		masses[i] = m
		mTot += m
	}

	com := make([][3]float64, len(cfgs))
	for c, cfg := range cfgs {
		for i, p := range cfg {
			for k := 0; k < 3; k++ {
				com[c][k] += p[k] * masses[i]
			}
		}
		for k := 0; k < 3; k++ {
			com[c][k] /= mTot
		}
	}

	shift := make([][3]float64, len(cfgs))
	for c := range com {
		for k := 0; k < 3; k++ {
			shift[c][k] = com[c][k] - com[0][k]
		}
	}
	return shift, nil
}

// Len is part of the Method interface.
func (s *Stored) Len() int {
	return len(s.xyz)
}

// GetCfg returns the unwrapped positions of configuration c.
func (s *Stored) GetCfg(c int) ([][3]float64, error) {
	if c < 0 || c >= len(s.xyz) {
		return nil, fmt.Errorf("configuration %d out of range", c)
	}
	return s.xyz[c], nil
}

// End releases the configurations.
func (s *Stored) End() error {
	s.xyz = nil
	return nil
}
