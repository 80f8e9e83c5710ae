// Package outcar reads the ionic steps of an OUTCAR file.
package outcar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/traj"
)

// Markers of the lines read. The energies printed after each electronic step
// use a single space and are ignored.
const (
	markPotcar   = "POTCAR:"
	markIons     = "ions per type ="
	markLattice  = "direct lattice vectors"
	markPosition = "POSITION"
	markForce    = "TOTAL-FORCE"
	markToten    = "free  energy   TOTEN"
	markEnergy   = "energy  without entropy="
	markSigma    = "energy(sigma->0) ="
	markDipole   = "dipolmoment"
)

// state is what has been read since the last complete frame.
type state struct {
	potcars []string
	counts  []int
	symbols []string

	cell       [3][3]float64
	positions  [][3]float64
	forces     [][3]float64
	freeEnergy *float64
	dipole     *[3]float64
}

// Read reads every ionic step of an OUTCAR. A step is complete when the
// energy without entropy line following its positions has been read; an
// incomplete last step is dropped.
func Read(r io.Reader) ([]traj.Frame, error) {
	var (
		frames []traj.Frame
		s      state
		line   int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	next := func() (string, bool) {
		ok := sc.Scan()
		line++
		return sc.Text(), ok
	}

	for {
		l, ok := next()
		if !ok {
			break
		}

		switch {
		case strings.Contains(l, markPotcar):
			fields := strings.Fields(l)
			if len(fields) >= 3 {
				s.potcars = append(s.potcars, element(fields[2]))
			}

		case strings.Contains(l, markIons):
			fields := strings.Fields(l[strings.Index(l, "=")+1:])
			s.counts = s.counts[:0]
			for _, f := range fields {
				n, err := strconv.Atoi(f)
				if err != nil {
					return frames, fmt.Errorf("line %d: ions per type: %w", line, err)
				}
				s.counts = append(s.counts, n)
			}

		case strings.Contains(l, markLattice):
			for i := 0; i < 3; i++ {
				l, ok = next()
				if !ok {
					return frames, fmt.Errorf("line %d: truncated lattice vectors", line)
				}
				v, err := numbers(l, 3)
				if err != nil {
					return frames, fmt.Errorf("line %d: lattice vectors: %w", line, err)
				}
				s.cell[i] = [3]float64{v[0], v[1], v[2]}
			}

		case strings.Contains(l, markPosition) && strings.Contains(l, markForce):
			err := s.species()
			if err != nil {
				return frames, fmt.Errorf("line %d: %w", line, err)
			}

			next() // -----
			s.positions = make([][3]float64, len(s.symbols))
			s.forces = make([][3]float64, len(s.symbols))
			for i := range s.symbols {
				l, ok = next()
				if !ok {
					return frames, nil
				}
				v, err := numbers(l, 6)
				if err != nil {
					return frames, fmt.Errorf("line %d: positions: %w", line, err)
				}
				s.positions[i] = [3]float64{v[0], v[1], v[2]}
				s.forces[i] = [3]float64{v[3], v[4], v[5]}
			}

		case strings.Contains(l, markToten):
			v, err := after(l, "=")
			if err != nil {
				return frames, fmt.Errorf("line %d: TOTEN: %w", line, err)
			}
			s.freeEnergy = traj.Float(v)

		case strings.Contains(l, markDipole):
			v, err := numbers(strings.TrimSpace(l)[len(markDipole):], 3)
			if err != nil {
				return frames, fmt.Errorf("line %d: dipolmoment: %w", line, err)
			}
			s.dipole = &[3]float64{v[0], v[1], v[2]}

		case strings.Contains(l, markEnergy) && strings.Contains(l, markSigma):
			if s.positions == nil {
				continue
			}
			e, err := after(l, markSigma)
			if err != nil {
				return frames, fmt.Errorf("line %d: energy(sigma->0): %w", line, err)
			}

			f, err := s.frame(e)
			if err != nil {
				return frames, fmt.Errorf("line %d: %w", line, err)
			}
			frames = append(frames, f)
		}
	}

	return frames, sc.Err()
}

// ReadFile opens path and reads it.
func ReadFile(path string) ([]traj.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}

// species builds the list of symbols from the POTCAR lines and the number of
// ions per type. The POTCAR lines are printed twice in the header.
func (s *state) species() error {
	if s.symbols != nil {
		return nil
	}

	if len(s.counts) == 0 || len(s.potcars) < len(s.counts) {
		return fmt.Errorf("cannot find the species before the positions")
	}

	for k, n := range s.counts {
		for i := 0; i < n; i++ {
			s.symbols = append(s.symbols, s.potcars[k])
		}
	}

	return nil
}

func (s *state) frame(energy float64) (traj.Frame, error) {
	a, err := atoms.New(s.symbols, s.positions)
	if err != nil {
		return traj.Frame{}, err
	}
	a.Cell = s.cell
	a.PBC = [3]bool{true, true, true}

	f := traj.Frame{
		Atoms:      a,
		Energy:     traj.Float(energy),
		FreeEnergy: s.freeEnergy,
		Forces:     s.forces,
		Dipole:     s.dipole,
	}

	s.positions, s.forces = nil, nil
	s.freeEnergy, s.dipole = nil, nil

	return f, nil
}

// element strips the suffixes of a POTCAR name (e.g. Pt_pv, H.75, Na_sv_GW).
func element(potcar string) string {
	if i := strings.IndexAny(potcar, "_."); i > 0 {
		return potcar[:i]
	}
	return potcar
}

// numbers parses the first n numbers of l.
func numbers(l string, n int) ([]float64, error) {
	fields := strings.Fields(l)
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d numbers, got %q", n, l)
	}

	v := make([]float64, n)
	for k := 0; k < n; k++ {
		var err error
		v[k], err = strconv.ParseFloat(fields[k], 64)
		if err != nil {
			return nil, err
		}
	}

	return v, nil
}

// after parses the number following sep.
func after(l, sep string) (float64, error) {
	i := strings.Index(l, sep)
	if i < 0 {
		return 0, fmt.Errorf("cannot find %q", sep)
	}

	fields := strings.Fields(l[i+len(sep):])
	if len(fields) == 0 {
		return 0, fmt.Errorf("no value after %q", sep)
	}

	return strconv.ParseFloat(fields[0], 64)
}
