// Package series turns the stored frames into running averages per state.
package series

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/kpotier/aimd/pkg/store"
)

// DefaultStep is the time between two stored frames in ps.
const DefaultStep = 0.001

// Axis is a component of the dipole moment.
type Axis string

// Here are the accepted axes.
var (
	AX Axis = "x"
	AY Axis = "y"
	AZ Axis = "z"
)

func (a Axis) index() (int, error) {
	switch a {
	case AX:
		return 0, nil
	case AY:
		return 1, nil
	case AZ, "":
		return 2, nil
	}
	return 0, fmt.Errorf("unknown axis %q", a)
}

// Series is the running average of one quantity for one state.
type Series struct {
	Time    []float64
	Average []float64
}

// MarshalJSON writes s as [[t...], [avg...]].
func (s Series) MarshalJSON() ([]byte, error) {
	return json.Marshal([2][]float64{s.Time, s.Average})
}

// CumulativeAverage returns the mean of x[0..k] for each k.
func CumulativeAverage(x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}

	avg := make([]float64, len(x))
	floats.CumSum(avg, x)
	for k := range avg {
		avg[k] /= float64(k + 1)
	}
	return avg
}

type point struct {
	run, step int
	v         float64
}

// build groups the values by state, sorts them by run number then timestep,
// and averages them.
func build(rows []store.Row, step float64, value func(*store.Row) (float64, bool)) map[string]Series {
	if step <= 0 {
		step = DefaultStep
	}

	groups := make(map[string][]point)
	for i := range rows {
		v, ok := value(&rows[i])
		if !ok {
			continue
		}
		r := &rows[i]
		groups[r.State] = append(groups[r.State], point{r.RunNumber, r.Timestep, v})
	}

	out := make(map[string]Series, len(groups))
	for state, pts := range groups {
		sort.SliceStable(pts, func(i, j int) bool {
			if pts[i].run != pts[j].run {
				return pts[i].run < pts[j].run
			}
			return pts[i].step < pts[j].step
		})

		x := make([]float64, len(pts))
		t := make([]float64, len(pts))
		for k, p := range pts {
			x[k] = p.v
			t[k] = float64(k) * step
		}
		out[state] = Series{Time: t, Average: CumulativeAverage(x)}
	}

	return out
}

// Energy returns the running average of the energy of each state. The rows
// without energy are skipped.
func Energy(rows []store.Row, step float64) map[string]Series {
	return build(rows, step, func(r *store.Row) (float64, bool) {
		if r.Energy == nil {
			return 0, false
		}
		return *r.Energy, true
	})
}

// Dipole returns the running average of one component of the dipole moment of
// each state. The rows without dipole are skipped.
func Dipole(rows []store.Row, axis Axis, step float64) (map[string]Series, error) {
	k, err := axis.index()
	if err != nil {
		return nil, err
	}

	return build(rows, step, func(r *store.Row) (float64, bool) {
		if r.Dipole == nil {
			return 0, false
		}
		return r.Dipole[k], true
	}), nil
}

// WriteJSON writes the series into path as {"state": [[t...], [avg...]]}.
func WriteJSON(path string, s map[string]Series) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// WriteColumns writes one file per state into dir. Each line is "t avg".
func WriteColumns(dir string, s map[string]Series) error {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	for state, ser := range s {
		f, err := os.Create(filepath.Join(dir, state+".dat"))
		if err != nil {
			return err
		}

		for i := range ser.Time {
			fmt.Fprintln(f, ser.Time[i], ser.Average[i])
		}

		err = f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", state, err)
		}
	}

	return nil
}
