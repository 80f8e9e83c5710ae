// Package build generates the initial structures of an AIMD calculation of an
// electrochemical interface: a fcc metal slab covered by water layers, one of
// them containing a cation.
package build

import (
	"fmt"
	"math"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/cfg"
)

// TagFixed is the tag of the atoms that will be fixed during the calculation.
const TagFixed = 1

// surfaceCell describes the conventional cell of a fcc surface, as obtained
// by cutting the 4-atom cubic cell along the facet. a1 and a2 are the in-plane
// vectors and height the thickness of one layer. Each basis entry gives the
// fractional in-plane coordinates of an atom and its height in units of
// height. shift is the in-plane displacement of each new layer in fractional
// coordinates.
type surfaceCell struct {
	a1, a2 [3]float64
	height float64
	basis  [][3]float64
	shift  [2]float64
}

func newSurfaceCell(facet cfg.Facet, a float64) (surfaceCell, error) {
	switch facet {
	case cfg.F100:
		// Two planes a/2 apart, each with two atoms on a square of side a
		return surfaceCell{
			a1:     [3]float64{a, 0, 0},
			a2:     [3]float64{0, a, 0},
			height: a,
			basis: [][3]float64{
				{0, 0, 0}, {0.5, 0.5, 0},
				{0, 0.5, 0.5}, {0.5, 0, 0.5},
			},
		}, nil
	case cfg.F110:
		// Rows along [1-10] a/sqrt(2) apart, the second plane offset by half
		// a row in both directions
		return surfaceCell{
			a1:     [3]float64{a * math.Sqrt2, 0, 0},
			a2:     [3]float64{0, a, 0},
			height: a / math.Sqrt2,
			basis: [][3]float64{
				{0, 0, 0}, {0.5, 0, 0},
				{0.25, 0.5, 0.5}, {0.75, 0.5, 0.5},
			},
		}, nil
	case cfg.F111:
		// One hexagonal plane of 2x2 atoms per layer, ABC stacking
		d := a * math.Sqrt2
		return surfaceCell{
			a1:     [3]float64{d, 0, 0},
			a2:     [3]float64{d / 2, d * math.Sqrt(3) / 2, 0},
			height: a / math.Sqrt(3),
			basis: [][3]float64{
				{0, 0, 0}, {0.5, 0, 0},
				{0, 0.5, 0}, {0.5, 0.5, 0},
			},
			shift: [2]float64{2. / 3, -1. / 3},
		}, nil
	}

	return surfaceCell{}, fmt.Errorf("unsupported facet %q", facet)
}

// wrap returns x in [0, 1).
func wrap(x float64) float64 {
	x -= math.Floor(x)
	if x >= 1-1e-10 {
		x = 0
	}
	return x
}

// Slab returns a fcc slab of the specified metal. layers is the number of
// conventional cells along the normal of the facet, each one holding 4 atoms
// per in-plane cell. The slab is repeated nx times along the first surface
// vector and ny times along the second one. The vacuum is added on both sides
// along z. The atoms under the middle of the slab are tagged with TagFixed.
// The lowest atom is at z = 0.
func Slab(metal string, facet cfg.Facet, a float64, layers, nx, ny int, vacuum float64) (*atoms.Atoms, error) {
	if layers <= 0 || nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("layers and repetitions must be greater than 0")
	}

	sc, err := newSurfaceCell(facet, a)
	if err != nil {
		return nil, err
	}

	var (
		symbols   []string
		positions [][3]float64
	)
	for l := 0; l < layers; l++ {
		for _, b := range sc.basis {
			bx := wrap(b[0] + float64(l)*sc.shift[0])
			by := wrap(b[1] + float64(l)*sc.shift[1])
			for i := 0; i < nx; i++ {
				for j := 0; j < ny; j++ {
					fx, fy := float64(i)+bx, float64(j)+by
					var p [3]float64
					for k := 0; k < 2; k++ {
						p[k] = fx*sc.a1[k] + fy*sc.a2[k]
					}
					p[2] = (float64(l) + b[2]) * sc.height
					symbols = append(symbols, metal)
					positions = append(positions, p)
				}
			}
		}
	}

	slab, err := atoms.New(symbols, positions)
	if err != nil {
		return nil, err
	}

	lo, hi := slab.Bounds(2)
	for k := 0; k < 3; k++ {
		slab.Cell[0][k] = float64(nx) * sc.a1[k]
		slab.Cell[1][k] = float64(ny) * sc.a2[k]
	}
	slab.Cell[2][2] = hi - lo + 2*vacuum
	slab.PBC = [3]bool{true, true, false}

	// Centering along z
	slab.Translate([3]float64{0, 0, vacuum - lo})

	var mean float64
	for _, p := range slab.Positions {
		mean += p[2]
	}
	mean /= float64(slab.Len())
	// The plane lying on the mean, if any, stays free
	for i, p := range slab.Positions {
		if p[2] < mean-1e-8 {
			slab.Tags[i] = TagFixed
		}
	}

	lo, _ = slab.Bounds(2)
	slab.Translate([3]float64{0, 0, -lo})

	return slab, nil
}

// Top returns the index of the highest atom.
func Top(a *atoms.Atoms) int {
	top := 0
	for i, p := range a.Positions {
		if p[2] > a.Positions[top][2] {
			top = i
		}
	}
	return top
}
