// Package atoms contains the structure shared by the generator, the output
// readers and the analysis: an ordered list of atoms in a periodic cell.
package atoms

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Atoms is an ordered list of atoms. Positions are cartesian and in angstrom.
// The rows of Cell are the lattice vectors. Fixed holds the sorted indices of
// the atoms that cannot move (the FixAtoms constraint).
type Atoms struct {
	Symbols   []string
	Positions [][3]float64
	Tags      []int

	Cell  [3][3]float64
	PBC   [3]bool
	Fixed []int
}

// New returns an instance of Atoms with all tags set to 0. It returns an error
// if the lengths don't match or if a symbol is unknown.
func New(symbols []string, positions [][3]float64) (*Atoms, error) {
	if len(symbols) != len(positions) {
		return nil, fmt.Errorf("%d symbols but %d positions", len(symbols), len(positions))
	}
	for _, s := range symbols {
		if !Known(s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownElement, s)
		}
	}

	a := &Atoms{
		Symbols:   append([]string(nil), symbols...),
		Positions: append([][3]float64(nil), positions...),
		Tags:      make([]int, len(symbols)),
	}
	return a, nil
}

// Len returns the number of atoms.
func (a *Atoms) Len() int {
	return len(a.Symbols)
}

// Copy returns a deep copy.
func (a *Atoms) Copy() *Atoms {
	return &Atoms{
		Symbols:   append([]string(nil), a.Symbols...),
		Positions: append([][3]float64(nil), a.Positions...),
		Tags:      append([]int(nil), a.Tags...),
		Cell:      a.Cell,
		PBC:       a.PBC,
		Fixed:     append([]int(nil), a.Fixed...),
	}
}

// Extend appends the atoms of o. The cell of a is kept and the constraints of
// o are shifted to the new indices.
func (a *Atoms) Extend(o *Atoms) {
	n := a.Len()
	a.Symbols = append(a.Symbols, o.Symbols...)
	a.Positions = append(a.Positions, o.Positions...)
	a.Tags = append(a.Tags, o.Tags...)
	for _, i := range o.Fixed {
		a.Fixed = append(a.Fixed, i+n)
	}
}

// Translate moves every atom by v.
func (a *Atoms) Translate(v [3]float64) {
	for i := range a.Positions {
		for k := 0; k < 3; k++ {
			a.Positions[i][k] += v[k]
		}
	}
}

// Centroid returns the geometric center of the atoms.
func (a *Atoms) Centroid() [3]float64 {
	var c [3]float64
	if a.Len() == 0 {
		return c
	}
	for _, p := range a.Positions {
		for k := 0; k < 3; k++ {
			c[k] += p[k]
		}
	}
	for k := 0; k < 3; k++ {
		c[k] /= float64(a.Len())
	}
	return c
}

// Center moves the centroid to the origin.
func (a *Atoms) Center() {
	c := a.Centroid()
	a.Translate([3]float64{-c[0], -c[1], -c[2]})
}

// RotateY rotates the atoms by deg degrees around the y axis passing through
// the origin.
func (a *Atoms) RotateY(deg float64) {
	sin, cos := math.Sincos(deg * math.Pi / 180)
	for i, p := range a.Positions {
		a.Positions[i][0] = cos*p[0] + sin*p[2]
		a.Positions[i][2] = -sin*p[0] + cos*p[2]
	}
}

// Bounds returns the smallest and the largest coordinate along axis k.
func (a *Atoms) Bounds(k int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range a.Positions {
		lo = math.Min(lo, p[k])
		hi = math.Max(hi, p[k])
	}
	return
}

// Fix adds indices to the FixAtoms constraint.
func (a *Atoms) Fix(indices ...int) {
	for _, i := range indices {
		if !a.IsFixed(i) {
			a.Fixed = append(a.Fixed, i)
		}
	}
	sort.Ints(a.Fixed)
}

// FixTagged fixes every atom having the specified tag.
func (a *Atoms) FixTagged(tag int) {
	for i, t := range a.Tags {
		if t == tag {
			a.Fix(i)
		}
	}
}

// IsFixed reports whether atom i is constrained.
func (a *Atoms) IsFixed(i int) bool {
	for _, f := range a.Fixed {
		if f == i {
			return true
		}
	}
	return false
}

// Distance returns the distance between the atoms i and j. If mic is true the
// minimum image convention is applied along the periodic directions.
func (a *Atoms) Distance(i, j int, mic bool) float64 {
	d := sub(a.Positions[j], a.Positions[i])
	if mic {
		d = NewMIC(a.Cell, a.PBC).Vector(d)
	}
	return norm(d)
}

// MIC applies the minimum image convention for a given cell. Building it once
// avoids inverting the cell for every pair.
type MIC struct {
	cell [3][3]float64
	inv  *mat.Dense
	pbc  [3]bool
}

// NewMIC returns the minimum image helper of cell. The missing vectors of the
// cell are completed first (see CompleteCell). If the cell still cannot be
// inverted, Vector returns its argument unchanged.
func NewMIC(cell [3][3]float64, pbc [3]bool) *MIC {
	cell = CompleteCell(cell)
	m := &MIC{cell: cell, pbc: pbc}

	c := mat.NewDense(3, 3, []float64{
		cell[0][0], cell[0][1], cell[0][2],
		cell[1][0], cell[1][1], cell[1][2],
		cell[2][0], cell[2][1], cell[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(c); err == nil {
		m.inv = &inv
	}
	return m
}

// Vector returns the shortest periodic image of the displacement d.
func (m *MIC) Vector(d [3]float64) [3]float64 {
	if m.inv == nil || (!m.pbc[0] && !m.pbc[1] && !m.pbc[2]) {
		return d
	}

	// Fractional coordinates of d, then wrapped into [-0.5, 0.5]
	var f [3]float64
	for k := 0; k < 3; k++ {
		for i := 0; i < 3; i++ {
			f[k] += d[i] * m.inv.At(i, k)
		}
		if m.pbc[k] {
			f[k] -= math.Round(f[k])
		}
	}

	var base [3]float64
	for k := 0; k < 3; k++ {
		for i := 0; i < 3; i++ {
			base[k] += f[i] * m.cell[i][k]
		}
	}

	// Rounding is only exact for orthogonal cells, so the neighbouring images
	// are also checked.
	var span [3]int
	for k := 0; k < 3; k++ {
		if m.pbc[k] {
			span[k] = 1
		}
	}

	best, bestLen := base, norm(base)
	for n0 := -span[0]; n0 <= span[0]; n0++ {
		for n1 := -span[1]; n1 <= span[1]; n1++ {
			for n2 := -span[2]; n2 <= span[2]; n2++ {
				var v [3]float64
				for k := 0; k < 3; k++ {
					v[k] = base[k] + float64(n0)*m.cell[0][k] + float64(n1)*m.cell[1][k] + float64(n2)*m.cell[2][k]
				}
				if l := norm(v); l < bestLen {
					best, bestLen = v, l
				}
			}
		}
	}

	return best
}

// CompleteCell replaces the null vectors of cell by unit vectors orthogonal
// to the other ones. A slab of a single plane without vacuum has no third
// vector, for instance.
func CompleteCell(cell [3][3]float64) [3][3]float64 {
	const eps = 1e-10

	for i := 0; i < 3; i++ {
		if norm(cell[i]) > eps {
			continue
		}

		j, k := (i+1)%3, (i+2)%3
		if c := cross(cell[j], cell[k]); norm(c) > eps {
			n := norm(c)
			cell[i] = [3]float64{c[0] / n, c[1] / n, c[2] / n}
			continue
		}

		// At most one other vector is set, take the axis the most
		// orthogonal to it
		ref := cell[j]
		if norm(ref) <= eps {
			ref = cell[k]
		}
		best := 0
		for e := 1; e < 3; e++ {
			if math.Abs(ref[e]) < math.Abs(ref[best]) {
				best = e
			}
		}
		cell[i] = [3]float64{}
		cell[i][best] = 1
	}

	return cell
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Norm returns the euclidean norm of v.
func Norm(v [3]float64) float64 {
	return norm(v)
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
