package build

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/cfg"
)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Facet:              cfg.F111,
		MetalName:          "Pt",
		A:                  3.97,
		MetalLayers:        4,
		Cation:             "Na",
		LayerOfCation:      2,
		Dimensions:         []int{3, 3},
		WaterLayers:        2,
		WaterPerLayer:      4,
		WaterLayerDistance: 2.5,
		Vacuum:             8,
		CutoffFraction:     0.5,
		Seed:               1,
		MaxRotations:       cfg.DefaultMaxRotations,
		MaxAttempts:        cfg.DefaultMaxAttempts,
	}
}

func countFixed(s *atoms.Atoms) int {
	var fixed int
	for _, tag := range s.Tags {
		if tag == TagFixed {
			fixed++
		}
	}
	return fixed
}

// planes returns the sorted distinct heights of the atoms.
func planes(s *atoms.Atoms) []float64 {
	var zs []float64
	for _, p := range s.Positions {
		found := false
		for _, z := range zs {
			if math.Abs(z-p[2]) < 1e-6 {
				found = true
				break
			}
		}
		if !found {
			zs = append(zs, p[2])
		}
	}
	sort.Float64s(zs)
	return zs
}

func TestSlab(t *testing.T) {
	a := 3.97
	tests := map[string]struct {
		facet   cfg.Facet
		a1, a2  float64
		planes  int
		spacing float64
	}{
		"100": {cfg.F100, 3 * a, 3 * a, 8, a / 2},
		"110": {cfg.F110, 3 * a * math.Sqrt2, 3 * a, 8, a / (2 * math.Sqrt2)},
		"111": {cfg.F111, 3 * a * math.Sqrt2, 3 * a * math.Sqrt2, 4, a / math.Sqrt(3)},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := Slab("Pt", tt.facet, a, 4, 3, 3, 8)
			require.NoError(t, err)

			// 4 atoms per conventional cell
			require.Equal(t, 144, s.Len())
			assert.InDelta(t, tt.a1, atoms.Norm(s.Cell[0]), 1e-9)
			assert.InDelta(t, tt.a2, atoms.Norm(s.Cell[1]), 1e-9)
			assert.Equal(t, [3]bool{true, true, false}, s.PBC)

			zs := planes(s)
			require.Len(t, zs, tt.planes)
			for i := range zs {
				assert.InDelta(t, float64(i)*tt.spacing, zs[i], 1e-9)
			}
			thickness := zs[len(zs)-1]
			assert.InDelta(t, thickness+16, s.Cell[2][2], 1e-9)

			// Same number of atoms in each plane, the lower half is fixed
			assert.Equal(t, 72, countFixed(s))
			for i := 0; i < s.Len(); i++ {
				fixed := s.Tags[i] == TagFixed
				assert.Equal(t, s.Positions[i][2] < thickness/2, fixed)
			}

			// Every atom of a fcc crystal has its nearest neighbours at
			// a/sqrt(2), and 12 of them in the bulk
			nn := a / math.Sqrt2
			for i := 0; i < s.Len(); i++ {
				closest := math.Inf(1)
				for j := 0; j < s.Len(); j++ {
					if i != j {
						closest = math.Min(closest, s.Distance(i, j, true))
					}
				}
				assert.InDelta(t, nn, closest, 1e-9)
			}

			top := Top(s)
			assert.InDelta(t, thickness, s.Positions[top][2], 1e-12)
		})
	}
}

func TestSlab110Rows(t *testing.T) {
	a := 4.0
	s, err := Slab("Pt", cfg.F110, a, 1, 1, 1, 5)
	require.NoError(t, err)
	require.Equal(t, 4, s.Len())

	// Two atoms per plane along x, the upper plane shifted by half a row
	zs := planes(s)
	require.Len(t, zs, 2)
	var low, high [][3]float64
	for _, p := range s.Positions {
		if p[2] < 1e-9 {
			low = append(low, p)
		} else {
			high = append(high, p)
		}
	}
	require.Len(t, low, 2)
	require.Len(t, high, 2)
	assert.InDelta(t, a/math.Sqrt2, math.Abs(low[1][0]-low[0][0]), 1e-12)
	assert.InDelta(t, low[0][1]+a/2, high[0][1], 1e-12)
	assert.InDelta(t, low[0][0]+a/(2*math.Sqrt2), high[0][0], 1e-12)
	assert.InDelta(t, a/(2*math.Sqrt2), high[0][2], 1e-12)
}

func TestSlabOddPlanes(t *testing.T) {
	// 3 planes: the middle one lies on the mean height and stays free
	s, err := Slab("Pt", cfg.F111, 3.97, 3, 2, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 48, s.Len())
	assert.Equal(t, 16, countFixed(s))
}

func TestSlabUnsupportedFacet(t *testing.T) {
	_, err := Slab("Pt", "211", 3.97, 4, 3, 3, 5)
	assert.Error(t, err)
}

// molecule returns the index of the molecule of each atom added after metal.
// Waters are written as O H H, a cation is alone.
func molecule(s *atoms.Atoms, metal int) []int {
	owner := make([]int, s.Len()-metal)
	m := -1
	for i := metal; i < s.Len(); i++ {
		if s.Symbols[i] != "H" {
			m++
		}
		owner[i-metal] = m
	}
	return owner
}

func TestGenerate(t *testing.T) {
	c := testCfg()
	g := New(c, zaptest.NewLogger(t))

	s, err := g.Generate()
	require.NoError(t, err)

	// 144 metal atoms, 7 waters and one cation
	const metal = 144
	require.Equal(t, metal+7*3+1, s.Len())
	assert.Equal(t, [3]bool{true, true, true}, s.PBC)
	assert.Len(t, s.Fixed, 72)

	var cations int
	for _, sym := range s.Symbols {
		if sym == "Na" {
			cations++
		}
	}
	assert.Equal(t, 1, cations)

	// Every pair involving a new atom respects the minimum distance, except
	// the pairs inside one molecule
	owner := molecule(s, metal)
	assert.Equal(t, 7, owner[len(owner)-1])
	mic := atoms.NewMIC(s.Cell, [3]bool{true, true, false})
	var crossPairs int
	for i := metal; i < s.Len(); i++ {
		for j := 0; j < i; j++ {
			if j >= metal && owner[j-metal] == owner[i-metal] {
				continue
			}
			if j >= metal {
				crossPairs++
			}

			ri, _ := atoms.CovalentRadius(s.Symbols[i])
			rj, _ := atoms.CovalentRadius(s.Symbols[j])
			var d [3]float64
			for k := 0; k < 3; k++ {
				d[k] = s.Positions[j][k] - s.Positions[i][k]
			}
			assert.GreaterOrEqual(t, atoms.Norm(mic.Vector(d)), c.CutoffFraction*(ri+rj),
				"atoms %d (%s) and %d (%s)", i, s.Symbols[i], j, s.Symbols[j])
		}
	}
	assert.Positive(t, crossPairs)

	// The water is above the metal
	_, metalTop := (&atoms.Atoms{Positions: s.Positions[:metal]}).Bounds(2)
	for i := metal; i < s.Len(); i++ {
		assert.Greater(t, s.Positions[i][2], metalTop)
	}
}

func TestAcceptRejectsCloseMolecules(t *testing.T) {
	c := testCfg()
	g := New(c, zaptest.NewLogger(t))
	require.NoError(t, g.createSurface())

	start := g.surface.Len()
	na, err := atoms.New([]string{"Na"}, [][3]float64{{0, 0, 0}})
	require.NoError(t, err)
	mols := []*atoms.Atoms{Water(), na}
	z := g.zMin

	// The cation 5 A away from the water is accepted, 0.3 A away it is not
	cand, owner := g.place(mols, []float64{4, 9}, []float64{4, 4}, z)
	ok, err := g.accept(cand, start, owner)
	require.NoError(t, err)
	assert.True(t, ok)

	cand, owner = g.place(mols, []float64{4, 4.3}, []float64{4, 4}, z)
	ok, err = g.accept(cand, start, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	// With a cutoff of the sum of the radii, O-H would be too close, but the
	// atoms of one molecule are not checked against each other
	c.CutoffFraction = 1
	cand, owner = g.place(mols[:1], []float64{4}, []float64{4}, z)
	ok, err = g.accept(cand, start, owner)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateIsReproducible(t *testing.T) {
	a, err := New(testCfg(), zaptest.NewLogger(t)).Generate()
	require.NoError(t, err)
	b, err := New(testCfg(), zaptest.NewLogger(t)).Generate()
	require.NoError(t, err)
	assert.Equal(t, a.Positions, b.Positions)
}

func TestGenerateCO2(t *testing.T) {
	c := testCfg()
	c.Adsorbate = cfg.ACO2

	s, err := New(c, zaptest.NewLogger(t)).Generate()
	require.NoError(t, err)
	require.Equal(t, 144+3+7*3+1, s.Len())

	assert.Equal(t, []string{"C", "O", "O"}, s.Symbols[144:147])
	for i := 144; i < 147; i++ {
		assert.True(t, s.IsFixed(i))
	}
}

func TestGenerateTooManyIterations(t *testing.T) {
	c := testCfg()
	c.Dimensions = []int{2, 2}
	c.WaterPerLayer = 60
	c.CutoffFraction = 1
	c.MaxRotations = 2
	c.MaxAttempts = 4

	_, err := New(c, zaptest.NewLogger(t)).Generate()
	assert.True(t, errors.Is(err, ErrTooManyIterations))
}

func TestWrite(t *testing.T) {
	c := testCfg()
	g := New(c, zaptest.NewLogger(t))
	s, err := g.Generate()
	require.NoError(t, err)

	dir := t.TempDir()
	folder, err := g.Write(dir, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, c.State(1), PreRelaxation), folder)
	assert.FileExists(t, filepath.Join(folder, XYZFile))
	assert.FileExists(t, filepath.Join(folder, POSCARFile))

	folder, err = g.Write(dir, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, c.State(2), PreRelaxation), folder)

	b, err := os.ReadFile(filepath.Join(folder, POSCARFile))
	require.NoError(t, err)
	assert.Contains(t, string(b), "Selective dynamics")
}
