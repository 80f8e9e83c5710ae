package build

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/cfg"
)

// ErrTooManyIterations is returned when no layer satisfying the minimum
// distances was found within the allowed number of attempts.
var ErrTooManyIterations = errors.New("too many iterations")

// Folder and files written by Write.
const (
	PreRelaxation = "pre_relaxation"
	XYZFile       = "pre_relaxation.xyz"
	POSCARFile    = "POSCAR"
)

// Water returns a water molecule (same geometry as the H2O molecule of ASE).
func Water() *atoms.Atoms {
	w, _ := atoms.New([]string{"O", "H", "H"}, [][3]float64{
		{0, 0, 0.119262},
		{0, 0.763239, -0.477047},
		{0, -0.763239, -0.477047},
	})
	return w
}

// CO2 returns a slightly bent CO2 molecule, the carbon being the first atom.
func CO2() *atoms.Atoms {
	m, _ := atoms.New([]string{"C", "O", "O"}, [][3]float64{
		{0.00042955, 10.69278681, 10.02427761},
		{0.03581859, 9.53396647, 10.43134496},
		{-0.0347786, 11.85195424, 10.43097203},
	})
	return m
}

// Generator creates a metal slab covered by water layers, one of them
// containing a cation whose position is random.
type Generator struct {
	c   *cfg.Cfg
	rng *rand.Rand
	log *zap.Logger

	surface *atoms.Atoms
	top     int
	zMin    float64
}

// New returns an instance of Generator. If the seed of c is 0, the generator
// is seeded with the current time.
func New(c *cfg.Cfg, log *zap.Logger) *Generator {
	seed := c.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Generator{
		c:   c,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log: log,
	}
}

// Generate builds the structure. The returned atoms are periodic in the three
// directions and the atoms tagged with TagFixed are fixed.
func (g *Generator) Generate() (*atoms.Atoms, error) {
	err := g.createSurface()
	if err != nil {
		return nil, fmt.Errorf("createSurface: %w", err)
	}

	if g.c.Adsorbate == cfg.ACO2 {
		err = g.addCO2()
		if err != nil {
			return nil, fmt.Errorf("addCO2: %w", err)
		}
	}

	for layer := 1; layer <= g.c.WaterLayers; layer++ {
		err = g.addLayer(layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", layer, err)
		}
	}

	s := g.surface.Copy()
	s.FixTagged(TagFixed)
	s.PBC = [3]bool{true, true, true}

	return s, nil
}

func (g *Generator) createSurface() error {
	slab, err := Slab(g.c.MetalName, g.c.Facet, g.c.A, g.c.MetalLayers,
		g.c.Dimensions[0], g.c.Dimensions[1], g.c.Vacuum)
	if err != nil {
		return err
	}

	g.surface = slab
	g.top = Top(slab)

	r, err := atoms.CovalentRadius(g.c.MetalName)
	if err != nil {
		return err
	}
	_, hi := slab.Bounds(2)
	g.zMin = hi + r + g.c.WaterLayerDistance
	g.log.Info("Lowest possible water structure", zap.Float64("z", g.zMin))

	return nil
}

// addCO2 puts the carbon of CO2 above the highest metal atom.
func (g *Generator) addCO2() error {
	r, err := atoms.CovalentRadius(g.c.MetalName)
	if err != nil {
		return err
	}

	co2 := CO2()
	top := g.surface.Positions[g.top]
	c := co2.Positions[0]
	co2.Translate([3]float64{top[0] - c[0], top[1] - c[1], top[2] + r + 0.75 - c[2]})
	for i := range co2.Tags {
		co2.Tags[i] = TagFixed
	}

	g.surface.Extend(co2)
	return nil
}

// molecules returns the molecules of one layer. The cation replaces the last
// water molecule of its layer.
func (g *Generator) molecules(layer int) []*atoms.Atoms {
	n := g.c.WaterPerLayer
	mols := make([]*atoms.Atoms, n)
	for i := range mols {
		mols[i] = Water()
	}
	if layer == g.c.LayerOfCation {
		cation, _ := atoms.New([]string{g.c.Cation}, [][3]float64{{0, 0, 0}})
		mols[n-1] = cation
	}
	return mols
}

func (g *Generator) randomXY(n int) (x, y []float64) {
	lx := atoms.Norm(g.surface.Cell[0])
	ly := atoms.Norm(g.surface.Cell[1])
	x = make([]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = g.rng.Float64() * lx
	}
	for i := 0; i < n; i++ {
		y[i] = g.rng.Float64() * ly
	}
	return
}

// place returns a copy of the surface on which the molecules have been
// randomly rotated and put at (x, y, z). owner gives the molecule of each new
// atom.
func (g *Generator) place(mols []*atoms.Atoms, x, y []float64, z float64) (cand *atoms.Atoms, owner []int) {
	cand = g.surface.Copy()
	for j, mol := range mols {
		m := mol.Copy()
		m.Center()
		m.RotateY(g.rng.Float64() * 360)
		m.Translate([3]float64{x[j], y[j], z})
		cand.Extend(m)
		for range m.Symbols {
			owner = append(owner, j)
		}
	}
	return
}

// accept checks that the atoms added after start are not too close to any
// other atom. Pairs of atoms of the same molecule are ignored.
func (g *Generator) accept(cand *atoms.Atoms, start int, owner []int) (bool, error) {
	radii := make([]float64, cand.Len())
	for i, s := range cand.Symbols {
		r, err := atoms.CovalentRadius(s)
		if err != nil {
			return false, err
		}
		radii[i] = r
	}

	mic := atoms.NewMIC(cand.Cell, cand.PBC)
	for i := start; i < cand.Len(); i++ {
		for j := 0; j < i; j++ {
			if j >= start && owner[j-start] == owner[i-start] {
				continue
			}

			var d [3]float64
			for k := 0; k < 3; k++ {
				d[k] = cand.Positions[j][k] - cand.Positions[i][k]
			}
			if atoms.Norm(mic.Vector(d)) < g.c.CutoffFraction*(radii[i]+radii[j]) {
				return false, nil
			}
		}
	}

	return true, nil
}

// addLayer places one water layer. Rejected placements are first retried with
// new orientations, then with new xy positions.
func (g *Generator) addLayer(layer int) error {
	mols := g.molecules(layer)
	z := g.zMin + float64(layer-1)*g.c.WaterLayerDistance
	x, y := g.randomXY(len(mols))
	start := g.surface.Len()

	for it := 0; ; it++ {
		if it > g.c.MaxAttempts {
			return ErrTooManyIterations
		}
		if it > g.c.MaxRotations {
			x, y = g.randomXY(len(mols))
		}

		cand, owner := g.place(mols, x, y, z)
		ok, err := g.accept(cand, start, owner)
		if err != nil {
			return err
		}
		if ok {
			g.log.Info("Layer placed", zap.Int("layer", layer),
				zap.Float64("z", z), zap.Int("iterations", it))
			g.surface = cand
			return nil
		}

		g.log.Debug("Atoms too close, new attempt", zap.Int("layer", layer), zap.Int("iteration", it+1))
	}
}

// Write writes s into dir/<state>/pre_relaxation where state is the first
// unused state name of the configuration. It writes an extended XYZ file and a
// POSCAR. It returns the folder.
func (g *Generator) Write(dir string, s *atoms.Atoms) (string, error) {
	index := 1
	state := g.c.State(index)
	for {
		_, err := os.Stat(filepath.Join(dir, state))
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		index++
		state = g.c.State(index)
	}

	folder := filepath.Join(dir, state, PreRelaxation)
	err := os.MkdirAll(folder, 0o755)
	if err != nil {
		return "", err
	}

	err = atoms.WriteFile(filepath.Join(folder, XYZFile), s.WriteXYZ)
	if err != nil {
		return "", fmt.Errorf("WriteXYZ: %w", err)
	}

	err = atoms.WriteFile(filepath.Join(folder, POSCARFile), s.WritePOSCAR)
	if err != nil {
		return "", fmt.Errorf("WritePOSCAR: %w", err)
	}

	return folder, nil
}
