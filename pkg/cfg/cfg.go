package cfg

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/kpotier/aimd/pkg/atoms"

	"gopkg.in/yaml.v3"
)

// Facet is the Miller index of the surface, written as digits (e.g. "111").
type Facet string

// Here are the accepted facets of a fcc metal.
var (
	F100 Facet = "100"
	F110 Facet = "110"
	F111 Facet = "111"
)

// Adsorbate is the molecule put on top of the surface before the water.
type Adsorbate string

// Here are the accepted adsorbates. ANone means that there is no adsorbate.
var (
	ANone Adsorbate = ""
	ACO2  Adsorbate = "CO2"
)

// Default values of the retry loop.
const (
	DefaultMaxRotations = 100
	DefaultMaxAttempts  = 200
)

// Cfg is a structure containing the parameters specified in the configuration
// file of the structure generator. It can be instanced through the New method
// or by "hand". If it is instanced by hand, please use the Check method to
// check if the Cfg meets the requirements.
type Cfg struct {
	// Facet of the metal surface
	Facet Facet `yaml:"facet"`

	// MetalName is the chemical symbol of the metal (e.g: Pt)
	MetalName string `yaml:"metal_name"`

	// A is the lattice constant of the fcc metal in angstrom
	A float64 `yaml:"a"`

	// MetalLayers is the number of layers of the slab
	MetalLayers int `yaml:"metal_layers"`

	// Cation is the chemical symbol of the cation (e.g: Na)
	Cation string `yaml:"cation"`

	// LayerOfCation is the water layer containing the cation. It starts at 1
	LayerOfCation int `yaml:"layer_of_cation"`

	// Dimensions is the repetition of the surface cell along x and y
	Dimensions []int `yaml:"dimensions"`

	// WaterLayers is the number of water layers
	WaterLayers int `yaml:"water_layers"`

	// WaterPerLayer is the number of molecules in one water layer, the cation
	// included
	WaterPerLayer int `yaml:"water_per_layer"`

	// WaterLayerDistance is the distance between two water layers in angstrom
	WaterLayerDistance float64 `yaml:"water_layer_distance"`

	// Vacuum is added on both sides of the slab. It matters for the dipole
	// correction
	Vacuum float64 `yaml:"vacuum"`

	// CutoffFraction lowers the sum of the covalent radii used as minimum
	// distance between two atoms
	CutoffFraction float64 `yaml:"cutoff_fraction"`

	// Adsorbate is optional
	Adsorbate Adsorbate `yaml:"adsorbate"`

	// Seed of the random generator. 0 means that the seed depends on the time
	Seed uint64 `yaml:"seed"`

	// MaxRotations is the number of rejected placements after which new xy
	// positions are drawn
	MaxRotations int `yaml:"max_rotations"`

	// MaxAttempts is the number of rejected placements after which the
	// generation stops
	MaxAttempts int `yaml:"max_attempts"`
}

// New opens and decodes the specified configuration file. The file must be
// a YAML file. Unknown keys are rejected. This method automatically calls the
// Check method to check the integrity of Cfg.
func New(path string) (*Cfg, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := Cfg{MaxRotations: DefaultMaxRotations, MaxAttempts: DefaultMaxAttempts}
	r := bufio.NewReader(f)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err = dec.Decode(&c)
	if err != nil {
		return nil, err
	}

	err = c.Check()
	if err != nil {
		return nil, fmt.Errorf("Check: %w", err)
	}

	return &c, nil
}

// Check checks if Cfg is correct. It returns an error if a field doesn't meet
// the requirements.
func (c *Cfg) Check() error {
	switch c.Facet {
	case F100, F110, F111:
	default:
		return fmt.Errorf("unsupported facet %q", c.Facet)
	}

	if !atoms.Known(c.MetalName) {
		return fmt.Errorf("metal_name: %w: %q", atoms.ErrUnknownElement, c.MetalName)
	}

	if !atoms.Known(c.Cation) {
		return fmt.Errorf("cation: %w: %q", atoms.ErrUnknownElement, c.Cation)
	}

	if c.A <= 0 {
		return fmt.Errorf("a must be greater than 0")
	}

	if c.MetalLayers <= 0 {
		return fmt.Errorf("metal_layers must be greater than 0")
	}

	if len(c.Dimensions) != 2 || c.Dimensions[0] <= 0 || c.Dimensions[1] <= 0 {
		return fmt.Errorf("dimensions must contain two numbers greater than 0")
	}

	if c.WaterLayers <= 0 || c.WaterPerLayer <= 0 {
		return fmt.Errorf("water_layers and water_per_layer must be greater than 0")
	}

	if c.LayerOfCation < 1 || c.LayerOfCation > c.WaterLayers {
		return fmt.Errorf("layer_of_cation must be between 1 and water_layers")
	}

	if c.WaterLayerDistance <= 0 {
		return fmt.Errorf("water_layer_distance must be greater than 0")
	}

	if c.Vacuum < 0 {
		return fmt.Errorf("vacuum cannot be lower than 0")
	}

	if c.CutoffFraction <= 0 || c.CutoffFraction > 1 {
		return fmt.Errorf("cutoff_fraction must be in ]0, 1]")
	}

	switch c.Adsorbate {
	case ANone, ACO2:
	default:
		return fmt.Errorf("unsupported adsorbate %q", c.Adsorbate)
	}

	if c.MaxRotations < 0 || c.MaxAttempts < c.MaxRotations {
		return fmt.Errorf("max_attempts must be greater or equal to max_rotations")
	}

	return nil
}

// Waters returns the number of water molecules of the generated structure.
func (c *Cfg) Waters() int {
	return c.WaterLayers*c.WaterPerLayer - 1
}

// State returns the name of the folder of the index-th structure generated
// with this configuration.
func (c *Cfg) State(index int) string {
	metal := c.MetalName
	if c.Adsorbate != ANone {
		metal += "_" + string(c.Adsorbate)
	}

	return fmt.Sprint(metal, "_", c.Facet, "_", c.Cation, "_",
		c.Dimensions[0], "x", c.Dimensions[1], "_cationlayer_",
		c.LayerOfCation, "_", c.Waters(), "w_", strconv.Itoa(index))
}
