package msd

import (
	"fmt"

	"github.com/kpotier/aimd/pkg/atoms"
)

// Unwrap removes the jumps across the periodic boundaries. Each displacement
// between two consecutive configurations is replaced by its minimum image in
// the cell of the later one. cfgs is modified in place.
func Unwrap(cfgs [][][3]float64, mics []*atoms.MIC) error {
	if len(cfgs) != len(mics) {
		return fmt.Errorf("%d configurations for %d cells", len(cfgs), len(mics))
	}
	if len(cfgs) == 0 {
		return nil
	}

	last := make([][3]float64, len(cfgs[0])) // Last wrapped configuration
	copy(last, cfgs[0])

	for c := 1; c < len(cfgs); c++ {
		if len(cfgs[c]) != len(last) {
			return fmt.Errorf("configuration %d: %d atoms instead of %d", c, len(cfgs[c]), len(last))
		}

		for a := range cfgs[c] {
			raw := cfgs[c][a]

			var d [3]float64
			for k := 0; k < 3; k++ {
				d[k] = raw[k] - last[a][k]
			}
			d = mics[c].Vector(d)

			for k := 0; k < 3; k++ {
				cfgs[c][a][k] = cfgs[c-1][a][k] + d[k]
			}
			last[a] = raw
		}
	}

	return nil
}
