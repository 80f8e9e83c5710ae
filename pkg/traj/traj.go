// Package traj defines the frames read from the output files of a simulation.
// Each supported format has its own subpackage.
package traj

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/kpotier/aimd/pkg/atoms"
)

// Errors returned by the readers. ErrTruncated comes with the frames read
// before the end of the file.
var (
	ErrUnsupported = errors.New("unsupported trajectory type")
	ErrTruncated   = errors.New("truncated trajectory")
)

// Type is the type of the trajectory
type Type string

// Here are the accepted types. TVasprun is the vasprun.xml file written by
// VASP. TOutcar is the OUTCAR file written by VASP.
var (
	TVasprun Type = "vasprun"
	TOutcar  Type = "outcar"
)

// TypeOf guesses the type of a trajectory from its file name.
func TypeOf(path string) (Type, error) {
	name := filepath.Base(path)
	switch {
	case strings.HasPrefix(name, "vasprun") && strings.Contains(name, ".xml"):
		return TVasprun, nil
	case strings.HasPrefix(name, "OUTCAR"):
		return TOutcar, nil
	}
	return "", ErrUnsupported
}

// Frame is one ionic step. The quantities that are not available in the file
// are nil.
type Frame struct {
	Atoms *atoms.Atoms

	Energy     *float64
	FreeEnergy *float64
	Forces     [][3]float64
	Dipole     *[3]float64
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
