// Package vasprun reads the ionic steps of a vasprun.xml file.
package vasprun

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/traj"
)

type item struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type varray struct {
	Name string   `xml:"name,attr"`
	V    []string `xml:"v"`
}

type atominfo struct {
	Arrays []struct {
		Name string `xml:"name,attr"`
		Rows []struct {
			C []string `xml:"c"`
		} `xml:"set>rc"`
	} `xml:"array"`
}

type energy struct {
	I []item `xml:"i"`
}

type dipole struct {
	V []item `xml:"v"`
}

type scstep struct {
	Energy energy `xml:"energy"`
	Dipole dipole `xml:"dipole"`
}

type calculation struct {
	Scsteps   []scstep `xml:"scstep"`
	Structure struct {
		Crystal struct {
			Varrays []varray `xml:"varray"`
		} `xml:"crystal"`
		Varrays []varray `xml:"varray"`
	} `xml:"structure"`
	Varrays []varray `xml:"varray"`
	Energy  energy   `xml:"energy"`
	Dipole  dipole   `xml:"dipole"`
	V       []item   `xml:"v"`
}

// Read reads every calculation of a vasprun.xml. If the file is truncated, the
// frames completed so far are returned with the error.
func Read(r io.Reader) ([]traj.Frame, error) {
	var (
		frames  []traj.Frame
		symbols []string
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return frames, truncated(err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "atominfo":
			var ai atominfo
			err = dec.DecodeElement(&ai, &se)
			if err != nil {
				return frames, fmt.Errorf("atominfo: %w", err)
			}
			symbols = species(ai)
		case "calculation":
			if symbols == nil {
				return frames, fmt.Errorf("calculation found before atominfo")
			}

			var c calculation
			err = dec.DecodeElement(&c, &se)
			if err != nil {
				return frames, fmt.Errorf("calculation %d: %w", len(frames), truncated(err))
			}

			f, err := frame(symbols, &c)
			if err != nil {
				return frames, fmt.Errorf("calculation %d: %w", len(frames), err)
			}
			frames = append(frames, f)
		}
	}

	return frames, nil
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

// truncated marks the errors due to an unexpected end of file. VASP writes
// vasprun.xml while running, so the file of an ongoing or killed run is not
// closed.
func truncated(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) && strings.Contains(se.Msg, "unexpected EOF") {
		return fmt.Errorf("%w: %v", traj.ErrTruncated, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", traj.ErrTruncated, err)
	}
	return err
}

func species(ai atominfo) []string {
	var symbols []string
	for _, a := range ai.Arrays {
		if a.Name != "atoms" {
			continue
		}
		for _, row := range a.Rows {
			if len(row.C) > 0 {
				symbols = append(symbols, strings.TrimSpace(row.C[0]))
			}
		}
	}
	return symbols
}

func frame(symbols []string, c *calculation) (traj.Frame, error) {
	var f traj.Frame

	basis, ok := find(c.Structure.Crystal.Varrays, "basis")
	if !ok || len(basis.V) != 3 {
		return f, fmt.Errorf("cannot find the basis")
	}

	var cell [3][3]float64
	for i := 0; i < 3; i++ {
		v, err := vector(basis.V[i])
		if err != nil {
			return f, fmt.Errorf("basis: %w", err)
		}
		cell[i] = v
	}

	pos, ok := find(c.Structure.Varrays, "positions")
	if !ok {
		return f, fmt.Errorf("cannot find the positions")
	}
	if len(pos.V) != len(symbols) {
		return f, fmt.Errorf("%d positions for %d atoms", len(pos.V), len(symbols))
	}

	positions := make([][3]float64, len(symbols))
	for i, s := range pos.V {
		frac, err := vector(s)
		if err != nil {
			return f, fmt.Errorf("positions: %w", err)
		}
		for k := 0; k < 3; k++ {
			positions[i][k] = frac[0]*cell[0][k] + frac[1]*cell[1][k] + frac[2]*cell[2][k]
		}
	}

	a, err := atoms.New(symbols, positions)
	if err != nil {
		return f, err
	}
	a.Cell = cell
	a.PBC = [3]bool{true, true, true}
	f.Atoms = a

	if forces, ok := find(c.Varrays, "forces"); ok && len(forces.V) == len(symbols) {
		f.Forces = make([][3]float64, len(symbols))
		for i, s := range forces.V {
			f.Forces[i], err = vector(s)
			if err != nil {
				return f, fmt.Errorf("forces: %w", err)
			}
		}
	}

	total := values(c.Energy.I)
	fr, hasFr := total["e_fr_energy"]

	var last *scstep
	if len(c.Scsteps) > 0 {
		last = &c.Scsteps[len(c.Scsteps)-1]
	}

	// The energy is the free energy corrected by the sigma->0 extrapolation
	// of the last electronic step.
	var sc map[string]float64
	if last != nil {
		sc = values(last.Energy.I)
	}
	e0, okE0 := sc["e_0_energy"]
	scFr, okFr := sc["e_fr_energy"]
	switch {
	case okE0 && okFr:
		if !hasFr {
			fr, hasFr = scFr, true
		}
		f.Energy = traj.Float(fr + e0 - scFr)
	case has(total, "e_0_energy"):
		f.Energy = traj.Float(total["e_0_energy"])
	case has(total, "e_wo_entrp"):
		f.Energy = traj.Float(total["e_wo_entrp"])
	}
	if hasFr {
		f.FreeEnergy = traj.Float(fr)
	}

	// The dipole is written in the electronic steps. Older files carry it
	// at the end of the calculation, sometimes outside of a dipole block.
	candidates := [][]item{c.Dipole.V, c.V}
	if last != nil {
		candidates = append([][]item{last.Dipole.V}, candidates...)
	}
	for _, vs := range candidates {
		d, ok, err := dipoleOf(vs)
		if err != nil {
			return f, fmt.Errorf("dipole: %w", err)
		}
		if ok {
			f.Dipole = &d
			break
		}
	}

	return f, nil
}

func values(items []item) map[string]float64 {
	m := make(map[string]float64)
	for _, i := range items {
		v, err := strconv.ParseFloat(strings.TrimSpace(i.Value), 64)
		if err != nil {
			continue
		}
		m[i.Name] = v
	}
	return m
}

func has(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

func dipoleOf(vs []item) ([3]float64, bool, error) {
	for _, v := range vs {
		if v.Name != "dipole" {
			continue
		}
		d, err := vector(v.Value)
		return d, true, err
	}
	return [3]float64{}, false, nil
}

func find(vs []varray, name string) (varray, bool) {
	for _, v := range vs {
		if v.Name == name {
			return v, true
		}
	}
	return varray{}, false
}

func vector(s string) ([3]float64, error) {
	var v [3]float64

	fields := strings.Fields(s)
	if len(fields) != 3 {
		return v, fmt.Errorf("expected 3 numbers, got %q", s)
	}

	for k := 0; k < 3; k++ {
		var err error
		v[k], err = strconv.ParseFloat(fields[k], 64)
		if err != nil {
			return v, err
		}
	}

	return v, nil
}
