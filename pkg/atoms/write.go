package atoms

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteXYZ writes the atoms in the extended XYZ format.
func (a *Atoms) WriteXYZ(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, a.Len())

	var lattice []string
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			lattice = append(lattice, strconv.FormatFloat(a.Cell[i][k], 'f', 8, 64))
		}
	}
	pbc := make([]string, 3)
	for k := 0; k < 3; k++ {
		pbc[k] = "F"
		if a.PBC[k] {
			pbc[k] = "T"
		}
	}
	fmt.Fprintf(bw, "Lattice=\"%s\" Properties=species:S:1:pos:R:3:tags:I:1 pbc=\"%s\"\n",
		strings.Join(lattice, " "), strings.Join(pbc, " "))

	for i, s := range a.Symbols {
		p := a.Positions[i]
		fmt.Fprintf(bw, "%-2s %16.8f %16.8f %16.8f %d\n", s, p[0], p[1], p[2], a.Tags[i])
	}

	return bw.Flush()
}

// WritePOSCAR writes the atoms in the VASP POSCAR format with cartesian
// coordinates. Atoms are grouped by species in order of first appearance. If
// at least one atom is fixed, selective dynamics is switched on.
func (a *Atoms) WritePOSCAR(w io.Writer) error {
	bw := bufio.NewWriter(w)

	var species []string
	groups := make(map[string][]int)
	for i, s := range a.Symbols {
		if _, ok := groups[s]; !ok {
			species = append(species, s)
		}
		groups[s] = append(groups[s], i)
	}

	var comment, counts strings.Builder
	for _, s := range species {
		fmt.Fprintf(&comment, "%s%d", s, len(groups[s]))
		fmt.Fprintf(&counts, " %d", len(groups[s]))
	}

	fmt.Fprintln(bw, comment.String())
	fmt.Fprintln(bw, "1.0")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(bw, " %16.10f %16.10f %16.10f\n", a.Cell[i][0], a.Cell[i][1], a.Cell[i][2])
	}
	fmt.Fprintln(bw, " "+strings.Join(species, " "))
	fmt.Fprintln(bw, counts.String())

	selective := len(a.Fixed) > 0
	if selective {
		fmt.Fprintln(bw, "Selective dynamics")
	}
	fmt.Fprintln(bw, "Cartesian")

	for _, s := range species {
		for _, i := range groups[s] {
			p := a.Positions[i]
			fmt.Fprintf(bw, " %16.10f %16.10f %16.10f", p[0], p[1], p[2])
			if selective {
				if a.IsFixed(i) {
					fmt.Fprint(bw, "   F   F   F")
				} else {
					fmt.Fprint(bw, "   T   T   T")
				}
			}
			fmt.Fprintln(bw)
		}
	}

	return bw.Flush()
}

// WriteFile creates path and writes the atoms into it with fn (e.g.
// (*Atoms).WriteXYZ).
func WriteFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	err = fn(f)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
