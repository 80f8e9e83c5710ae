package vasprun

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpotier/aimd/pkg/traj"
)

const head = `<?xml version="1.0" encoding="ISO-8859-1"?>
<modeling>
 <generator>
  <i name="program" type="string">vasp </i>
 </generator>
 <atominfo>
  <atoms>       3 </atoms>
  <types>       2 </types>
  <array name="atoms" >
   <dimension dim="1">ion</dimension>
   <field type="string">element</field>
   <field type="int">atomtype</field>
   <set>
    <rc><c>Pt</c><c>   1</c></rc>
    <rc><c>Pt</c><c>   1</c></rc>
    <rc><c>Na</c><c>   2</c></rc>
   </set>
  </array>
 </atominfo>
 <structure name="initialpos" >
  <crystal>
   <varray name="basis" >
    <v>      10.00000000       0.00000000       0.00000000 </v>
    <v>       0.00000000      10.00000000       0.00000000 </v>
    <v>       0.00000000       0.00000000      20.00000000 </v>
   </varray>
  </crystal>
  <varray name="positions" >
   <v>       0.00000000       0.00000000       0.00000000 </v>
   <v>       0.27700000       0.00000000       0.00000000 </v>
   <v>       0.10000000       0.10000000       0.25000000 </v>
  </varray>
 </structure>
`

const calc = ` <calculation>
  <scstep>
   <time name="dav">    1.00    1.00</time>
   <energy>
    <i name="alphaZ">     10.00000000 </i>
    <i name="e_fr_energy">    -99.00000000 </i>
    <i name="e_wo_entrp">    -99.00000000 </i>
    <i name="e_0_energy">    -98.00000000 </i>
   </energy>
   <dipole>
    <v name="dipole">       0.00000000       0.00000000      -9.00000000 </v>
    <v name="ion">       0.00000000       0.00000000       0.00000000 </v>
   </dipole>
  </scstep>
  <scstep>
   <time name="dav">    1.00    1.00</time>
   <energy>
    <i name="alphaZ">     10.00000000 </i>
    <i name="e_fr_energy">    FR </i>
    <i name="e_wo_entrp">    -20.40000000 </i>
    <i name="e_0_energy">    E0 </i>
   </energy>
   <dipole>
    <v name="dipole">       0.00000000       0.00000000      DZ </v>
    <v name="ion">       0.00000000       0.00000000       0.00000000 </v>
   </dipole>
  </scstep>
  <structure>
   <crystal>
    <varray name="basis" >
     <v>      10.00000000       0.00000000       0.00000000 </v>
     <v>       0.00000000      10.00000000       0.00000000 </v>
     <v>       0.00000000       0.00000000      20.00000000 </v>
    </varray>
    <i name="volume">   2000.00000000 </i>
   </crystal>
   <varray name="positions" >
    <v>       0.00000000       0.00000000       0.00000000 </v>
    <v>       0.27700000       0.00000000       0.00000000 </v>
    <v>       0.10000000       0.10000000       ZZ </v>
   </varray>
  </structure>
  <varray name="forces" >
   <v>       0.00000000       0.00000000      -0.01000000 </v>
   <v>       0.00000000       0.00000000      -0.01000000 </v>
   <v>       0.10000000       0.20000000       0.30000000 </v>
  </varray>
  <energy>
   <i name="e_fr_energy">    FR </i>
   <i name="e_wo_entrp">    -20.40000000 </i>
   <i name="e_0_energy">    FR </i>
  </energy>
 </calculation>
`

func makeCalc(z, fr, e0, dz string) string {
	return strings.NewReplacer("ZZ", z, "FR", fr, "E0", e0, "DZ", dz).Replace(calc)
}

// withoutScsteps removes the electronic steps of a calculation.
func withoutScsteps(c string) string {
	i := strings.Index(c, "  <scstep>")
	j := strings.LastIndex(c, "  </scstep>\n") + len("  </scstep>\n")
	return c[:i] + c[j:]
}

// atEnd inserts s at the end of a calculation.
func atEnd(c, s string) string {
	i := strings.LastIndex(c, " </calculation>")
	return c[:i] + s + c[i:]
}

func TestRead(t *testing.T) {
	content := head +
		makeCalc("0.25000000", "-20.50000000", "-20.45000000", "-0.25000000") +
		makeCalc("0.30000000", "-21.50000000", "-21.45000000", "-0.35000000") +
		"</modeling>\n"

	frames, err := Read(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, frames, 2)

	f := frames[0]
	assert.Equal(t, []string{"Pt", "Pt", "Na"}, f.Atoms.Symbols)
	assert.InDelta(t, 2.77, f.Atoms.Positions[1][0], 1e-12)
	assert.InDelta(t, 5.0, f.Atoms.Positions[2][2], 1e-12)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, f.Forces[2])
	require.NotNil(t, f.Energy)
	assert.InDelta(t, -20.45, *f.Energy, 1e-9)
	assert.Equal(t, -20.5, *f.FreeEnergy)
	require.NotNil(t, f.Dipole)
	assert.Equal(t, -0.25, f.Dipole[2])

	assert.InDelta(t, 6.0, frames[1].Atoms.Positions[2][2], 1e-12)
	assert.InDelta(t, -21.45, *frames[1].Energy, 1e-9)
}

func TestReadTruncated(t *testing.T) {
	second := makeCalc("0.30000000", "-21.50000000", "-21.45000000", "-0.35000000")
	content := head +
		makeCalc("0.25000000", "-20.50000000", "-20.45000000", "-0.25000000") +
		second[:len(second)/2]

	frames, err := Read(strings.NewReader(content))
	assert.ErrorIs(t, err, traj.ErrTruncated)
	assert.Len(t, frames, 1)
}

func TestReadEnergy(t *testing.T) {
	tests := map[string]struct {
		calc       string
		energy     float64
		freeEnergy float64
	}{
		"last scstep": {
			calc:       makeCalc("0.25000000", "-10.30000000", "-10.20000000", "-0.25000000"),
			energy:     -10.2,
			freeEnergy: -10.3,
		},
		"free energy of the calculation": {
			calc: strings.Replace(makeCalc("0.25000000", "-10.30000000", "-10.20000000", "-0.25000000"),
				"\n   <i name=\"e_fr_energy\">    -10.30000000 </i>",
				"\n   <i name=\"e_fr_energy\">    -10.40000000 </i>", 1),
			energy:     -10.3,
			freeEnergy: -10.4,
		},
		"no scstep": {
			calc:       withoutScsteps(makeCalc("0.25000000", "-10.30000000", "-10.20000000", "-0.25000000")),
			energy:     -10.3,
			freeEnergy: -10.3,
		},
		"no scstep nor e_0_energy": {
			calc: strings.Replace(withoutScsteps(makeCalc("0.25000000", "-10.30000000", "-10.20000000", "-0.25000000")),
				`   <i name="e_0_energy">    -10.30000000 </i>
`, "", 1),
			energy:     -20.4,
			freeEnergy: -10.3,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			frames, err := Read(strings.NewReader(head + tt.calc + "</modeling>\n"))
			require.NoError(t, err)
			require.Len(t, frames, 1)
			require.NotNil(t, frames[0].Energy)
			assert.InDelta(t, tt.energy, *frames[0].Energy, 1e-9)
			require.NotNil(t, frames[0].FreeEnergy)
			assert.InDelta(t, tt.freeEnergy, *frames[0].FreeEnergy, 1e-9)
		})
	}
}

func TestReadDipole(t *testing.T) {
	bare := withoutScsteps(makeCalc("0.25000000", "-20.50000000", "-20.45000000", "-0.25000000"))

	tests := map[string]struct {
		calc string
		want *[3]float64
	}{
		"last scstep": {
			calc: makeCalc("0.25000000", "-20.50000000", "-20.45000000", "-0.25000000"),
			want: &[3]float64{0, 0, -0.25},
		},
		"dipole block of the calculation": {
			calc: atEnd(bare, `  <dipole>
   <v name="dipole">       0.10000000       0.00000000      -0.50000000 </v>
  </dipole>
`),
			want: &[3]float64{0.1, 0, -0.5},
		},
		"bare vector": {
			calc: atEnd(bare, `  <v name="dipole">       0.00000000       0.20000000      -0.75000000 </v>
`),
			want: &[3]float64{0, 0.2, -0.75},
		},
		"none": {
			calc: bare,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			frames, err := Read(strings.NewReader(head + tt.calc + "</modeling>\n"))
			require.NoError(t, err)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.want, frames[0].Dipole)
		})
	}
}

func TestReadBadDipole(t *testing.T) {
	c := makeCalc("0.25000000", "-20.50000000", "-20.45000000", "x")
	_, err := Read(strings.NewReader(head + c + "</modeling>\n"))
	assert.Error(t, err)
}
