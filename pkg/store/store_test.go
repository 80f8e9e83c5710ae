package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/traj"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func frame(t *testing.T, z float64, energy *float64, dipole *[3]float64) traj.Frame {
	t.Helper()
	a, err := atoms.New([]string{"Pt", "Na"}, [][3]float64{{0, 0, 0}, {1, 1, z}})
	require.NoError(t, err)
	a.Cell = [3][3]float64{{10, 0, 0}, {0, 10, 0}, {0, 0, 20}}
	a.PBC = [3]bool{true, true, true}
	return traj.Frame{
		Atoms:  a,
		Energy: energy,
		Forces: [][3]float64{{0, 0, 0}, {0.1, 0.2, 0.3}},
		Dipole: dipole,
	}
}

func TestWriteFramesAndSelect(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	frames := []traj.Frame{
		frame(t, 5, traj.Float(-1), &[3]float64{0, 0, -0.1}),
		frame(t, 6, traj.Float(-2), nil),
		frame(t, 7, nil, &[3]float64{0, 0, -0.3}),
	}
	n, err := s.WriteFrames(ctx, "Pt_111", 2, frames)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := s.Select(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for i, r := range rows {
		assert.Equal(t, "Pt_111", r.State)
		assert.Equal(t, 2, r.RunNumber)
		assert.Equal(t, i, r.Timestep)
		assert.NotEmpty(t, r.UniqueID)
		assert.False(t, r.CTime.IsZero())
	}

	assert.Equal(t, []string{"Pt", "Na"}, rows[0].Atoms.Symbols)
	assert.Equal(t, [3]float64{1, 1, 5}, rows[0].Atoms.Positions[1])
	assert.Equal(t, 20.0, rows[0].Atoms.Cell[2][2])
	assert.Equal(t, [3]bool{true, true, true}, rows[0].Atoms.PBC)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, rows[0].Forces[1])
	require.NotNil(t, rows[0].Energy)
	assert.Equal(t, -1.0, *rows[0].Energy)
	assert.Nil(t, rows[1].Dipole)
	assert.Nil(t, rows[2].Energy)

	withEnergy, err := s.Select(ctx, Filter{HasEnergy: true})
	require.NoError(t, err)
	assert.Len(t, withEnergy, 2)

	withDipole, err := s.Select(ctx, Filter{HasDipole: true})
	require.NoError(t, err)
	require.Len(t, withDipole, 2)
	assert.Equal(t, -0.3, withDipole[1].Dipole[2])
}

func TestStates(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	for _, st := range []string{"b", "a", "b"} {
		_, err := s.WriteFrames(ctx, st, 0, []traj.Frame{frame(t, 5, traj.Float(-1), nil)})
		require.NoError(t, err)
	}

	states, err := s.States(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, states)

	rows, err := s.Select(ctx, Filter{State: "b"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWriteKeepsFixedAtoms(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	f := frame(t, 5, nil, nil)
	f.Atoms.Fix(0)
	row := &Row{State: "a", Atoms: f.Atoms}
	require.NoError(t, s.Write(ctx, row))
	assert.NotZero(t, row.ID)

	rows, err := s.Select(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []int{0}, rows[0].Atoms.Fixed)
	assert.Nil(t, rows[0].Forces)
}

func TestWriteWithoutAtoms(t *testing.T) {
	s := openTest(t)
	assert.Error(t, s.Write(context.Background(), &Row{State: "a"}))
}
