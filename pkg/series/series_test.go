package series

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpotier/aimd/pkg/store"
	"github.com/kpotier/aimd/pkg/traj"
)

func TestCumulativeAverage(t *testing.T) {
	assert.Nil(t, CumulativeAverage(nil))
	assert.InDeltaSlice(t, []float64{1, 1.5, 2, 2.5}, CumulativeAverage([]float64{1, 2, 3, 4}), 1e-12)
	assert.InDeltaSlice(t, []float64{-2, -2}, CumulativeAverage([]float64{-2, -2}), 1e-12)
}

func dipole(z float64) *[3]float64 {
	return &[3]float64{0, 1, z}
}

func rows() []store.Row {
	return []store.Row{
		{State: "b", RunNumber: 1, Timestep: 0, Energy: traj.Float(-3), Dipole: dipole(3)},
		{State: "a", RunNumber: 0, Timestep: 1, Energy: traj.Float(-2), Dipole: dipole(2)},
		{State: "a", RunNumber: 1, Timestep: 0, Energy: traj.Float(-4), Dipole: dipole(4)},
		{State: "a", RunNumber: 0, Timestep: 0, Energy: traj.Float(-6), Dipole: dipole(6)},
		{State: "b", RunNumber: 0, Timestep: 0, Energy: traj.Float(-1)},
		{State: "c"},
	}
}

func TestEnergy(t *testing.T) {
	s := Energy(rows(), 0)
	require.Len(t, s, 2)

	// a is ordered -6 -2 -4
	assert.InDeltaSlice(t, []float64{0, 0.001, 0.002}, s["a"].Time, 1e-12)
	assert.InDeltaSlice(t, []float64{-6, -4, -4}, s["a"].Average, 1e-12)
	assert.InDeltaSlice(t, []float64{-1, -2}, s["b"].Average, 1e-12)
}

func TestDipole(t *testing.T) {
	s, err := Dipole(rows(), AZ, 0.5)
	require.NoError(t, err)
	require.Len(t, s, 2)

	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, s["a"].Time, 1e-12)
	assert.InDeltaSlice(t, []float64{6, 4, 4}, s["a"].Average, 1e-12)
	assert.InDeltaSlice(t, []float64{3}, s["b"].Average, 1e-12)

	s, err = Dipole(rows(), AY, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, s["a"].Average, 1e-12)

	_, err = Dipole(rows(), "w", 0)
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "energy.json")
	err := WriteJSON(path, Energy(rows(), 0))
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string][][]float64
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got["b"], 2)
	assert.Equal(t, []float64{0, 0.001}, got["b"][0])
	assert.Equal(t, []float64{-1, -2}, got["b"][1])
}

func TestWriteColumns(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	err := WriteColumns(dir, Energy(rows(), 1))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "b.dat"))
	require.NoError(t, err)
	assert.Equal(t, "0 -1\n1 -2\n", string(b))
}
