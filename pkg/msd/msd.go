// Package msd computes the mean squared displacement of a species along the
// stored trajectory of a state.
package msd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Method is an interface that will be used by the modules.
type Method interface {
	Read(ctx context.Context) error
	Len() int
	GetCfg(int) ([][3]float64, error)
	End() error
}

// MSD structure is a structure containing information that will be used by the
// modules. It contains the position of the first configuration, the position of
// the last configuration, etc.
type MSD struct {
	Method Method
	Log    *zap.Logger

	Out string

	// Start and End delimit the configurations used. End <= 0 means up to the
	// last one
	Start int
	End   int

	Tot int
	At  int
	Dt  float64

	Res []float64
}

// Perform performs the mean squared displacement. Res[k] is the sum over the
// origins and the atoms of the squared displacement after k+1 steps.
func (m *MSD) Perform(ctx context.Context) (err error) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}

	err = m.Method.Read(ctx)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	defer func() {
		if cerr := m.Method.End(); err == nil {
			err = cerr
		}
	}()

	if m.End <= 0 || m.End > m.Method.Len() {
		m.End = m.Method.Len()
	}
	if m.Start < 0 {
		m.Start = 0
	}
	m.Tot = m.End - m.Start
	if m.Tot < 2 {
		return fmt.Errorf("at least 2 configurations are needed, got %d", m.Tot)
	}
	m.Res = make([]float64, m.Tot-1)

	for i := 0; i < m.Tot-1; i++ {
		if err = ctx.Err(); err != nil {
			return
		}
		m.Log.Debug("Step", zap.Int("step", i+1), zap.Int("total", m.Tot-1))

		var icfg [][3]float64
		icfg, err = m.Method.GetCfg(m.Start + i)
		if err != nil {
			return
		}
		m.At = len(icfg)

		for j := i + 1; j < m.Tot; j++ {
			var tcfg [][3]float64

			tcfg, err = m.Method.GetCfg(m.Start + j)
			if err != nil {
				return
			}
			if len(tcfg) != m.At {
				return fmt.Errorf("configuration %d: %d atoms instead of %d", m.Start+j, len(tcfg), m.At)
			}

			for a := 0; a < m.At; a++ {
				for k := 0; k < 3; k++ {
					pow := icfg[a][k] - tcfg[a][k]
					m.Res[j-i-1] += pow * pow
				}
			}
		}
	}

	if m.At == 0 {
		return fmt.Errorf("no atom to follow")
	}

	// Average over the origins and the atoms
	for i := range m.Res {
		m.Res[i] /= float64((m.Tot - 1 - i) * m.At)
	}

	return nil
}

// Write writes the results into Out. Each line is "t msd".
func (m *MSD) Write() error {
	f, err := os.Create(m.Out)
	if err != nil {
		return err
	}

	for i := range m.Res {
		fmt.Fprintln(f, float64(i+1)*m.Dt, m.Res[i])
	}

	return f.Close()
}
