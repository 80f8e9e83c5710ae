package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kpotier/aimd/pkg/parser"
	"github.com/kpotier/aimd/pkg/store"
)

func place(t *testing.T, dst string) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "pkg", "parser", "testdata", parser.OutcarFile))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, b, 0o644))
}

func TestRun(t *testing.T) {
	root := t.TempDir()
	place(t, filepath.Join(root, "Pt_Na_1", "run_1", "OUTCAR"))
	place(t, filepath.Join(root, "Pt_Na_1", "run_2", "OUTCAR"))
	place(t, filepath.Join(root, "Pt_K_1", "run_1", "OUTCAR"))

	db := filepath.Join(t.TempDir(), "runs.db")
	o := options{
		dbname:   db,
		layout:   "run_folders",
		discover: parser.Options{Root: root, Consider: "Na"},
	}
	require.NoError(t, run(context.Background(), zaptest.NewLogger(t), o))

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()

	states, err := s.States(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Pt_Na_1"}, states)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.FileExists(t, filepath.Join(filepath.Dir(db), "runs_completed.txt"))
}

func TestRunUnknownLayout(t *testing.T) {
	o := options{dbname: filepath.Join(t.TempDir(), "x.db"), layout: "flat"}
	assert.Error(t, run(context.Background(), zaptest.NewLogger(t), o))
}

func TestRootCmdRejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
