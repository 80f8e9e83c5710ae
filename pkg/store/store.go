// Package store keeps the frames of the AIMD runs in a SQLite database. Each
// row is one ionic step identified by its state, its run number and its
// timestep inside the run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kpotier/aimd/pkg/atoms"
	"github.com/kpotier/aimd/pkg/traj"
)

const schema = `
CREATE TABLE IF NOT EXISTS systems (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unique_id TEXT NOT NULL UNIQUE,
	ctime TEXT NOT NULL,
	state TEXT NOT NULL,
	run_number INTEGER NOT NULL,
	timestep INTEGER NOT NULL,
	natoms INTEGER NOT NULL,
	symbols_json TEXT NOT NULL,
	positions_json TEXT NOT NULL,
	cell_json TEXT NOT NULL,
	pbc_json TEXT NOT NULL,
	fixed_json TEXT,
	forces_json TEXT,
	energy REAL,
	free_energy REAL,
	dipole_x REAL,
	dipole_y REAL,
	dipole_z REAL
);
CREATE INDEX IF NOT EXISTS idx_systems_sampling ON systems(state, run_number, timestep);
`

const columns = `id, unique_id, ctime, state, run_number, timestep, symbols_json,
	positions_json, cell_json, pbc_json, fixed_json, forces_json, energy,
	free_energy, dipole_x, dipole_y, dipole_z`

// Row is one stored frame.
type Row struct {
	ID       int64
	UniqueID string
	CTime    time.Time

	State     string
	RunNumber int
	Timestep  int

	Atoms      *atoms.Atoms
	Energy     *float64
	FreeEnergy *float64
	Forces     [][3]float64
	Dipole     *[3]float64
}

// Filter restricts the rows returned by Select. The zero value selects every
// row.
type Filter struct {
	State     string
	HasEnergy bool
	HasDipole bool
}

// Store manages the frame database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time, SQLite locks the whole file anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Write inserts row. The unique id and the creation time are set if they are
// empty. The ID of row is updated.
func (s *Store) Write(ctx context.Context, row *Row) error {
	return insert(ctx, s.db, row)
}

// WriteFrames stores the frames of one run in a single transaction. The
// timestep of a frame is its index. It returns the number of rows written.
func (s *Store) WriteFrames(ctx context.Context, state string, run int, frames []traj.Frame) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for i, f := range frames {
		row := Row{
			State:      state,
			RunNumber:  run,
			Timestep:   i,
			Atoms:      f.Atoms,
			Energy:     f.Energy,
			FreeEnergy: f.FreeEnergy,
			Forces:     f.Forces,
			Dipole:     f.Dipole,
		}
		if err := insert(ctx, tx, &row); err != nil {
			return 0, fmt.Errorf("timestep %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(frames), nil
}

func insert(ctx context.Context, db execer, row *Row) error {
	if row.Atoms == nil {
		return fmt.Errorf("row without atoms")
	}
	if row.UniqueID == "" {
		row.UniqueID = uuid.NewString()
	}
	if row.CTime.IsZero() {
		row.CTime = time.Now().UTC()
	}

	symbols, err := json.Marshal(row.Atoms.Symbols)
	if err != nil {
		return err
	}
	positions, err := json.Marshal(row.Atoms.Positions)
	if err != nil {
		return err
	}
	cell, err := json.Marshal(row.Atoms.Cell)
	if err != nil {
		return err
	}
	pbc, err := json.Marshal(row.Atoms.PBC)
	if err != nil {
		return err
	}

	var fixed, forces sql.NullString
	if len(row.Atoms.Fixed) > 0 {
		b, err := json.Marshal(row.Atoms.Fixed)
		if err != nil {
			return err
		}
		fixed = sql.NullString{String: string(b), Valid: true}
	}
	if row.Forces != nil {
		b, err := json.Marshal(row.Forces)
		if err != nil {
			return err
		}
		forces = sql.NullString{String: string(b), Valid: true}
	}

	var dx, dy, dz sql.NullFloat64
	if row.Dipole != nil {
		dx = sql.NullFloat64{Float64: row.Dipole[0], Valid: true}
		dy = sql.NullFloat64{Float64: row.Dipole[1], Valid: true}
		dz = sql.NullFloat64{Float64: row.Dipole[2], Valid: true}
	}

	res, err := db.ExecContext(ctx, `INSERT INTO systems (unique_id, ctime, state,
		run_number, timestep, natoms, symbols_json, positions_json, cell_json,
		pbc_json, fixed_json, forces_json, energy, free_energy, dipole_x,
		dipole_y, dipole_z) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.UniqueID, row.CTime.Format(time.RFC3339Nano), row.State,
		row.RunNumber, row.Timestep, row.Atoms.Len(), string(symbols),
		string(positions), string(cell), string(pbc), fixed, forces,
		nullable(row.Energy), nullable(row.FreeEnergy), dx, dy, dz)
	if err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}

	row.ID, err = res.LastInsertId()
	return err
}

// Select returns the rows matching f ordered by id.
func (s *Store) Select(ctx context.Context, f Filter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.HasEnergy {
		where = append(where, "energy IS NOT NULL")
	}
	if f.HasDipole {
		where = append(where, "dipole_z IS NOT NULL")
	}

	query := "SELECT " + columns + " FROM systems"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func scan(rows *sql.Rows) (Row, error) {
	var (
		r                               Row
		ctime, symbols, positions, cell string
		pbc                             string
		fixed, forces                   sql.NullString
		energy, free, dx, dy, dz        sql.NullFloat64
	)

	err := rows.Scan(&r.ID, &r.UniqueID, &ctime, &r.State, &r.RunNumber,
		&r.Timestep, &symbols, &positions, &cell, &pbc, &fixed, &forces,
		&energy, &free, &dx, &dy, &dz)
	if err != nil {
		return r, fmt.Errorf("failed to scan row: %w", err)
	}

	r.CTime, err = time.Parse(time.RFC3339Nano, ctime)
	if err != nil {
		return r, fmt.Errorf("row %d: ctime: %w", r.ID, err)
	}

	a := &atoms.Atoms{}
	if err := json.Unmarshal([]byte(symbols), &a.Symbols); err != nil {
		return r, fmt.Errorf("row %d: symbols: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(positions), &a.Positions); err != nil {
		return r, fmt.Errorf("row %d: positions: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(cell), &a.Cell); err != nil {
		return r, fmt.Errorf("row %d: cell: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(pbc), &a.PBC); err != nil {
		return r, fmt.Errorf("row %d: pbc: %w", r.ID, err)
	}
	if fixed.Valid {
		if err := json.Unmarshal([]byte(fixed.String), &a.Fixed); err != nil {
			return r, fmt.Errorf("row %d: fixed: %w", r.ID, err)
		}
	}
	a.Tags = make([]int, len(a.Symbols))
	r.Atoms = a

	if forces.Valid {
		if err := json.Unmarshal([]byte(forces.String), &r.Forces); err != nil {
			return r, fmt.Errorf("row %d: forces: %w", r.ID, err)
		}
	}
	if energy.Valid {
		r.Energy = traj.Float(energy.Float64)
	}
	if free.Valid {
		r.FreeEnergy = traj.Float(free.Float64)
	}
	if dx.Valid && dy.Valid && dz.Valid {
		r.Dipole = &[3]float64{dx.Float64, dy.Float64, dz.Float64}
	}

	return r, nil
}

// States returns the distinct states in alphabetical order.
func (s *Store) States(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT state FROM systems ORDER BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var states []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM systems").Scan(&n)
	return n, err
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
