// Package sqlite persists allocation runs in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ricci-colasanti/synthbalance/internal/allocation"
	"github.com/ricci-colasanti/synthbalance/internal/allocation/sqlite/migrations"
	"github.com/ricci-colasanti/synthbalance/internal/balance"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
)

const (
	kindHouseholds = "households"
	kindPersons    = "persons"
)

// ErrNotFound is returned for an unknown run.
var ErrNotFound = errors.New("allocation run not found")

// Run describes one saved allocation.
type Run struct {
	ID        int64
	Name      string
	Outcome   string
	Level     int
	Controls  []string
	CreatedAt time.Time
}

// Store persists allocation runs in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveResult stores both tables of r and its count index under a new run.
func (s *Store) SaveResult(ctx context.Context, name string, r *allocation.Result) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	controls, err := encodeRecord(r.Controls)
	if err != nil {
		return 0, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO allocation_runs (name, outcome, relax_level, controls, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, r.Outcome.Kind.String(), r.Outcome.Level, controls, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert allocation run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("allocation run id: %w", err)
	}

	if err := saveTable(ctx, tx, runID, kindHouseholds, r.Households()); err != nil {
		return 0, err
	}
	if err := saveTable(ctx, tx, runID, kindPersons, r.Persons()); err != nil {
		return 0, err
	}
	if err := saveCounts(ctx, tx, runID, r.Households()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit allocation run: %w", err)
	}
	return runID, nil
}

func saveTable(ctx context.Context, tx *sql.Tx, runID int64, kind string, t inputs.Table) error {
	header, err := encodeRecord(t.Columns)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_tables (run_id, kind, header) VALUES (?, ?, ?)`, runID, kind, header,
	); err != nil {
		return fmt.Errorf("insert %s header: %w", kind, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_rows (run_id, kind, row_index, record) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare %s rows: %w", kind, err)
	}
	defer stmt.Close()
	for i, row := range t.Rows {
		record, err := encodeRecord(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, kind, i, record); err != nil {
			return fmt.Errorf("insert %s row %d: %w", kind, i, err)
		}
	}
	return nil
}

func saveCounts(ctx context.Context, tx *sql.Tx, runID int64, households inputs.Table) error {
	serial := households.Index(inputs.SerialNumber)
	tract := households.Index(inputs.Tract)
	count := households.Index(inputs.Count)
	if serial < 0 || tract < 0 || count < 0 {
		return fmt.Errorf("household table is not an allocation")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO household_counts (run_id, serial_number, tract, count, row_index) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare household counts: %w", err)
	}
	defer stmt.Close()
	for i, row := range households.Rows {
		c, err := strconv.ParseFloat(row[count], 64)
		if err != nil {
			return fmt.Errorf("household row %d: count %q: %w", i, row[count], err)
		}
		if _, err := stmt.ExecContext(ctx, runID, row[serial], row[tract], int64(c), i); err != nil {
			return fmt.Errorf("insert household count %d: %w", i, err)
		}
	}
	return nil
}

// LoadResult rebuilds the result saved under runID. The balancing outcome is
// restored as far as its kind and relaxation level.
func (s *Store) LoadResult(ctx context.Context, runID int64) (*allocation.Result, error) {
	run, err := s.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	households, err := s.loadTable(ctx, runID, kindHouseholds)
	if err != nil {
		return nil, err
	}
	persons, err := s.loadTable(ctx, runID, kindPersons)
	if err != nil {
		return nil, err
	}
	res, err := allocation.FromTables(households, persons)
	if err != nil {
		return nil, err
	}
	res.Controls = run.Controls
	res.Outcome.Level = run.Level
	for _, k := range []balance.Kind{balance.Solved, balance.Relaxed, balance.Infeasible} {
		if k.String() == run.Outcome {
			res.Outcome.Kind = k
		}
	}
	return res, nil
}

// Run returns the description of one saved run.
func (s *Store) Run(ctx context.Context, runID int64) (Run, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, outcome, relax_level, controls, created_at FROM allocation_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	return run, err
}

// Runs lists the saved runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, outcome, relax_level, controls, created_at FROM allocation_runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list allocation runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Counts returns the tracts and repeat counts of one household in a run,
// in table order.
func (s *Store) Counts(ctx context.Context, runID int64, serial string) ([]allocation.CountInformation, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT tract, count FROM household_counts WHERE run_id = ? AND serial_number = ? ORDER BY row_index`,
		runID, serial)
	if err != nil {
		return nil, fmt.Errorf("query household counts: %w", err)
	}
	defer rows.Close()

	var out []allocation.CountInformation
	for rows.Next() {
		var c allocation.CountInformation
		if err := rows.Scan(&c.Tract, &c.Count); err != nil {
			return nil, fmt.Errorf("scan household count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadTable(ctx context.Context, runID int64, kind string) (inputs.Table, error) {
	var header string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT header FROM run_tables WHERE run_id = ? AND kind = ?`, runID, kind).Scan(&header)
	if err != nil {
		return inputs.Table{}, fmt.Errorf("load %s header: %w", kind, err)
	}
	columns, err := decodeRecord(header)
	if err != nil {
		return inputs.Table{}, err
	}
	t := inputs.NewTable(columns...)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT record FROM run_rows WHERE run_id = ? AND kind = ? ORDER BY row_index`, runID, kind)
	if err != nil {
		return inputs.Table{}, fmt.Errorf("load %s rows: %w", kind, err)
	}
	defer rows.Close()
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return inputs.Table{}, fmt.Errorf("scan %s row: %w", kind, err)
		}
		fields, err := decodeRecord(record)
		if err != nil {
			return inputs.Table{}, err
		}
		t.Rows = append(t.Rows, fields)
	}
	return t, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		controls  string
		createdAt int64
	)
	if err := row.Scan(&run.ID, &run.Name, &run.Outcome, &run.Level, &controls, &createdAt); err != nil {
		return Run{}, err
	}
	fields, err := decodeRecord(controls)
	if err != nil {
		return Run{}, err
	}
	if len(fields) > 0 {
		run.Controls = fields
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	return run, nil
}

// encodeRecord stores a row as one CSV line.
func encodeRecord(fields []string) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(fields); err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func decodeRecord(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(s))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []string{""}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return fields, nil
}
