// Package storage persists fit runs and their centrality tables in SQLite.
// Runs beyond the configured maximum are rotated out oldest first, together
// with their centrality rows.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rewired-gh/glaubernbd/internal/models"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	mu REAL NOT NULL,
	k REAL NOT NULL,
	f REAL NOT NULL,
	norm REAL NOT NULL,
	dmu REAL NOT NULL,
	success INTEGER NOT NULL,
	status TEXT NOT NULL,
	chi2 REAL,
	ndf INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	range_lo REAL NOT NULL,
	range_hi REAL NOT NULL,
	pairs INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	created_at_ns INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS centrality(
	run_id TEXT NOT NULL,
	bin INTEGER NOT NULL,
	multiplicity REAL NOT NULL,
	avg_npart REAL NOT NULL,
	avg_ncoll REAL NOT NULL,
	rms_npart REAL NOT NULL,
	rms_ncoll REAL NOT NULL,
	weight REAL NOT NULL,
	PRIMARY KEY(run_id, bin)
);
CREATE INDEX IF NOT EXISTS runs_created ON runs(created_at_ns);
`

const runColumns = `id, mode, mu, k, f, norm, dmu, success, status, chi2, ndf, iterations,
	range_lo, range_hi, pairs, duration_ns, created_at_ns`

// Storage is a SQLite-backed store of fit runs.
type Storage struct {
	db *sql.DB
	mu sync.Mutex // serializes multi-statement writes

	maxRuns int
	path    string
}

// New opens (or creates) the database at dbPath. An empty path uses the OS
// temp directory; MemoryPath keeps everything in memory.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "glaubernbd", "runs.db")
	}
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Storage{db: db, maxRuns: maxRuns, path: dbPath}, nil
}

// Path returns the database location.
func (s *Storage) Path() string { return s.path }

// Close releases the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// nullable stores NaN as NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// AddRun stores a fit run. Adding an existing ID replaces it.
func (s *Storage) AddRun(run *models.FitRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs(`+runColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Mode, run.Mu, run.K, run.F, run.Norm, run.DMu, run.Success, run.Status,
		nullable(run.Chi2), run.NDF, run.Iterations, run.RangeLo, run.RangeHi, run.Pairs,
		int64(run.Duration), run.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.FitRun, error) {
	var (
		run       models.FitRun
		chi2      sql.NullFloat64
		duration  int64
		createdAt int64
	)
	err := row.Scan(&run.ID, &run.Mode, &run.Mu, &run.K, &run.F, &run.Norm, &run.DMu,
		&run.Success, &run.Status, &chi2, &run.NDF, &run.Iterations, &run.RangeLo, &run.RangeHi,
		&run.Pairs, &duration, &createdAt)
	if err != nil {
		return nil, err
	}
	run.Chi2 = math.NaN()
	if chi2.Valid {
		run.Chi2 = chi2.Float64
	}
	run.Duration = time.Duration(duration)
	run.CreatedAt = time.Unix(0, createdAt)
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *Storage) GetRun(id string) (*models.FitRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *Storage) ListRuns() ([]*models.FitRun, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at_ns DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.FitRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AddCentrality replaces the centrality table of an existing run.
func (s *Storage) AddCentrality(runID string, bins []models.CentralityBin) error {
	for i := range bins {
		if bins[i].RunID != runID {
			return fmt.Errorf("invalid centrality bin %d: belongs to run %q", bins[i].Bin, bins[i].RunID)
		}
		if err := bins[i].Validate(); err != nil {
			return fmt.Errorf("invalid centrality bin %d: %w", bins[i].Bin, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	if exists == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	if _, err := tx.Exec(`DELETE FROM centrality WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear centrality of run %s: %w", runID, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO centrality(run_id, bin, multiplicity, avg_npart, avg_ncoll,
		rms_npart, rms_ncoll, weight) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, b := range bins {
		if _, err := stmt.Exec(b.RunID, b.Bin, b.Multiplicity, b.AvgNpart, b.AvgNcoll,
			b.RMSNpart, b.RMSNcoll, b.Weight); err != nil {
			return fmt.Errorf("failed to insert centrality bin %d: %w", b.Bin, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit centrality of run %s: %w", runID, err)
	}
	return nil
}

// GetCentrality returns the centrality table of a run ordered by bin. A run
// without a table yields an empty slice.
func (s *Storage) GetCentrality(runID string) ([]models.CentralityBin, error) {
	rows, err := s.db.Query(`SELECT run_id, bin, multiplicity, avg_npart, avg_ncoll, rms_npart,
		rms_ncoll, weight FROM centrality WHERE run_id = ? ORDER BY bin`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read centrality of run %s: %w", runID, err)
	}
	defer rows.Close()

	bins := make([]models.CentralityBin, 0)
	for rows.Next() {
		var b models.CentralityBin
		if err := rows.Scan(&b.RunID, &b.Bin, &b.Multiplicity, &b.AvgNpart, &b.AvgNcoll,
			&b.RMSNpart, &b.RMSNcoll, &b.Weight); err != nil {
			return nil, fmt.Errorf("failed to read centrality bin: %w", err)
		}
		bins = append(bins, b)
	}
	return bins, rows.Err()
}

// RotateRuns removes the oldest runs exceeding the max limit, along with
// their centrality tables. It returns the number of runs removed.
func (s *Storage) RotateRuns() (int, error) {
	if s.maxRuns <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `SELECT id FROM runs ORDER BY created_at_ns DESC, id LIMIT -1 OFFSET ?`
	if _, err := tx.Exec(`DELETE FROM centrality WHERE run_id IN (`+stale+`)`, s.maxRuns); err != nil {
		return 0, fmt.Errorf("failed to rotate centrality tables: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id IN (`+stale+`)`, s.maxRuns)
	if err != nil {
		return 0, fmt.Errorf("failed to rotate runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count rotated runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return int(removed), nil
}
