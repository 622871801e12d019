package trace

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store persists simulation traces in SQLite so runs can be compared after
// the fact. It holds scheduler telemetry only, never simulation state.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens a trace database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to trace database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes every record of st in one transaction. The run row is created
// on first use, so machines of one run can share a database.
func (s *Store) Save(ctx context.Context, machine int, config string, st *SimulationTrace) error {
	runID := st.Config.RunID
	if runID == "" {
		return fmt.Errorf("trace has no run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (run_id, machine, config) VALUES (?, ?, ?)`,
		runID, machine, config); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, w := range st.Windows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO windows (run_id, machine, idx, start_tick, end_tick, decade, epoch, epoch_begin, phase, wall_seconds)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, w.Machine, w.Index, w.Start, w.End, w.Decade, w.Epoch, w.EpochBegin, w.Phase, w.WallSeconds); err != nil {
			return fmt.Errorf("insert window %d: %w", w.Index, err)
		}
	}
	for _, r := range st.Training {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO training_rounds (run_id, machine, round, tier, candidate, start_tick, end_tick, cost_seconds)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Machine, r.Round, r.Tier, r.Candidate, r.Start, r.End, r.CostSeconds); err != nil {
			return fmt.Errorf("insert training round %d: %w", r.Round, err)
		}
	}
	for _, d := range st.Decisions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO decisions (run_id, machine, tier, value, reason) VALUES (?, ?, ?, ?, ?)`,
			runID, d.Machine, d.Tier, d.Value, d.Reason); err != nil {
			return fmt.Errorf("insert decision %s: %w", d.Tier, err)
		}
	}
	return tx.Commit()
}

// LoadDecisions returns the thresholds stored for a run, ordered by machine
// and tier.
func (s *Store) LoadDecisions(ctx context.Context, runID string) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT machine, tier, value, reason FROM decisions WHERE run_id = ? ORDER BY machine, tier`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()
	var out []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		if err := rows.Scan(&d.Machine, &d.Tier, &d.Value, &d.Reason); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountWindows returns the number of windows stored for a run.
func (s *Store) CountWindows(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM windows WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count windows: %w", err)
	}
	return n, nil
}
