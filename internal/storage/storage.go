// Package storage provides SQLite-backed persistence for screening runs and
// their per-candidate decisions.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rewired-gh/cso/internal/models"
	"github.com/xhhuango/json"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("run not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/cso/runs.db.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "cso", "runs.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			created_at  INTEGER NOT NULL,
			mode        TEXT NOT NULL,
			criteria    TEXT NOT NULL,
			total       INTEGER NOT NULL,
			passed      INTEGER NOT NULL,
			result_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx          INTEGER NOT NULL,
			ticker       TEXT NOT NULL,
			spread_type  TEXT NOT NULL,
			short_strike REAL NOT NULL,
			long_strike  REAL NOT NULL,
			expiration   INTEGER NOT NULL,
			decision     TEXT NOT NULL,
			filter       TEXT,
			reason       TEXT,
			score        REAL,
			rank         INTEGER,
			PRIMARY KEY (run_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ticker ON decisions(ticker)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores run and one decision row per candidate, then drops the
// oldest runs beyond maxRuns.
func (s *Storage) SaveRun(run *models.Run) error {
	if run == nil || run.Result == nil {
		return fmt.Errorf("invalid run: missing result")
	}
	if run.ID == "" {
		return fmt.Errorf("invalid run: missing id")
	}
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	r := run.Result
	_, err = tx.Exec(`
		INSERT INTO runs (id, created_at, mode, criteria, total, passed, result_json)
		VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.CreatedAt.UnixNano(), string(r.Mode), r.Criteria, r.Total, r.Passed,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO decisions
			(run_id, idx, ticker, spread_type, short_strike, long_strike, expiration,
			 decision, filter, reason, score, rank)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare decision insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range decisionsOf(r) {
		_, err := stmt.Exec(
			run.ID, d.Index, d.Ticker, string(d.Type), d.ShortStrike, d.LongStrike,
			d.Expiration.UnixNano(), string(d.Decision),
			nullString(string(d.Filter)), nullString(d.Reason), d.Score, d.Rank,
		)
		if err != nil {
			return fmt.Errorf("failed to insert decision %d: %w", d.Index, err)
		}
	}

	if err := s.rotate(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// GetRun loads a run with its full result.
func (s *Storage) GetRun(id string) (*models.Run, error) {
	var createdAtNano int64
	var resultJSON string
	err := s.db.QueryRow(`SELECT created_at, result_json FROM runs WHERE id = ?`, id).
		Scan(&createdAtNano, &resultJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var result models.ScreeningResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &models.Run{ID: id, CreatedAt: time.Unix(0, createdAtNano), Result: &result}, nil
}

// ListRuns returns summaries of the newest runs first. limit <= 0 lists all.
func (s *Storage) ListRuns(limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, mode, criteria, total, passed
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunSummary{}
	for rows.Next() {
		var r models.RunSummary
		var createdAtNano int64
		var mode string
		if err := rows.Scan(&r.ID, &createdAtNano, &mode, &r.Criteria, &r.Total, &r.Passed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAtNano)
		r.Mode = models.Mode(mode)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Decisions returns the stored decision rows of one run in index order.
func (s *Storage) Decisions(runID string) ([]Decision, error) {
	rows, err := s.db.Query(`
		SELECT idx, ticker, spread_type, short_strike, long_strike, expiration,
		       decision, filter, reason, score, rank
		FROM decisions WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var expirationNano int64
		var spreadType, decision string
		var filter, reason sql.NullString
		var score sql.NullFloat64
		var rank sql.NullInt64
		err := rows.Scan(
			&d.Index, &d.Ticker, &spreadType, &d.ShortStrike, &d.LongStrike, &expirationNano,
			&decision, &filter, &reason, &score, &rank,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Type = models.SpreadType(spreadType)
		d.Expiration = time.Unix(0, expirationNano)
		d.Decision = models.Decision(decision)
		d.Filter = models.FilterName(filter.String)
		d.Reason = reason.String
		if score.Valid {
			v := score.Float64
			d.Score = &v
		}
		if rank.Valid {
			v := int(rank.Int64)
			d.Rank = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RejectionStats counts rejections by filter across runs created at or
// after since. A zero since counts every run.
func (s *Storage) RejectionStats(since time.Time) (map[models.FilterName]int, error) {
	// UnixNano is undefined for the zero time.
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := s.db.Query(`
		SELECT d.filter, COUNT(*)
		FROM decisions d JOIN runs r ON r.id = d.run_id
		WHERE d.decision = ? AND r.created_at >= ? AND d.filter IS NOT NULL
		GROUP BY d.filter`, string(models.Rejected), from)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejection stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.FilterName]int)
	for rows.Next() {
		var filter string
		var n int
		if err := rows.Scan(&filter, &n); err != nil {
			return nil, fmt.Errorf("failed to scan rejection stats: %w", err)
		}
		stats[models.FilterName(filter)] = n
	}
	return stats, rows.Err()
}

// RotateRuns keeps at most maxRuns newest runs. Cascading deletes remove
// their decisions.
func (s *Storage) RotateRuns() error {
	return s.rotate(s.db)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Storage) rotate(ex execer) error {
	if s.maxRuns <= 0 {
		return nil
	}
	_, err := ex.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY created_at DESC LIMIT ?
		)`, s.maxRuns)
	if err != nil {
		return fmt.Errorf("failed to rotate runs: %w", err)
	}
	return nil
}

// Decision is one candidate's stored outcome. Score and Rank are set only
// for ranked candidates.
type Decision struct {
	Index       int               `json:"index"`
	Ticker      string            `json:"ticker"`
	Type        models.SpreadType `json:"type"`
	ShortStrike float64           `json:"short_strike"`
	LongStrike  float64           `json:"long_strike"`
	Expiration  time.Time         `json:"expiration"`
	Decision    models.Decision   `json:"decision"`
	Filter      models.FilterName `json:"filter,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Score       *float64          `json:"score,omitempty"`
	Rank        *int              `json:"rank,omitempty"`
}

// decisionsOf flattens a result into per-candidate rows. Accepted spreads
// carry no index, so they take the indices no rejection claims, in order.
// Ranked candidates cut by top-N are not recorded.
func decisionsOf(r *models.ScreeningResult) []Decision {
	var out []Decision
	rejected := make(map[int]bool, len(r.Rejected))
	for _, rej := range r.Rejected {
		rejected[rej.Index] = true
		out = append(out, newDecision(rej.Index, rej.Spread, models.Rejected, func(d *Decision) {
			d.Filter = rej.Filter
			d.Reason = rej.Reason
		}))
	}

	if len(r.Accepted) > 0 {
		next := 0
		for _, sp := range r.Accepted {
			for rejected[next] {
				next++
			}
			out = append(out, newDecision(next, sp, models.Accepted, nil))
			next++
		}
	}

	for _, rs := range r.Ranked {
		rs := rs
		out = append(out, newDecision(rs.Index, rs.Spread, models.Accepted, func(d *Decision) {
			d.Score = &rs.Score
			d.Rank = &rs.Rank
		}))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func newDecision(index int, sp *models.CreditSpread, decision models.Decision, fill func(d *Decision)) Decision {
	d := Decision{Index: index, Decision: decision}
	if sp != nil {
		d.Ticker = sp.Ticker
		d.Type = sp.Type
		d.ShortStrike = sp.Short.Strike
		d.LongStrike = sp.Long.Strike
		d.Expiration = sp.Expiration
	}
	if fill != nil {
		fill(&d)
	}
	return d
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
