// Package history keeps a SQLite log of finished crawl runs and their
// per-source counts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/newsagg/discovery"
)

// ErrRunNotFound is returned when a run ID is not in the log.
var ErrRunNotFound = errors.New("crawl run not found")

// Store manages the crawl run log using SQLite.
type Store struct {
	db *sql.DB
}

// Run is one recorded crawl run.
type Run struct {
	RunID          uuid.UUID     `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	TotalProcessed int           `json:"total_processed"`
	TotalSaved     int           `json:"total_saved"`
	TotalErrors    int           `json:"total_errors"`
	FailedSources  []string      `json:"failed_sources"`
	// Sources is only populated by GetRun.
	Sources []SourceRun `json:"sources,omitempty"`
}

// SourceRun is one source's counts within a run.
type SourceRun struct {
	Source       string  `json:"source"`
	Processed    int     `json:"processed"`
	Saved        int     `json:"saved"`
	Errors       int     `json:"errors"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Filter narrows ListRuns.
type Filter struct {
	Source string // Only runs that crawled this source
	Failed bool   // Only runs with at least one failed source
	Limit  int    // Pagination limit
	Offset int    // Pagination offset
}

// NewStore opens (creating if needed) the run log at dsn.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the run tables if they don't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		total_processed INTEGER NOT NULL DEFAULT 0,
		total_saved INTEGER NOT NULL DEFAULT 0,
		total_errors INTEGER NOT NULL DEFAULT 0,
		failed_sources TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS source_runs (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		source TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		saved INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		PRIMARY KEY (run_id, source)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run. It satisfies discovery.RunRecorder.
func (s *Store) Record(ctx context.Context, stats *discovery.CrawlStats) error {
	failedSources := stats.FailedSources
	if failedSources == nil {
		failedSources = []string{}
	}
	failed, err := json.Marshal(failedSources)
	if err != nil {
		return fmt.Errorf("failed to marshal failed sources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, started_at, duration_ms,
			total_processed, total_saved, total_errors, failed_sources
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		stats.RunID.String(),
		formatTime(stats.StartedAt),
		stats.Duration.Milliseconds(),
		stats.TotalProcessed,
		stats.TotalSaved,
		stats.TotalErrors,
		string(failed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, name := range stats.Order {
		src := stats.Sources[name]
		if src == nil {
			continue
		}

		var errorMessage *string
		if src.ErrorMessage != "" {
			errorMessage = &src.ErrorMessage
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_runs (
				run_id, position, source, processed, saved, errors, error_message
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			stats.RunID.String(), i, name,
			src.Processed, src.Saved, src.Errors, errorMessage,
		)
		if err != nil {
			return fmt.Errorf("failed to insert source run %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]Run, error) {
	query := `
		SELECT run_id, started_at, duration_ms,
		       total_processed, total_saved, total_errors, failed_sources
		FROM runs
	`

	var whereClauses []string
	var args []any

	if filter.Source != "" {
		whereClauses = append(whereClauses,
			"run_id IN (SELECT run_id FROM source_runs WHERE source = ?)")
		args = append(args, filter.Source)
	}

	if filter.Failed {
		whereClauses = append(whereClauses, "failed_sources != '[]'")
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	return runs, nil
}

// GetRun returns one run with its per-source rows in crawl order.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, duration_ms,
		       total_processed, total_saved, total_errors, failed_sources
		FROM runs WHERE run_id = ?
	`, runID.String())

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, processed, saved, errors, error_message
		FROM source_runs WHERE run_id = ?
		ORDER BY position
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query source runs: %w", err)
	}
	defer rows.Close()

	run.Sources = []SourceRun{}
	for rows.Next() {
		var src SourceRun
		var errorMessage sql.NullString
		if err := rows.Scan(&src.Source, &src.Processed, &src.Saved, &src.Errors, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan source run: %w", err)
		}
		if errorMessage.Valid {
			src.ErrorMessage = &errorMessage.String
		}
		run.Sources = append(run.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source runs: %w", err)
	}

	return run, nil
}

// DeleteBefore removes runs that started before cutoff and returns how many
// were removed.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stale := "SELECT run_id FROM runs WHERE started_at < ?"
	if _, err := tx.ExecContext(ctx, "DELETE FROM source_runs WHERE run_id IN ("+stale+")", formatTime(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to delete source runs: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun parses one runs row.
func scanRun(row scanner) (*Run, error) {
	var runIDStr, startedAtStr, failedJSON string
	var durationMS int64
	run := &Run{}

	err := row.Scan(
		&runIDStr, &startedAtStr, &durationMS,
		&run.TotalProcessed, &run.TotalSaved, &run.TotalErrors, &failedJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.RunID, err = uuid.Parse(runIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run ID: %w", err)
	}
	run.StartedAt = parseTime(startedAtStr)
	run.Duration = time.Duration(durationMS) * time.Millisecond

	if err := json.Unmarshal([]byte(failedJSON), &run.FailedSources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed sources: %w", err)
	}
	if run.FailedSources == nil {
		run.FailedSources = []string{}
	}

	return run, nil
}

// storedLayout is fixed width so stored times sort lexically.
const storedLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Truncate(0).Format(storedLayout)
}

func parseTime(s string) time.Time {
	// Try RFC3339Nano first, fall back to RFC3339 for compatibility
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
