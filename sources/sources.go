package sources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/sitefeed/scraper"
)

// Custom errors for source operations
var (
	ErrSourceNotFound = errors.New("source not found")
	ErrInvalidRun     = errors.New("run must name a source")
)

// SourceStore keeps the run history of configured sources in SQLite.
type SourceStore struct {
	db *sql.DB
}

// Source is the persisted state of one configured source.
type Source struct {
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Kind            string     `json:"kind"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastOK          bool       `json:"last_ok"`
	LastItemCount   int        `json:"last_item_count"`
	LastError       *string    `json:"last_error,omitempty"`
	LastWarning     *string    `json:"last_warning,omitempty"`
	OutputPath      *string    `json:"output_path,omitempty"`
	FetchErrorCount int        `json:"fetch_error_count"` // consecutive failed runs
}

// Run is one recorded pipeline execution for a source.
type Run struct {
	RunID          uuid.UUID `json:"run_id"`
	Source         string    `json:"source"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	OK             bool      `json:"ok"`
	ItemCount      int       `json:"item_count"`
	Stage          string    `json:"stage,omitempty"`
	Error          string    `json:"error,omitempty"`
	Warning        string    `json:"warning,omitempty"`
	OutputPath     string    `json:"output_path,omitempty"`
}

// SourceFilter represents filtering options for listing sources.
type SourceFilter struct {
	Failing *bool // Filter by outcome of the last run
	Limit   int   // Pagination limit
	Offset  int   // Pagination offset
}

// NewSourceStore creates a new source store with the given database path.
func NewSourceStore(dbPath string) (*SourceStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	store := &SourceStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the sources and runs tables if they don't exist.
func (s *SourceStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_run_at TEXT,
		last_success_at TEXT,
		last_ok INTEGER NOT NULL DEFAULT 0,
		last_item_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_warning TEXT,
		output_path TEXT,
		fetch_error_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		started_at TEXT NOT NULL,
		elapsed_seconds REAL NOT NULL,
		ok INTEGER NOT NULL,
		item_count INTEGER NOT NULL,
		stage TEXT,
		error TEXT,
		warning TEXT,
		output_path TEXT
	);
	CREATE INDEX IF NOT EXISTS runs_source_started ON runs (source, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SourceStore) Close() error {
	return s.db.Close()
}

// SyncSources registers every configured source, updating URL and kind of
// known ones, and deletes state for sources no longer configured.
func (s *SourceStore) SyncSources(ctx context.Context, configs []scraper.SourceConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	names := make([]any, 0, len(configs))
	for _, cfg := range configs {
		kind := cfg.Kind
		if kind == "" {
			kind = scraper.KindListing
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sources (name, url, kind, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				url = excluded.url,
				kind = excluded.kind,
				updated_at = excluded.updated_at
		`, cfg.Name, cfg.URL, kind, formatTime(&now), formatTime(&now))
		if err != nil {
			return fmt.Errorf("failed to upsert source %s: %w", cfg.Name, err)
		}
		names = append(names, cfg.Name)
	}

	where := ""
	if len(names) > 0 {
		where = " WHERE name NOT IN (" + placeholders(len(names)) + ")"
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sources"+where, names...); err != nil {
		return fmt.Errorf("failed to prune sources: %w", err)
	}

	runWhere := ""
	if len(names) > 0 {
		runWhere = " WHERE source NOT IN (" + placeholders(len(names)) + ")"
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs"+runWhere, names...); err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}

	return tx.Commit()
}

// RecordRun stores a run and folds its outcome into the source state. A
// failed run increments the consecutive failure count; a successful one
// resets it. The updated source is returned.
func (s *SourceStore) RecordRun(ctx context.Context, run Run) (*Source, error) {
	if run.Source == "" {
		return nil, ErrInvalidRun
	}
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, source, started_at, elapsed_seconds, ok, item_count,
			stage, error, warning, output_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID.String(),
		run.Source,
		formatTime(&run.StartedAt),
		run.ElapsedSeconds,
		run.OK,
		run.ItemCount,
		nullString(run.Stage),
		nullString(run.Error),
		nullString(run.Warning),
		nullString(run.OutputPath),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	now := time.Now()
	var lastSuccess any
	if run.OK {
		lastSuccess = formatTime(&run.StartedAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sources (
			name, url, kind, created_at, updated_at, last_run_at, last_success_at,
			last_ok, last_item_count, last_error, last_warning, output_path,
			fetch_error_count
		) VALUES (?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CASE WHEN ? THEN 0 ELSE 1 END)
		ON CONFLICT(name) DO UPDATE SET
			updated_at = excluded.updated_at,
			last_run_at = excluded.last_run_at,
			last_success_at = COALESCE(excluded.last_success_at, sources.last_success_at),
			last_ok = excluded.last_ok,
			last_item_count = excluded.last_item_count,
			last_error = excluded.last_error,
			last_warning = excluded.last_warning,
			output_path = COALESCE(excluded.output_path, sources.output_path),
			fetch_error_count = CASE WHEN excluded.last_ok THEN 0 ELSE sources.fetch_error_count + 1 END
	`,
		run.Source,
		scraper.KindListing,
		formatTime(&now),
		formatTime(&now),
		formatTime(&run.StartedAt),
		lastSuccess,
		run.OK,
		run.ItemCount,
		nullString(run.Error),
		nullString(run.Warning),
		nullString(run.OutputPath),
		run.OK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update source state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}

	return s.GetSource(ctx, run.Source)
}

const sourceColumns = `
	name, url, kind, created_at, updated_at, last_run_at, last_success_at,
	last_ok, last_item_count, last_error, last_warning, output_path,
	fetch_error_count
`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetSource retrieves a source by name.
func (s *SourceStore) GetSource(ctx context.Context, name string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM sources WHERE name = ?", name)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query source: %w", err)
	}
	return source, nil
}

// ListSources lists sources by name with optional filtering.
func (s *SourceStore) ListSources(ctx context.Context, filter SourceFilter) ([]Source, error) {
	query := "SELECT " + sourceColumns + " FROM sources"

	var whereClauses []string
	var args []any

	if filter.Failing != nil {
		if *filter.Failing {
			whereClauses = append(whereClauses, "fetch_error_count > 0")
		} else {
			whereClauses = append(whereClauses, "fetch_error_count = 0")
		}
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY name"

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
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	sources := []Source{}
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, *source)
	}

	return sources, rows.Err()
}

// RecentRuns returns up to limit runs of a source, newest first.
func (s *SourceStore) RecentRuns(ctx context.Context, name string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, started_at, elapsed_seconds, ok, item_count,
		       stage, error, warning, output_path
		FROM runs
		WHERE source = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var runIDStr, startedAtStr string
		var stage, errText, warning, outputPath sql.NullString
		var run Run

		if err := rows.Scan(
			&runIDStr, &run.Source, &startedAtStr, &run.ElapsedSeconds, &run.OK,
			&run.ItemCount, &stage, &errText, &warning, &outputPath,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runID, err := uuid.Parse(runIDStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run ID: %w", err)
		}
		run.RunID = runID
		run.StartedAt = parseTime(startedAtStr)
		run.Stage = stage.String
		run.Error = errText.String
		run.Warning = warning.String
		run.OutputPath = outputPath.String

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// PruneRuns deletes runs that started before cutoff and reports how many
// were removed.
func (s *SourceStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", formatTime(&cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// scanSource parses a sources row into a Source struct.
func scanSource(row rowScanner) (*Source, error) {
	var source Source
	var createdAtStr, updatedAtStr string
	var lastRunAt, lastSuccessAt, lastError, lastWarning, outputPath sql.NullString

	err := row.Scan(
		&source.Name, &source.URL, &source.Kind,
		&createdAtStr, &updatedAtStr,
		&lastRunAt, &lastSuccessAt,
		&source.LastOK, &source.LastItemCount,
		&lastError, &lastWarning, &outputPath,
		&source.FetchErrorCount,
	)
	if err != nil {
		return nil, err
	}

	source.CreatedAt = parseTime(createdAtStr)
	source.UpdatedAt = parseTime(updatedAtStr)

	// Parse optional timestamps
	if lastRunAt.Valid {
		t := parseTime(lastRunAt.String)
		source.LastRunAt = &t
	}
	if lastSuccessAt.Valid {
		t := parseTime(lastSuccessAt.String)
		source.LastSuccessAt = &t
	}

	// Parse optional strings
	if lastError.Valid {
		source.LastError = &lastError.String
	}
	if lastWarning.Valid {
		source.LastWarning = &lastWarning.String
	}
	if outputPath.Valid {
		source.OutputPath = &outputPath.String
	}

	return &source, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Helper functions for time formatting
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Strip monotonic clock and store UTC for consistent ordering
	return t.Truncate(0).UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	// Try RFC3339Nano first, fall back to RFC3339 for compatibility
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	// Strip monotonic clock for consistent comparisons
	return t.Truncate(0)
}
