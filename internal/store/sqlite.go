package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// analyzedAtFormat is fixed-width (always nine fraction digits, always
// UTC) so the text column sorts lexicographically in timestamp order.
// RFC3339Nano drops trailing zeros, which breaks ordering within a
// second: "...05Z" sorts after "...05.5Z".
const analyzedAtFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ResultStore persists analysis results in SQLite so past verdicts
// survive restarts and feed cohort reports. Every write is a new row;
// re-analysis supersedes by recency, never by mutation.
type ResultStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewResultStore opens (creating if needed) the result database at dbPath.
func NewResultStore(dbPath string) (*ResultStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &ResultStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *ResultStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *ResultStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveResult persists one analysis result. The full result is stored as
// JSON; scalar columns are duplicated for querying.
func (s *ResultStore) SaveResult(ctx context.Context, res *core.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_results
			(session_id, analyzed_at, overall_bias_score, alert_level, confidence, partial, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.SessionID,
		res.Timestamp.UTC().Format(analyzedAtFormat),
		res.OverallBiasScore,
		string(res.AlertLevel),
		res.Confidence,
		boolToInt(res.Partial),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// GetLatest returns the most recent result for a session, or a NotFound
// error if the session was never analyzed.
func (s *ResultStore) GetLatest(ctx context.Context, sessionID string) (*core.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM analysis_results
		WHERE session_id = ?
		ORDER BY analyzed_at DESC
		LIMIT 1`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("analysis result", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying result: %w", err)
	}

	var res core.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decoding stored result: %w", err)
	}
	return &res, nil
}

// ListByTimeRange returns the latest result per session with an analysis
// timestamp inside the range, ordered oldest first. Zero bounds are open.
func (s *ResultStore) ListByTimeRange(ctx context.Context, tr core.TimeRange) ([]core.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.payload
		FROM analysis_results r
		JOIN (
			SELECT session_id, MAX(analyzed_at) AS latest
			FROM analysis_results
			GROUP BY session_id
		) latest ON r.session_id = latest.session_id AND r.analyzed_at = latest.latest
		WHERE 1=1`
	args := make([]interface{}, 0, 2)
	if !tr.Start.IsZero() {
		query += " AND r.analyzed_at >= ?"
		args = append(args, tr.Start.UTC().Format(analyzedAtFormat))
	}
	if !tr.End.IsZero() {
		query += " AND r.analyzed_at < ?"
		args = append(args, tr.End.UTC().Format(analyzedAtFormat))
	}
	query += " ORDER BY r.analyzed_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.AnalysisResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		var res core.AnalysisResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, fmt.Errorf("decoding stored result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return out, nil
}

// Count returns the number of stored result rows.
func (s *ResultStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
