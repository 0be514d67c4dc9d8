// ABOUTME: SQLite-backed run log and semantics store with ULID keys.
// ABOUTME: Persists completed runs with their query trails and the approved business-term semantics.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/sifthq/sift/orchestrator"
)

// RunLog stores completed runs and stored semantics in a local SQLite file.
type RunLog struct {
	db *sql.DB
}

// OpenRunLog opens or creates the run-log database at the given path.
func OpenRunLog(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			cancelled INTEGER NOT NULL DEFAULT 0,
			queries INTEGER NOT NULL,
			total_rows INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS run_queries (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			sql_text TEXT NOT NULL,
			PRIMARY KEY (run_id, position),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);

		CREATE TABLE IF NOT EXISTS semantics (
			semantic_id TEXT PRIMARY KEY,
			term TEXT NOT NULL,
			definition TEXT NOT NULL,
			sql_fragment TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &RunLog{db: db}, nil
}

// Close closes the database connection.
func (l *RunLog) Close() error {
	return l.db.Close()
}

// RunRecord is one persisted run.
type RunRecord struct {
	RunID     string
	Question  string
	Answer    string
	Cancelled bool
	Queries   int
	TotalRows int
	Duration  time.Duration
	CreatedAt string
	SQLTrail  []string
}

// SaveRun persists a completed run and its query trail, returning the run's
// ULID key.
func (l *RunLog) SaveRun(ctx context.Context, question string, out *orchestrator.RunOutput) (string, error) {
	id := ulid.Make().String()
	now := time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cancelled := 0
	if out.Cancelled {
		cancelled = 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, question, answer, cancelled, queries, total_rows, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, question, out.Answer, cancelled,
		out.Logs.Queries, out.Logs.TotalRows, out.Logs.TotalDuration.Milliseconds(), now)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, sqlText := range out.SQLQueries {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO run_queries (run_id, position, sql_text) VALUES (?, ?, ?)",
			id, i, sqlText); err != nil {
			return "", fmt.Errorf("insert run query %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (l *RunLog) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, question, answer, cancelled, queries, total_rows, duration_ms, created_at
		 FROM runs ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRun returns one run with its full query trail.
func (l *RunLog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT run_id, question, answer, cancelled, queries, total_rows, duration_ms, created_at
		 FROM runs WHERE run_id = ?`, runID)

	var rec RunRecord
	var cancelled int
	var durationMS int64
	err := row.Scan(&rec.RunID, &rec.Question, &rec.Answer, &cancelled,
		&rec.Queries, &rec.TotalRows, &durationMS, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	rec.Cancelled = cancelled != 0
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	qrows, err := l.db.QueryContext(ctx,
		"SELECT sql_text FROM run_queries WHERE run_id = ? ORDER BY position ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("query run trail: %w", err)
	}
	defer func() { _ = qrows.Close() }()

	for qrows.Next() {
		var sqlText string
		if err := qrows.Scan(&sqlText); err != nil {
			return nil, fmt.Errorf("scan trail row: %w", err)
		}
		rec.SQLTrail = append(rec.SQLTrail, sqlText)
	}
	return &rec, qrows.Err()
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var rec RunRecord
	var cancelled int
	var durationMS int64
	if err := rows.Scan(&rec.RunID, &rec.Question, &rec.Answer, &cancelled,
		&rec.Queries, &rec.TotalRows, &durationMS, &rec.CreatedAt); err != nil {
		return rec, fmt.Errorf("scan run row: %w", err)
	}
	rec.Cancelled = cancelled != 0
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

// Detect returns stored semantics whose term appears in the question,
// case-insensitively.
func (l *RunLog) Detect(ctx context.Context, question string) ([]orchestrator.Semantic, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT semantic_id, term, definition, sql_fragment FROM semantics ORDER BY semantic_id ASC")
	if err != nil {
		return nil, fmt.Errorf("query semantics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	lowered := strings.ToLower(question)

	var matches []orchestrator.Semantic
	for rows.Next() {
		var sem orchestrator.Semantic
		if err := rows.Scan(&sem.ID, &sem.Term, &sem.Definition, &sem.SQLFragment); err != nil {
			return nil, fmt.Errorf("scan semantic row: %w", err)
		}
		if sem.Term != "" && strings.Contains(lowered, strings.ToLower(sem.Term)) {
			matches = append(matches, sem)
		}
	}
	return matches, rows.Err()
}

// Store persists one approved semantic and returns its ULID key.
func (l *RunLog) Store(ctx context.Context, sem orchestrator.Semantic) (string, error) {
	id := ulid.Make().String()
	now := time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO semantics (semantic_id, term, definition, sql_fragment, created_at) VALUES (?, ?, ?, ?, ?)",
		id, sem.Term, sem.Definition, sem.SQLFragment, now)
	if err != nil {
		return "", fmt.Errorf("insert semantic: %w", err)
	}
	return id, nil
}

// ListSemantics returns every stored semantic, oldest first.
func (l *RunLog) ListSemantics(ctx context.Context) ([]orchestrator.Semantic, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT semantic_id, term, definition, sql_fragment FROM semantics ORDER BY semantic_id ASC")
	if err != nil {
		return nil, fmt.Errorf("query semantics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var semantics []orchestrator.Semantic
	for rows.Next() {
		var sem orchestrator.Semantic
		if err := rows.Scan(&sem.ID, &sem.Term, &sem.Definition, &sem.SQLFragment); err != nil {
			return nil, fmt.Errorf("scan semantic row: %w", err)
		}
		semantics = append(semantics, sem)
	}
	return semantics, rows.Err()
}

var _ orchestrator.SemanticStore = (*RunLog)(nil)
