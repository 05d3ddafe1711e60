// Package results keeps scenario run history in SQLite, optionally
// encrypted with SQLCipher.
package results

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/runner"
)

const (
	// MaxOpenConns bounds the pool. SQLite is single-writer, so high counts are counterproductive.
	MaxOpenConns = 4
	MaxIdleConns = 1

	// DefaultLimit applies when a query asks for zero or a negative number of rows.
	DefaultLimit = 20
	MaxLimit     = 500
)

// Run is one recorded scenario execution.
type Run struct {
	RunID        string            `json:"run_id"`
	Scenario     string            `json:"scenario"`
	Browser      string            `json:"browser"`
	State        string            `json:"state"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	StepsRun     int               `json:"steps_run"`
	FailedStep   int               `json:"failed_step,omitempty"`
	Observations map[string]string `json:"observations,omitempty"`
	Artifacts    []string          `json:"artifacts,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration_ns"`
}

// Passed reports whether the run passed.
func (r Run) Passed() bool { return r.State == string(runner.Passed) }

// FailureGroup counts failed runs sharing a fingerprint.
type FailureGroup struct {
	Fingerprint string    `json:"fingerprint"`
	Scenario    string    `json:"scenario"`
	ErrorCode   string    `json:"error_code"`
	FailedStep  int       `json:"failed_step"`
	Count       int       `json:"count"`
	Browsers    []string  `json:"browsers"`
	LastMessage string    `json:"last_message"`
	LastSeen    time.Time `json:"last_seen"`
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the history database at path. A non-empty
// keyHex must be 64 hex characters and enables SQLCipher encryption.
func Open(path, keyHex string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errs.New(errs.InvalidArgument, "results database path is required")
	}
	keyHex = strings.TrimSpace(keyHex)
	if err := ValidateKey(keyHex); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	dsn := path
	if keyHex != "" {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, strings.ToLower(keyHex))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	// A wrong or missing key surfaces on the first page read.
	var tables int
	if err := sqlDB.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
		sqlDB.Close()
		return nil, errs.Wrap(errs.Unavailable, "results database unreadable", err)
	}
	return newStore(sqlDB)
}

// OpenInMemory opens a private in-memory history database.
func OpenInMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:results-%s?mode=memory&cache=shared", uuid.NewString())
	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory results database: %w", err)
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(MaxOpenConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping in-memory results database: %w", err)
	}
	return newStore(sqlDB)
}

func newStore(sqlDB *sql.DB) (*Store, error) {
	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize results schema: %w", err)
	}
	return &Store{db: sqlDB}, nil
}

// ValidateKey accepts an empty key or exactly 64 hex characters.
func ValidateKey(keyHex string) error {
	if keyHex == "" {
		return nil
	}
	if len(keyHex) != 64 {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("results key must be 64 hex characters, got %d", len(keyHex)))
	}
	if _, err := hex.DecodeString(keyHex); err != nil {
		return errs.New(errs.InvalidArgument, "results key must be hex encoded")
	}
	return nil
}

// Record stores a terminal outcome. Recording the same run id twice replaces the row.
func (s *Store) Record(ctx context.Context, o runner.Outcome) error {
	observations, err := json.Marshal(nonNilMap(o.Observations))
	if err != nil {
		return fmt.Errorf("encode observations: %w", err)
	}
	artifacts := o.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (
    run_id, scenario, browser, state, error_code, error_message, fingerprint,
    steps_run, failed_step, observations, artifacts, started_at, duration_ms
) VALUES (
    ?, ?, ?, ?, ?, ?,
    CASE WHEN ? = 'failed' THEN lower(hex(sha3(? || ':' || ? || ':' || ?, 256))) ELSE NULL END,
    ?, ?, ?, ?, ?, ?
)`,
		o.RunID, o.Scenario, string(o.Browser), string(o.State), string(o.ErrorCode()), o.ErrorMessage(),
		string(o.State), o.Scenario, string(o.ErrorCode()), o.FailedStep,
		o.StepsRun, o.FailedStep, string(observations), string(artifactsJSON),
		o.StartedAt.UnixMilli(), o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", o.RunID, err)
	}
	return nil
}

const runColumns = `run_id, scenario, browser, state, error_code, error_message, COALESCE(fingerprint, ''),
    steps_run, failed_step, observations, artifacts, started_at, duration_ms`

// Recent returns the newest runs across all scenarios, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	return scanRuns(rows)
}

// History returns the newest runs of one scenario, newest first.
func (s *Store) History(ctx context.Context, scenario string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE scenario = ? ORDER BY started_at DESC, run_id LIMIT ?`,
		scenario, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", scenario, err)
	}
	return scanRuns(rows)
}

// Get returns one run by id, or errs.InvalidArgument when unknown.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown run %q", runID))
	}
	return runs[0], nil
}

// Failures groups failed runs by fingerprint, most frequent first.
func (s *Store) Failures(ctx context.Context, limit int) ([]FailureGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, scenario, error_code, failed_step, COUNT(*), group_concat(DISTINCT browser),
    (SELECT r2.error_message FROM runs r2 WHERE r2.fingerprint = runs.fingerprint ORDER BY r2.started_at DESC LIMIT 1),
    MAX(started_at)
FROM runs
WHERE fingerprint IS NOT NULL
GROUP BY fingerprint
ORDER BY COUNT(*) DESC, MAX(started_at) DESC
LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query failure groups: %w", err)
	}
	defer rows.Close()

	var out []FailureGroup
	for rows.Next() {
		var (
			g        FailureGroup
			browsers string
			lastSeen int64
		)
		if err := rows.Scan(&g.Fingerprint, &g.Scenario, &g.ErrorCode, &g.FailedStep, &g.Count, &browsers, &g.LastMessage, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan failure group: %w", err)
		}
		g.Browsers = strings.Split(browsers, ",")
		g.LastSeen = time.UnixMilli(lastSeen).UTC()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure groups: %w", err)
	}
	return out, nil
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r            Run
			observations string
			artifacts    string
			startedAt    int64
			durationMS   int64
		)
		if err := rows.Scan(&r.RunID, &r.Scenario, &r.Browser, &r.State, &r.ErrorCode, &r.ErrorMessage, &r.Fingerprint,
			&r.StepsRun, &r.FailedStep, &observations, &artifacts, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(observations), &r.Observations); err != nil {
			return nil, fmt.Errorf("decode observations of %s: %w", r.RunID, err)
		}
		if err := json.Unmarshal([]byte(artifacts), &r.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts of %s: %w", r.RunID, err)
		}
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
