// Package ledger records the outcome of harvest runs in a SQLite database so
// that rejected companies, enumeration failures and degraded metrics can be
// reviewed after the fact.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/ledger/migrations"
)

// ErrRunNotFound is returned when a requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the harvest command.
type Run struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DegradationRecord is a degraded metric of one repository.
type DegradationRecord struct {
	CompanyKey string `json:"company_key"`
	Repo       string `json:"repo"`
	domain.Degradation
	RecordedAt time.Time `json:"recorded_at"`
}

// RunReport is everything recorded for one run.
type RunReport struct {
	Run          Run                    `json:"run"`
	Companies    []domain.CompanyReport `json:"companies"`
	Degradations []DegradationRecord    `json:"degradations"`
}

// Ledger is a SQLite-backed run ledger.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the ledger database at path and applies pending migrations.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	// WAL lets report read while a harvest is writing. Pragmas in the DSN apply
	// to every pooled connection.
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	l := &Ledger{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := l.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run ledger migrations: %w", err)
	}
	return l, nil
}

func dsn(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) migrate(fsys fs.FS) error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := l.db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := l.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, formatTime(l.now())); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
	}
	return nil
}

// StartRun registers a new run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, input, output string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO runs (id, input, output, started_at) VALUES (?, ?, ?, ?)",
		id, input, output, formatTime(l.now()))
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end time.
func (l *Ledger) FinishRun(ctx context.Context, runID string) error {
	res, err := l.db.ExecContext(ctx, "UPDATE runs SET finished_at = ? WHERE id = ?", formatTime(l.now()), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RecordCompany stores the outcome of one company, replacing an earlier
// outcome for the same input in the same run.
func (l *Ledger) RecordCompany(ctx context.Context, runID string, report domain.CompanyReport) error {
	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal company stats: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO company_outcomes (
			run_id, company_key, company_input, company_name, status, org_login, truth_score,
			rejection_reason, repos_seen, repos_enriched, repos_skipped, repos_degraded,
			error, stats, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, company_input) DO UPDATE SET
			status = excluded.status,
			org_login = excluded.org_login,
			truth_score = excluded.truth_score,
			rejection_reason = excluded.rejection_reason,
			repos_seen = excluded.repos_seen,
			repos_enriched = excluded.repos_enriched,
			repos_skipped = excluded.repos_skipped,
			repos_degraded = excluded.repos_degraded,
			error = excluded.error,
			stats = excluded.stats,
			recorded_at = excluded.recorded_at
	`, runID, report.Company.Key, report.Company.Input, string(report.Company.Name), string(report.Status),
		nullString(report.OrgLogin), nullInt(report.Score), nullString(string(report.Reason)),
		report.Seen, report.Enriched, report.Skipped, report.Degraded,
		nullString(report.Error), string(stats), formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("failed to record company %s: %w", report.Company.Input, err)
	}
	return nil
}

// RecordDegradation stores one degraded metric of a repository.
func (l *Ledger) RecordDegradation(ctx context.Context, runID string, company domain.Company, repo string, d domain.Degradation) error {
	var status sql.NullInt64
	if d.Status != 0 {
		status = sql.NullInt64{Int64: int64(d.Status), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO degradations (run_id, company_key, repo, metric, kind, status, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, company.Key, repo, string(d.Metric), d.Kind, status, d.Reason, formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("failed to record degradation of %s: %w", repo, err)
	}
	return nil
}

// RunRecorder records outcomes into one run.
type RunRecorder struct {
	ledger *Ledger
	runID  string
}

// ForRun binds the ledger to runID.
func (l *Ledger) ForRun(runID string) *RunRecorder {
	return &RunRecorder{ledger: l, runID: runID}
}

// RunID returns the bound run id.
func (r *RunRecorder) RunID() string {
	return r.runID
}

func (r *RunRecorder) RecordCompany(ctx context.Context, report domain.CompanyReport) error {
	return r.ledger.RecordCompany(ctx, r.runID, report)
}

func (r *RunRecorder) RecordDegradation(ctx context.Context, company domain.Company, repo string, d domain.Degradation) error {
	return r.ledger.RecordDegradation(ctx, r.runID, company, repo, d)
}

// Runs lists recorded runs, most recent first.
func (l *Ledger) Runs(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, input, output, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Report returns everything recorded for runID, or for the latest run when runID is empty.
func (l *Ledger) Report(ctx context.Context, runID string) (RunReport, error) {
	query := "SELECT id, input, output, started_at, finished_at FROM runs WHERE id = ?"
	args := []any{runID}
	if runID == "" {
		query = "SELECT id, input, output, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1"
		args = nil
	}
	run, err := scanRun(l.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return RunReport{}, ErrRunNotFound
	}
	if err != nil {
		return RunReport{}, err
	}

	companies, err := l.companies(ctx, run.ID)
	if err != nil {
		return RunReport{}, err
	}
	degradations, err := l.degradations(ctx, run.ID)
	if err != nil {
		return RunReport{}, err
	}
	return RunReport{Run: run, Companies: companies, Degradations: degradations}, nil
}

func (l *Ledger) companies(ctx context.Context, runID string) ([]domain.CompanyReport, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT company_key, company_input, company_name, status, org_login, truth_score, rejection_reason,
			repos_seen, repos_enriched, repos_skipped, repos_degraded, error, stats
		FROM company_outcomes WHERE run_id = ? ORDER BY recorded_at, company_input
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query company outcomes: %w", err)
	}
	defer rows.Close()

	reports := []domain.CompanyReport{}
	for rows.Next() {
		var (
			r                         domain.CompanyReport
			name, status, stats       string
			login, reason, errMessage sql.NullString
			score                     sql.NullInt64
		)
		if err := rows.Scan(&r.Company.Key, &r.Company.Input, &name, &status, &login, &score, &reason,
			&r.Seen, &r.Enriched, &r.Skipped, &r.Degraded, &errMessage, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan company outcome: %w", err)
		}
		r.Company.Name = domain.CanonicalName(name)
		r.Status = domain.CompanyStatus(status)
		r.OrgLogin = login.String
		r.Reason = domain.RejectReason(reason.String)
		r.Error = errMessage.String
		if score.Valid {
			s := int(score.Int64)
			r.Score = &s
		}
		if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats of %s: %w", r.Company.Input, err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query company outcomes: %w", err)
	}
	return reports, nil
}

func (l *Ledger) degradations(ctx context.Context, runID string) ([]DegradationRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT company_key, repo, metric, kind, status, reason, recorded_at
		FROM degradations WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query degradations: %w", err)
	}
	defer rows.Close()

	records := []DegradationRecord{}
	for rows.Next() {
		var (
			d          DegradationRecord
			metric     string
			status     sql.NullInt64
			recordedAt string
		)
		if err := rows.Scan(&d.CompanyKey, &d.Repo, &metric, &d.Kind, &status, &d.Reason, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan degradation: %w", err)
		}
		d.Metric = domain.Metric(metric)
		d.Status = int(status.Int64)
		if d.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query degradations: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Input, &run.Output, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// timeLayout has a fixed width so stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
