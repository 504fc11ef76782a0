package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/maestro/pkg/schema"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// DSN turns a filesystem path into a libSQL file URI.
func DSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "://") {
		return path
	}
	return "file:" + path
}

// NewLibSQLStore opens a libSQL database. dbPath may be a plain path or a
// file URI such as "file:/path/to/maestro.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", DSN(dbPath))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql: %s", err.Error()).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, now: time.Now}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

// SaveRun inserts or replaces a run together with its ledger.
func (s *LibSQLStore) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	inputs, err := marshalMapOrDefault(run.Inputs)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal inputs: %s", err.Error()).WithCause(err)
	}
	variables, err := marshalMapOrDefault(run.Variables)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal variables: %s", err.Error()).WithCause(err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear step results: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, playbook, source, status, success, session_id, cwd,
			total_steps, successful_steps, failed_steps, skipped_steps, inputs, variables,
			elapsed_ms, started_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Playbook, nullStr(run.Source), string(run.Status), boolInt(run.Success),
		nullStr(run.SessionID), nullStr(run.Cwd),
		run.TotalSteps, run.SuccessfulSteps, run.FailedSteps, run.SkippedSteps,
		string(inputs), string(variables), run.ElapsedMs,
		formatTime(run.StartedAt), formatTime(run.CompletedAt), formatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, step := range run.Steps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO step_results (run_id, seq, step, action, success, skipped, aborted, message, error, data, elapsed_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, step.Step, step.Action, boolInt(step.Success), boolInt(step.Skipped), boolInt(step.Aborted),
			nullStr(step.Message), nullStr(step.Error), marshalData(step.Data), step.ElapsedMs,
		)
		if err != nil {
			return fmt.Errorf("insert step result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, playbook, source, status, success, session_id, cwd,
	total_steps, successful_steps, failed_steps, skipped_steps, inputs, variables,
	elapsed_ms, started_at, completed_at, created_at`

// GetRun returns a run with its full ledger.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}

	steps, err := s.listStepResults(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// ListRuns returns run summaries, newest first. Steps are not loaded.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Playbook != "" {
		where = append(where, "playbook = ?")
		args = append(args, filter.Playbook)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, boolInt(*filter.Success))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run, its ledger and its events.
func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "run", id); err != nil {
		return err
	}
	return tx.Commit()
}

// PruneRuns deletes runs that started before the cutoff and returns how many
// were removed.
func (s *LibSQLStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	cutoff := formatTime(before)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM step_results WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *LibSQLStore) listStepResults(ctx context.Context, runID string) ([]schema.StepExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, action, success, skipped, aborted, message, error, data, elapsed_ms
		 FROM step_results WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []schema.StepExecutionResult{}
	for rows.Next() {
		var (
			r                   schema.StepExecutionResult
			message, errMsg     sql.NullString
			data                sql.NullString
			success, skip, abrt int64
		)
		if err := rows.Scan(&r.Step, &r.Action, &success, &skip, &abrt, &message, &errMsg, &data, &r.ElapsedMs); err != nil {
			return nil, err
		}
		r.Success = success != 0
		r.Skipped = skip != 0
		r.Aborted = abrt != 0
		r.Message = message.String
		r.Error = errMsg.String
		if data.Valid && data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &r.Data)
		}
		steps = append(steps, r)
	}
	return steps, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                             Run
		source, sessionID, cwd          sql.NullString
		status, inputs, variables       string
		startedAt, completedAt, created string
		success                         int64
	)
	err := row.Scan(&run.ID, &run.Playbook, &source, &status, &success, &sessionID, &cwd,
		&run.TotalSteps, &run.SuccessfulSteps, &run.FailedSteps, &run.SkippedSteps,
		&inputs, &variables, &run.ElapsedMs, &startedAt, &completedAt, &created)
	if err != nil {
		return nil, err
	}
	run.Source = source.String
	run.SessionID = sessionID.String
	run.Cwd = cwd.String
	run.Status = schema.RunStatus(status)
	run.Success = success != 0
	if inputs != "" {
		_ = json.Unmarshal([]byte(inputs), &run.Inputs)
	}
	if variables != "" {
		_ = json.Unmarshal([]byte(variables), &run.Variables)
	}
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	run.CreatedAt = parseTime(created)
	return &run, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.MaestroError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// marshalData encodes step data; values JSON cannot represent are stored
// as their printed form.
func marshalData(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(v))
	}
	return string(b)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(m)
	if err == nil {
		return b, nil
	}
	lossy := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		if raw, ok := marshalData(v).(string); ok {
			lossy[k] = json.RawMessage(raw)
		} else {
			lossy[k] = json.RawMessage("null")
		}
	}
	return json.Marshal(lossy)
}
