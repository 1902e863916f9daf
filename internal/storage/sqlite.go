package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/nourishbot/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		workflow TEXT NOT NULL,
		image_path TEXT NOT NULL,
		dietary_restrictions TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		current_task TEXT,
		raw_output TEXT,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		task_name TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		raw_output TEXT,
		json_output TEXT,
		sequence_num INTEGER NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		UNIQUE(run_id, sequence_num)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const runColumns = `id, uuid, created_at, completed_at, workflow, image_path, dietary_restrictions,
	status, current_task, raw_output, prompt_tokens, completion_tokens, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var restrictions, currentTask, rawOutput, runErr sql.NullString

	err := row.Scan(
		&run.ID, &run.UUID, &run.CreatedAt, &completedAt, &run.Workflow, &run.ImagePath, &restrictions,
		&run.Status, &currentTask, &rawOutput, &run.PromptTokens, &run.CompletionTokens, &runErr,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if restrictions.Valid {
		r := restrictions.String
		run.DietaryRestrictions = &r
	}
	run.CurrentTask = currentTask.String
	run.RawOutput = rawOutput.String
	run.Error = runErr.String

	return &run, nil
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (uuid, workflow, image_path, dietary_restrictions, status, current_task)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.UUID, run.Workflow, run.ImagePath, run.DietaryRestrictions, run.Status, run.CurrentTask,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return result.LastInsertId()
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return run, err
}

func (s *Storage) GetRunByUUID(uuid string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE uuid = ?`, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return run, err
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, current_task = ?, raw_output = ?,
		 prompt_tokens = ?, completion_tokens = ?, error = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.CurrentTask, run.RawOutput,
		run.PromptTokens, run.CompletionTokens, run.Error, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func marshalOutput(out map[string]any) (*string, error) {
	if out == nil {
		return nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func (s *Storage) CreateExecution(exec *models.Execution) (int64, error) {
	outJSON, err := marshalOutput(exec.JSONOutput)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT INTO executions (run_id, task_name, agent_name, status, started_at, completed_at,
		 raw_output, json_output, sequence_num, prompt_tokens, completion_tokens, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.TaskName, exec.AgentName, exec.Status, exec.StartedAt, exec.CompletedAt,
		exec.RawOutput, outJSON, exec.SequenceNum, exec.PromptTokens, exec.CompletionTokens, exec.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert execution: %w", err)
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateExecution(exec *models.Execution) error {
	outJSON, err := marshalOutput(exec.JSONOutput)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE executions SET status = ?, started_at = ?, completed_at = ?, raw_output = ?, json_output = ?,
		 prompt_tokens = ?, completion_tokens = ?, error = ? WHERE id = ?`,
		exec.Status, exec.StartedAt, exec.CompletedAt, exec.RawOutput, outJSON,
		exec.PromptTokens, exec.CompletionTokens, exec.Error, exec.ID,
	)
	return err
}

func (s *Storage) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, task_name, agent_name, status, started_at, completed_at, raw_output, json_output,
		 sequence_num, prompt_tokens, completion_tokens, error
		 FROM executions WHERE run_id = ? ORDER BY sequence_num`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		var exec models.Execution
		var rawOutput, outJSON, execErr sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&exec.ID, &exec.RunID, &exec.TaskName, &exec.AgentName, &exec.Status, &startedAt, &completedAt,
			&rawOutput, &outJSON, &exec.SequenceNum, &exec.PromptTokens, &exec.CompletionTokens, &execErr,
		)
		if err != nil {
			return nil, err
		}

		if startedAt.Valid {
			exec.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}
		exec.RawOutput = rawOutput.String
		exec.Error = execErr.String
		if outJSON.Valid {
			var out map[string]any
			if err := json.Unmarshal([]byte(outJSON.String), &out); err == nil {
				exec.JSONOutput = out
			}
		}

		execs = append(execs, &exec)
	}

	return execs, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM executions WHERE run_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return tx.Commit()
}

// FormatTimeAgo renders t relative to now for list views.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
