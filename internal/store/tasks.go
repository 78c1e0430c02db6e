package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// TaskRow is one row of active_tasks with its JSON columns decoded.
type TaskRow struct {
	TaskID    string         `json:"task_id"`
	Payload   map[string]any `json:"payload"`
	RunIDs    []string       `json:"run_ids"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// AddActiveTask inserts or replaces the task row. The run_ids column starts
// empty; workers register themselves via AddRunIDToTask.
func (s *Store) AddActiveTask(taskID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO active_tasks (task_id, payload, run_ids, created_at, updated_at)
		 VALUES (?, ?, '[]', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		taskID, string(data))
	if err != nil {
		return fmt.Errorf("add active task %s: %w", taskID, err)
	}
	return nil
}

// GetActiveTask returns the decoded payload for taskID.
func (s *Store) GetActiveTask(taskID string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRow(`SELECT payload FROM active_tasks WHERE task_id = ?`, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active task %s: %w", taskID, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", taskID, err)
	}
	return payload, nil
}

// UpdateActiveTask overwrites the payload for an existing row. Missing rows
// are an error; use AddActiveTask to create.
func (s *Store) UpdateActiveTask(taskID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE active_tasks SET payload = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		string(data), taskID)
	if err != nil {
		return fmt.Errorf("update active task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update active task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// RemoveActiveTask deletes the row. Deleting a missing row is a no-op.
func (s *Store) RemoveActiveTask(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM active_tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("remove active task %s: %w", taskID, err)
	}
	return nil
}

// ListActiveTasks returns every task row, newest first.
func (s *Store) ListActiveTasks() ([]TaskRow, error) {
	rows, err := s.db.Query(
		`SELECT task_id, payload, run_ids, created_at, updated_at
		 FROM active_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var (
			t                TaskRow
			rawPayload, rawRuns string
		)
		if err := rows.Scan(&t.TaskID, &rawPayload, &rawRuns, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if err := json.Unmarshal([]byte(rawPayload), &t.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", t.TaskID, err)
		}
		if err := json.Unmarshal([]byte(rawRuns), &t.RunIDs); err != nil {
			return nil, fmt.Errorf("decode run_ids for %s: %w", t.TaskID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddRunIDToTask appends runID to the task's run_ids list. Order-preserving
// and de-duplicating: appending an already-present id is a no-op.
func (s *Store) AddRunIDToTask(taskID, runID string) error {
	var raw string
	err := s.db.QueryRow(`SELECT run_ids FROM active_tasks WHERE task_id = ?`, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("add run id to %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read run_ids for %s: %w", taskID, err)
	}

	var runIDs []string
	if err := json.Unmarshal([]byte(raw), &runIDs); err != nil {
		return fmt.Errorf("decode run_ids for %s: %w", taskID, err)
	}
	for _, id := range runIDs {
		if id == runID {
			return nil
		}
	}
	runIDs = append(runIDs, runID)

	data, err := json.Marshal(runIDs)
	if err != nil {
		return fmt.Errorf("marshal run_ids: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE active_tasks SET run_ids = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		string(data), taskID)
	if err != nil {
		return fmt.Errorf("write run_ids for %s: %w", taskID, err)
	}
	return nil
}

// RunIDsForTask returns the registered run ids in append order.
func (s *Store) RunIDsForTask(taskID string) ([]string, error) {
	var raw string
	err := s.db.QueryRow(`SELECT run_ids FROM active_tasks WHERE task_id = ?`, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run_ids for %s: %w", taskID, err)
	}
	var runIDs []string
	if err := json.Unmarshal([]byte(raw), &runIDs); err != nil {
		return nil, fmt.Errorf("decode run_ids for %s: %w", taskID, err)
	}
	return runIDs, nil
}
