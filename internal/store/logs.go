package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// LogRow is one row of task_logs with log_data decoded.
type LogRow struct {
	LogID     int64          `json:"log_id"`
	TaskID    string         `json:"task_id"`
	RunID     string         `json:"run_id"`
	AgentType string         `json:"agent_type"`
	LogData   map[string]any `json:"log_data"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// SaveLog inserts or replaces the log document for (runID, agentType).
// Replacement is unconditional last-writer-wins on the whole document.
func (s *Store) SaveLog(taskID, runID, agentType string, logData map[string]any) error {
	data, err := json.Marshal(logData)
	if err != nil {
		return fmt.Errorf("marshal log data: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO task_logs (task_id, run_id, agent_type, log_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		taskID, runID, agentType, string(data))
	if err != nil {
		return fmt.Errorf("save log %s/%s: %w", runID, agentType, err)
	}
	return nil
}

// LoadLog returns the most recent log document for (runID, agentType).
func (s *Store) LoadLog(runID, agentType string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT log_data FROM task_logs WHERE run_id = ? AND agent_type = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		runID, agentType).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load log %s/%s: %w", runID, agentType, err)
	}
	var logData map[string]any
	if err := json.Unmarshal([]byte(raw), &logData); err != nil {
		return nil, fmt.Errorf("decode log %s/%s: %w", runID, agentType, err)
	}
	return logData, nil
}

// LogsForTask returns all log rows for a task, newest first.
func (s *Store) LogsForTask(taskID string) ([]LogRow, error) {
	return s.queryLogs(`SELECT log_id, task_id, run_id, agent_type, log_data, created_at, updated_at
		FROM task_logs WHERE task_id = ? ORDER BY created_at DESC`, taskID)
}

// LogsForRun returns all log rows for a run, newest first.
func (s *Store) LogsForRun(runID string) ([]LogRow, error) {
	return s.queryLogs(`SELECT log_id, task_id, run_id, agent_type, log_data, created_at, updated_at
		FROM task_logs WHERE run_id = ? ORDER BY created_at DESC`, runID)
}

// RemoveLogsForTask deletes all logs belonging to a task.
func (s *Store) RemoveLogsForTask(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM task_logs WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("remove logs for %s: %w", taskID, err)
	}
	return nil
}

func (s *Store) queryLogs(query string, arg any) ([]LogRow, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var (
			l   LogRow
			raw string
		)
		if err := rows.Scan(&l.LogID, &l.TaskID, &l.RunID, &l.AgentType, &raw, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &l.LogData); err != nil {
			return nil, fmt.Errorf("decode log %d: %w", l.LogID, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
