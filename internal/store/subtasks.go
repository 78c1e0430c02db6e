package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cairnhq/cairn/pkg/ids"
)

// SubtaskRecord maps one planner sub-task index to its pre-allocated id.
type SubtaskRecord struct {
	FullstackRunID string `json:"fullstack_run_id"`
	SubtaskIndex   int    `json:"subtask_index"`
	SubtaskID      string `json:"subtask_id"`
	AgentType      string `json:"agent_type"`
}

// PreGenerateSubtaskIDs allocates n sub-task ids for a planner run.
// Idempotent per (run, index): indices that already have an id keep it, so
// repeated allocation after retries returns the same list.
func (s *Store) PreGenerateSubtaskIDs(fullstackRunID string, n int) ([]string, error) {
	existing, err := s.SubtaskIDsForRun(fullstackRunID)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[int]string, len(existing))
	for _, r := range existing {
		byIndex[r.SubtaskIndex] = r.SubtaskID
	}

	epoch := time.Now().Unix()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, ok := byIndex[i]
		if !ok {
			id = ids.SubtaskID(epoch, i)
			_, err := s.db.Exec(
				`INSERT OR REPLACE INTO subtask_ids (fullstack_run_id, subtask_index, subtask_id, agent_type)
				 VALUES (?, ?, ?, 'PM')`,
				fullstackRunID, i, id)
			if err != nil {
				return nil, fmt.Errorf("allocate subtask id %s[%d]: %w", fullstackRunID, i, err)
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// SubtaskIDsForRun returns all allocated ids for a planner run in index order.
func (s *Store) SubtaskIDsForRun(fullstackRunID string) ([]SubtaskRecord, error) {
	rows, err := s.db.Query(
		`SELECT fullstack_run_id, subtask_index, subtask_id, agent_type
		 FROM subtask_ids WHERE fullstack_run_id = ? ORDER BY subtask_index`,
		fullstackRunID)
	if err != nil {
		return nil, fmt.Errorf("query subtask ids for %s: %w", fullstackRunID, err)
	}
	defer rows.Close()

	var out []SubtaskRecord
	for rows.Next() {
		var r SubtaskRecord
		if err := rows.Scan(&r.FullstackRunID, &r.SubtaskIndex, &r.SubtaskID, &r.AgentType); err != nil {
			return nil, fmt.Errorf("scan subtask id: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SubtaskIDForIndex returns the allocated id for one index.
func (s *Store) SubtaskIDForIndex(fullstackRunID string, index int) (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT subtask_id FROM subtask_ids WHERE fullstack_run_id = ? AND subtask_index = ?`,
		fullstackRunID, index).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("subtask id %s[%d]: %w", fullstackRunID, index, err)
	}
	return id, nil
}
