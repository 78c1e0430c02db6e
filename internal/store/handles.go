package store

import (
	"errors"
	"fmt"

	"github.com/cairnhq/cairn/internal/store/live"
)

// TaskHandle returns a debounced live view over the task's payload. The
// handle is loaded from the current row; flushes write the whole payload
// back with last-writer-wins semantics.
func (s *Store) TaskHandle(taskID string, opts ...live.Option) (*live.Handle, error) {
	payload, err := s.GetActiveTask(taskID)
	if err != nil {
		return nil, err
	}
	save := func(state map[string]any) error {
		return s.UpdateActiveTask(taskID, state)
	}
	return live.NewHandle(payload, save, opts...), nil
}

// LogHandle returns a debounced live view over the (runID, agentType) log
// document. A missing document starts empty and is created on first flush.
func (s *Store) LogHandle(taskID, runID, agentType string, opts ...live.Option) (*live.Handle, error) {
	logData, err := s.LoadLog(runID, agentType)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load log for handle: %w", err)
	}
	save := func(state map[string]any) error {
		return s.SaveLog(taskID, runID, agentType, state)
	}
	return live.NewHandle(logData, save, opts...), nil
}
