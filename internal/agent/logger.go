package agent

import (
	"fmt"

	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/store/live"
)

// Logger appends conversation messages to the run's progress log through
// a debounced live handle, so rapid message bursts coalesce into few
// writes while order is preserved.
type Logger struct {
	handle *live.Handle
}

// NewLogger opens (creating if needed) the progress log for (runID, kind)
// and registers the run id on the task.
func NewLogger(st *store.Store, taskID, runID, kind string, opts ...live.Option) (*Logger, error) {
	handle, err := st.LogHandle(taskID, runID, kind, opts...)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}

	handle.SetDefault("task_id", taskID)
	handle.SetDefault("run_id", runID)
	handle.SetDefault("agent_type", kind)
	handle.SetDefault("progress", []any{})
	handle.Set("last_updated", store.Now())

	if err := st.AddRunIDToTask(taskID, runID); err != nil {
		return nil, fmt.Errorf("register run id: %w", err)
	}
	return &Logger{handle: handle}, nil
}

// Log appends one entry to the progress list.
func (l *Logger) Log(entry map[string]any) {
	l.handle.Append("progress", entry)
	l.handle.Set("last_updated", store.Now())
}

// LogMessage appends a conversation message entry.
func (l *Logger) LogMessage(role string, content any) {
	l.Log(map[string]any{
		"role":      role,
		"content":   content,
		"timestamp": store.Now(),
	})
}

// Flush writes any pending entries immediately.
func (l *Logger) Flush() error { return l.handle.ForceFlush() }

// Close flushes and detaches the underlying handle.
func (l *Logger) Close() error { return l.handle.Close() }
