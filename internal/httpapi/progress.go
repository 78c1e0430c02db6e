package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cairnhq/cairn/internal/store"
)

// progressPollInterval is how often the stream re-reads the run's log.
// Slightly above the writer's debounce interval so most flushes are seen
// exactly once.
const progressPollInterval = 250 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is operator-facing and unauthenticated on localhost.
	CheckOrigin: func(*http.Request) bool { return true },
}

// progressStream upgrades to a websocket and pushes new progress entries
// for ?run_id= as they land in the store. The stream closes when the run
// reaches a terminal status or the client goes away.
func (s *Server) progressStream(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id query parameter required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: surface client disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		entries, err := s.progressEntries(runID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("progress read failed", "run_id", runID, "error", err)
			continue
		}
		for ; sent < len(entries); sent++ {
			if err := conn.WriteJSON(entries[sent]); err != nil {
				return
			}
		}

		payload, err := s.st.GetActiveTask(runID)
		if err != nil {
			continue
		}
		status := store.PayloadString(payload, store.KeyStatus)
		if store.IsTerminalStatus(status) {
			_ = conn.WriteJSON(map[string]any{"type": "done", "status": status})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, status))
			return
		}
	}
}

// progressEntries flattens the progress lists of every log for the run in
// chronological order.
func (s *Server) progressEntries(runID string) ([]any, error) {
	logs, err := s.st.LogsForRun(runID)
	if err != nil {
		return nil, err
	}

	// LogsForRun is newest-first; stream oldest log first.
	var entries []any
	for i := len(logs) - 1; i >= 0; i-- {
		progress, _ := logs[i].LogData["progress"].([]any)
		entries = append(entries, progress...)
	}
	return entries, nil
}
