package manager

import (
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cairnhq/cairn/internal/store"
)

// staleRunningAge is how long a Running task may go without a payload
// update before the janitor declares its worker lost.
const staleRunningAge = 30 * time.Minute

// defaultDebugRingSize bounds the debug feed when the config does not.
const defaultDebugRingSize = 500

// janitorLoop runs periodic maintenance on the cron schedule from config:
// trim the debug ring and fail Running tasks whose worker is gone.
func (m *Manager) janitorLoop() {
	defer m.done.Done()

	schedule := m.cfg.Manager.JanitorSchedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		slog.Error("invalid janitor schedule, janitor disabled", "schedule", schedule)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case t := <-ticker.C:
			due, err := gron.IsDue(schedule, t)
			if err != nil || !due {
				continue
			}
			m.runJanitor()
		}
	}
}

// runJanitor performs one maintenance sweep.
func (m *Manager) runJanitor() {
	keep := m.cfg.Manager.DebugRingSize
	if keep <= 0 {
		keep = defaultDebugRingSize
	}
	if err := m.st.TrimDebugMessages(keep); err != nil {
		slog.Warn("debug ring trim failed", "error", err)
	}

	m.sweepStaleRunning()
}

// sweepStaleRunning fails Running tasks that have no live child process
// and have not been updated recently. A freshly updated row is left alone
// even without a child, since another manager instance may own it.
func (m *Manager) sweepStaleRunning() {
	rows, err := m.st.ListActiveTasks()
	if err != nil {
		slog.Warn("janitor task scan failed", "error", err)
		return
	}

	live := make(map[string]bool)
	for _, id := range m.LiveRunIDs() {
		live[id] = true
	}

	for _, row := range rows {
		status := store.PayloadString(row.Payload, store.KeyStatus)
		if status != store.StatusRunning || live[row.TaskID] {
			continue
		}
		updated, err := time.Parse(store.TimeFormat, store.PayloadString(row.Payload, store.KeyUpdatedAt))
		if err != nil || time.Since(updated) < staleRunningAge {
			continue
		}

		row.Payload[store.KeyStatus] = store.StatusFailed
		row.Payload[store.KeyError] = "worker lost: no process and no progress"
		row.Payload[store.KeyUpdatedAt] = store.Now()
		if err := m.st.UpdateActiveTask(row.TaskID, row.Payload); err != nil {
			slog.Warn("could not fail stale task", "run_id", row.TaskID, "error", err)
			continue
		}
		m.debugf("task %s marked Failed by janitor (stale Running)", row.TaskID)
	}
}
