package manager

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.GitHost.Repos = []string{"acme/demo"}
	cfg.Manager.LogDir = t.TempDir()
	return New(cfg, st), st
}

func TestCreateTaskValidation(t *testing.T) {
	m, _ := testManager(t)

	if _, err := m.CreateTask(CreateTaskRequest{}); err == nil {
		t.Fatal("empty description should fail")
	}
	if _, err := m.CreateTask(CreateTaskRequest{Description: "x", Kind: "Wizard"}); err == nil {
		t.Fatal("unknown kind should fail")
	}

	m.cfg.GitHost.Repos = nil
	if _, err := m.CreateTask(CreateTaskRequest{Description: "x"}); err == nil {
		t.Fatal("no repos should fail")
	}
}

func TestSpawnSubtasksRequiresCompletedPlanner(t *testing.T) {
	m, st := testManager(t)

	payload := store.NewPlannerPayload("plan it", "acme", []string{"demo"}, "", "")
	if err := st.AddActiveTask("task_p", payload); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	if _, err := m.SpawnSubtasks("task_p"); err == nil {
		t.Fatal("Queued planner should not spawn sub-tasks")
	}
	if _, err := m.SpawnSubtasks("task_missing"); err == nil {
		t.Fatal("missing planner should fail")
	}
}

func TestSpawnSubtasksFanOut(t *testing.T) {
	m, st := testManager(t)

	var spawned []string
	m.startWorker = func(runID string) error {
		// The planner row must read SubtasksGenerated while workers start.
		p, err := st.GetActiveTask("task_p")
		if err != nil {
			t.Errorf("load planner during spawn: %v", err)
		}
		if s := store.PayloadString(p, store.KeyStatus); s != store.StatusSubtasksGenerated {
			t.Errorf("planner status at spawn = %q, want %q", s, store.StatusSubtasksGenerated)
		}
		spawned = append(spawned, runID)
		return nil
	}

	payload := store.NewPlannerPayload("plan it", "acme", []string{"demo"}, "", "")
	payload[store.KeyStatus] = store.StatusCompleted
	payload[store.KeyAgentOutput] = map[string]any{
		"list_of_subtasks":       []any{"first piece", "second piece"},
		"list_of_subtask_titles": []any{"First", "Second"},
		"list_of_subtask_repos":  []any{"demo", "demo"},
	}
	if err := st.AddActiveTask("task_p", payload); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	subIDs, err := m.SpawnSubtasks("task_p")
	if err != nil {
		t.Fatalf("SpawnSubtasks: %v", err)
	}
	if len(subIDs) != 2 {
		t.Fatalf("sub-task ids = %v, want 2", subIDs)
	}
	if !reflect.DeepEqual(spawned, subIDs) {
		t.Fatalf("spawned %v, want %v", spawned, subIDs)
	}

	child, err := st.GetActiveTask(subIDs[0])
	if err != nil {
		t.Fatalf("load child: %v", err)
	}
	if k := store.PayloadString(child, store.KeyAgentKind); k != store.KindManager {
		t.Fatalf("child kind = %q", k)
	}
	if d := store.PayloadString(child, store.KeyDescription); !strings.HasPrefix(d, "First\n\n") {
		t.Fatalf("child description = %q, want title prefix", d)
	}
	if p := store.PayloadString(child, store.KeyParentFullstackID); p != "task_p" {
		t.Fatalf("parent id = %q", p)
	}
	if sibs := store.PayloadStrings(child, store.KeySiblingSubtaskIDs); !reflect.DeepEqual(sibs, subIDs) {
		t.Fatalf("sibling ids = %v, want %v", sibs, subIDs)
	}

	planner, _ := st.GetActiveTask("task_p")
	if s := store.PayloadString(planner, store.KeyStatus); s != store.StatusSubtasksRunning {
		t.Fatalf("planner final status = %q, want %q", s, store.StatusSubtasksRunning)
	}
	if links, _ := st.RunIDsForTask("task_p"); !reflect.DeepEqual(links, subIDs) {
		t.Fatalf("planner run links = %v, want %v", links, subIDs)
	}
}

func TestSweepStaleRunning(t *testing.T) {
	m, st := testManager(t)

	stale := store.NewWorkerPayload(store.KindEngineer, "stuck", "acme", "demo", "", "", "")
	stale[store.KeyStatus] = store.StatusRunning
	stale[store.KeyUpdatedAt] = time.Now().Add(-2 * time.Hour).Format(store.TimeFormat)
	if err := st.AddActiveTask("task_stale", stale); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	fresh := store.NewWorkerPayload(store.KindEngineer, "alive", "acme", "demo", "", "", "")
	fresh[store.KeyStatus] = store.StatusRunning
	if err := st.AddActiveTask("task_fresh", fresh); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	done := store.NewWorkerPayload(store.KindEngineer, "done", "acme", "demo", "", "", "")
	done[store.KeyStatus] = store.StatusCompleted
	done[store.KeyUpdatedAt] = time.Now().Add(-2 * time.Hour).Format(store.TimeFormat)
	if err := st.AddActiveTask("task_done", done); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	m.sweepStaleRunning()

	got, _ := st.GetActiveTask("task_stale")
	if store.PayloadString(got, store.KeyStatus) != store.StatusFailed {
		t.Fatalf("stale task status = %q, want Failed", store.PayloadString(got, store.KeyStatus))
	}
	if !strings.Contains(store.PayloadString(got, store.KeyError), "worker lost") {
		t.Fatalf("stale error = %q", store.PayloadString(got, store.KeyError))
	}

	got, _ = st.GetActiveTask("task_fresh")
	if store.PayloadString(got, store.KeyStatus) != store.StatusRunning {
		t.Fatalf("fresh task swept: %q", store.PayloadString(got, store.KeyStatus))
	}
	got, _ = st.GetActiveTask("task_done")
	if store.PayloadString(got, store.KeyStatus) != store.StatusCompleted {
		t.Fatalf("terminal task touched: %q", store.PayloadString(got, store.KeyStatus))
	}
}

func exitedProc(t *testing.T, runID string, code int) *workerProc {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "runlog")
	if err != nil {
		t.Fatalf("temp log: %v", err)
	}
	return &workerProc{runID: runID, logFile: f, exited: true, exitCode: code}
}

func TestReconcileExitsRewritesOnlyRunning(t *testing.T) {
	m, st := testManager(t)

	rows := []struct {
		runID  string
		status string
		code   int
	}{
		{"task_ok", store.StatusRunning, 0},
		{"task_crash", store.StatusRunning, 3},
		{"task_queued", store.StatusQueued, 0},
		{"task_done", store.StatusCompleted, 1},
	}
	for _, r := range rows {
		payload := store.NewWorkerPayload(store.KindEngineer, "work", "acme", "demo", "", "", "")
		payload[store.KeyStatus] = r.status
		if err := st.AddActiveTask(r.runID, payload); err != nil {
			t.Fatalf("AddActiveTask %s: %v", r.runID, err)
		}
		m.procs[r.runID] = exitedProc(t, r.runID, r.code)
	}

	m.reconcileExits()

	want := map[string]string{
		"task_ok":     store.StatusCompleted,
		"task_crash":  store.StatusFailed,
		"task_queued": store.StatusQueued,
		"task_done":   store.StatusCompleted,
	}
	for runID, status := range want {
		payload, err := st.GetActiveTask(runID)
		if err != nil {
			t.Fatalf("GetActiveTask %s: %v", runID, err)
		}
		if got := store.PayloadString(payload, store.KeyStatus); got != status {
			t.Errorf("%s status = %q, want %q", runID, got, status)
		}
	}

	crash, _ := st.GetActiveTask("task_crash")
	if e := store.PayloadString(crash, store.KeyError); !strings.Contains(e, "exited with code 3") {
		t.Fatalf("crash error = %q", e)
	}
	if len(m.procs) != 0 {
		t.Fatalf("procs not drained: %v", m.procs)
	}
}

func TestDebugFeedFormat(t *testing.T) {
	m, st := testManager(t)

	m.debugf("worker %s started", "task_1")
	msgs, err := st.DebugMessages(1)
	if err != nil {
		t.Fatalf("DebugMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	// "[HH:MM:SS] worker task_1 started"
	if !strings.HasPrefix(msgs[0].Message, "[") || !strings.Contains(msgs[0].Message, "] worker task_1 started") {
		t.Fatalf("message = %q", msgs[0].Message)
	}
}

func TestCleanupUnknownTaskIsNoop(t *testing.T) {
	m, _ := testManager(t)
	if err := m.CleanupTask("never_started"); err != nil {
		t.Fatalf("CleanupTask: %v", err)
	}
}
