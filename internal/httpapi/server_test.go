package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/manager"
	"github.com/cairnhq/cairn/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.GitHost.Repos = []string{"acme/demo"}
	mgr := manager.New(cfg, st)
	return NewServer(cfg, st, mgr), st
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListAndGetTasks(t *testing.T) {
	s, st := testServer(t)

	payload := store.NewPlannerPayload("plan the work", "acme", []string{"demo"}, "", "")
	if err := st.AddActiveTask("task_1", payload); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}
	if err := st.AddRunIDToTask("task_1", "run_a"); err != nil {
		t.Fatalf("AddRunIDToTask: %v", err)
	}

	w := doRequest(t, s, http.MethodGet, "/api/tasks")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", w.Code, w.Body)
	}
	var list struct {
		Tasks []store.TaskRow `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].TaskID != "task_1" {
		t.Fatalf("tasks = %+v", list.Tasks)
	}

	w = doRequest(t, s, http.MethodGet, "/api/tasks/task_1")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got struct {
		Payload map[string]any `json:"payload"`
		RunIDs  []string       `json:"run_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Payload[store.KeyDescription] != "plan the work" {
		t.Fatalf("payload = %v", got.Payload)
	}
	if len(got.RunIDs) != 1 || got.RunIDs[0] != "run_a" {
		t.Fatalf("run ids = %v", got.RunIDs)
	}

	w = doRequest(t, s, http.MethodGet, "/api/tasks/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing task status = %d", w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	s, st := testServer(t)

	if err := st.AddActiveTask("task_1", map[string]any{}); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}
	if err := st.SaveLog("task_1", "run_a", store.KindPlanner, map[string]any{"progress": []any{}}); err != nil {
		t.Fatalf("SaveLog: %v", err)
	}

	w := doRequest(t, s, http.MethodDelete, "/api/tasks/task_1")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body)
	}

	if _, err := st.GetActiveTask("task_1"); err == nil {
		t.Fatal("task still present after delete")
	}
	logs, _ := st.LogsForTask("task_1")
	if len(logs) != 0 {
		t.Fatalf("logs remain: %d", len(logs))
	}
}

func TestRunLogEndpoint(t *testing.T) {
	s, st := testServer(t)

	logData := map[string]any{"progress": []any{map[string]any{"role": "user", "content": "hi"}}}
	if err := st.SaveLog("task_1", "run_a", store.KindEngineer, logData); err != nil {
		t.Fatalf("SaveLog: %v", err)
	}

	w := doRequest(t, s, http.MethodGet, "/api/runs/run_a/log?agent_type=Engineer")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got["progress"]; !ok {
		t.Fatalf("body = %v", got)
	}

	// Without agent_type the freshest log row is returned.
	w = doRequest(t, s, http.MethodGet, "/api/runs/run_a/log")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/api/runs/run_missing/log")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing run status = %d", w.Code)
	}
}

func TestDebugEndpoint(t *testing.T) {
	s, st := testServer(t)

	for _, m := range []string{"one", "two", "three"} {
		if err := st.AddDebugMessage(m); err != nil {
			t.Fatalf("AddDebugMessage: %v", err)
		}
	}

	w := doRequest(t, s, http.MethodGet, "/api/debug?n=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		Messages []store.DebugMessage `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[1].Message != "three" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestSpawnSubtasksConflict(t *testing.T) {
	s, st := testServer(t)

	payload := store.NewPlannerPayload("plan", "acme", []string{"demo"}, "", "")
	if err := st.AddActiveTask("task_1", payload); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	// Still Queued, so sub-task spawning is rejected.
	w := doRequest(t, s, http.MethodPost, "/api/tasks/task_1/subtasks")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
}
