package agent

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/internal/tools"
)

func finishFixture(t *testing.T) (*Runtime, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &Runtime{cfg: config.Default(), st: st}, st
}

func TestFinishPlannerLandsCompleted(t *testing.T) {
	rt, st := finishFixture(t)

	payload := store.NewPlannerPayload("split the work", "acme", []string{"api", "web"}, "", "")
	if err := st.AddActiveTask("task_42", payload); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	result := &RunResult{FinalOutput: map[string]any{
		tools.FieldEndTask: true,
		"summary":          "two slices",
		"list_of_subtasks": []any{"BE: add /ping", "FE: call /ping"},
	}}
	if err := rt.finish("task_42", store.KindPlanner, payload, result); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := st.GetActiveTask("task_42")
	if err != nil {
		t.Fatalf("GetActiveTask: %v", err)
	}
	if s := store.PayloadString(got, store.KeyStatus); s != store.StatusCompleted {
		t.Fatalf("planner terminal status = %q, want %q", s, store.StatusCompleted)
	}

	output := store.PayloadMap(got, store.KeyAgentOutput)
	if _, ok := output[tools.FieldEndTask]; ok {
		t.Fatal("end_task leaked into agent_output")
	}
	if output["summary"] != "two slices" {
		t.Fatalf("agent_output = %v", output)
	}

	subIDs := store.PayloadStrings(got, store.KeySubtaskIDs)
	if len(subIDs) != 2 {
		t.Fatalf("subtask ids = %v, want 2", subIDs)
	}
	for _, id := range subIDs {
		if !strings.HasPrefix(id, "pm_subtask_") {
			t.Fatalf("subtask id = %q", id)
		}
	}
	// Allocation is idempotent: fan-out later gets the same ids back.
	again, err := st.PreGenerateSubtaskIDs("task_42", 2)
	if err != nil {
		t.Fatalf("PreGenerateSubtaskIDs: %v", err)
	}
	if !reflect.DeepEqual(again, subIDs) {
		t.Fatalf("re-allocation = %v, want %v", again, subIDs)
	}
}

func TestFinishWorkerLandsCompleted(t *testing.T) {
	rt, st := finishFixture(t)

	payload := store.NewWorkerPayload(store.KindEngineer, "add /ping", "acme", "api", "feat-1", "", "")
	if err := st.AddActiveTask("task_7", payload); err != nil {
		t.Fatalf("AddActiveTask: %v", err)
	}

	result := &RunResult{FinalOutput: map[string]any{
		tools.FieldEndTask:    true,
		"summary_of_changes":  "added the endpoint",
		"verification_status": true,
	}}
	if err := rt.finish("task_7", store.KindEngineer, payload, result); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ := st.GetActiveTask("task_7")
	if s := store.PayloadString(got, store.KeyStatus); s != store.StatusCompleted {
		t.Fatalf("status = %q, want %q", s, store.StatusCompleted)
	}
	if ids := store.PayloadStrings(got, store.KeySubtaskIDs); len(ids) != 0 {
		t.Fatalf("worker grew subtask ids: %v", ids)
	}
}
