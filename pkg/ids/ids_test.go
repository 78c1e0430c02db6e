package ids

import (
	"strings"
	"testing"
)

func TestNewRunID(t *testing.T) {
	id := NewRunID(nil)
	if !strings.HasPrefix(id, "task_") {
		t.Fatalf("id = %q, want task_ prefix", id)
	}
}

func TestNewRunIDBumpsPastCollisions(t *testing.T) {
	taken := map[string]bool{}
	first := NewRunID(func(id string) bool { return taken[id] })
	taken[first] = true

	second := NewRunID(func(id string) bool { return taken[id] })
	if second == first {
		t.Fatalf("collision not bumped: %q", second)
	}
	if !strings.HasPrefix(second, "task_") {
		t.Fatalf("second = %q", second)
	}
}

func TestSubtaskID(t *testing.T) {
	if got := SubtaskID(1700000000, 2); got != "pm_subtask_1700000000_2" {
		t.Fatalf("SubtaskID = %q", got)
	}
}

func TestBranchName(t *testing.T) {
	got := BranchName("Engineer")
	if !strings.HasPrefix(got, "Engineer-") {
		t.Fatalf("BranchName = %q", got)
	}
}
