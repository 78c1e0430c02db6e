package githost

import (
	"context"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func diffText(before, after string) string {
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(before, after))
}

func TestApplyEditReplace(t *testing.T) {
	got, err := ApplyEdit("old content", Edit{Kind: EditReplace, Content: "new content"})
	if err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	if got != "new content" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyEditUnifiedDiff(t *testing.T) {
	before := "package main\n\nfunc helper() int {\n\treturn 1\n}\n"
	after := "package main\n\nfunc helper() int {\n\treturn 2\n}\n"

	got, err := ApplyEdit(before, Edit{Kind: EditUnifiedDiff, Content: diffText(before, after)})
	if err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	if got != after {
		t.Fatalf("got %q, want %q", got, after)
	}
}

func TestApplyEditUnifiedDiffFuzzy(t *testing.T) {
	base := "alpha\nbeta\ngamma\ndelta\n"
	patch := diffText(base, "alpha\nbeta\nGAMMA\ndelta\n")

	// The target drifted slightly since the diff was produced; context
	// matching still lands the hunk.
	drifted := "intro\nalpha\nbeta\ngamma\ndelta\n"
	got, err := ApplyEdit(drifted, Edit{Kind: EditUnifiedDiff, Content: patch})
	if err != nil {
		t.Fatalf("ApplyEdit on drifted content: %v", err)
	}
	if !strings.Contains(got, "GAMMA") || !strings.Contains(got, "intro") {
		t.Fatalf("got %q", got)
	}
}

func TestApplyEditUnifiedDiffStripsGitHeaders(t *testing.T) {
	before := "one\ntwo\nthree\n"
	after := "one\nTWO\nthree\n"
	withHeaders := "diff --git a/f b/f\nindex 123..456 100644\n--- a/f\n+++ b/f\n" + diffText(before, after)

	got, err := ApplyEdit(before, Edit{Kind: EditUnifiedDiff, Content: withHeaders})
	if err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	if got != after {
		t.Fatalf("got %q, want %q", got, after)
	}
}

func TestApplyEditUnifiedDiffGarbage(t *testing.T) {
	if _, err := ApplyEdit("content", Edit{Kind: EditUnifiedDiff, Content: "not a diff at all"}); err == nil {
		t.Fatal("garbage diff should fail")
	}
}

func TestApplyEditLineRange(t *testing.T) {
	file := "l1\nl2\nl3\nl4"

	tests := []struct {
		name    string
		edit    Edit
		want    string
		wantErr bool
	}{
		{
			name: "replace middle",
			edit: Edit{Kind: EditLineRange, StartLine: 2, EndLine: 3, Content: "new2\nnew3"},
			want: "l1\nnew2\nnew3\nl4",
		},
		{
			name: "replace single line",
			edit: Edit{Kind: EditLineRange, StartLine: 1, EndLine: 1, Content: "first"},
			want: "first\nl2\nl3\nl4",
		},
		{
			name: "delete lines with empty content",
			edit: Edit{Kind: EditLineRange, StartLine: 2, EndLine: 3},
			want: "l1\nl4",
		},
		{
			name: "end clamped to file length",
			edit: Edit{Kind: EditLineRange, StartLine: 3, EndLine: 99, Content: "tail"},
			want: "l1\nl2\ntail",
		},
		{
			name:    "start past end of file",
			edit:    Edit{Kind: EditLineRange, StartLine: 9, EndLine: 9, Content: "x"},
			wantErr: true,
		},
		{
			name:    "zero start",
			edit:    Edit{Kind: EditLineRange, StartLine: 0, EndLine: 1, Content: "x"},
			wantErr: true,
		},
		{
			name:    "inverted range",
			edit:    Edit{Kind: EditLineRange, StartLine: 3, EndLine: 2, Content: "x"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyEdit(file, tt.edit)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEdit: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyEditUnknownKind(t *testing.T) {
	if _, err := ApplyEdit("x", Edit{Kind: "telepathy"}); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

func TestFakeClientBranchLifecycle(t *testing.T) {
	c := NewFakeClient("main", map[string]string{"a.txt": "alpha"})
	ctx := context.Background()

	if err := c.EnsureBranch(ctx, "acme", "demo", "feat"); err != nil {
		t.Fatalf("EnsureBranch: %v", err)
	}
	// Idempotent: a second call does not re-create.
	if err := c.EnsureBranch(ctx, "acme", "demo", "feat"); err != nil {
		t.Fatalf("EnsureBranch again: %v", err)
	}
	if len(c.CreatedBranches) != 1 {
		t.Fatalf("created = %v, want one entry", c.CreatedBranches)
	}

	// The branch starts as a copy of the default branch.
	content, err := c.ReadFile(ctx, "acme", "demo", "feat", "a.txt")
	if err != nil || content != "alpha" {
		t.Fatalf("ReadFile = %q, %v", content, err)
	}

	// Edits on the branch do not touch the default branch.
	if _, err := c.CommitEdits(ctx, "acme", "demo", "feat", "msg", []Edit{
		{Kind: EditReplace, Path: "a.txt", Content: "changed"},
	}); err != nil {
		t.Fatalf("CommitEdits: %v", err)
	}
	main, _ := c.ReadFile(ctx, "acme", "demo", "main", "a.txt")
	if main != "alpha" {
		t.Fatalf("default branch changed: %q", main)
	}
}
