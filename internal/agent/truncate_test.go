package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cairnhq/cairn/internal/providers"
)

// history builds system + user + n (assistant, user) cycles.
func history(cycles int) []providers.Message {
	msgs := []providers.Message{
		{Role: providers.RoleSystem, Content: "system prompt"},
		{Role: providers.RoleUser, Content: "original task"},
	}
	for i := 0; i < cycles; i++ {
		msgs = append(msgs,
			providers.Message{Role: providers.RoleAssistant, Content: fmt.Sprintf("assistant %d", i)},
			providers.Message{Role: providers.RoleUser, Content: fmt.Sprintf("tool results %d", i)},
		)
	}
	return msgs
}

func TestTruncateForLLM(t *testing.T) {
	t.Run("8 cycles with stack 3", func(t *testing.T) {
		msgs := history(8)
		got := truncateForLLM(msgs, 3)

		// system + original user + notice + 3 cycles.
		if len(got) != 9 {
			t.Fatalf("len = %d, want 9", len(got))
		}
		if got[0].Role != providers.RoleSystem || got[1].Content != "original task" {
			t.Fatalf("head not preserved: %+v", got[:2])
		}
		if got[2].Role != providers.RoleUser || !strings.Contains(got[2].Content, "Truncated 10 older messages") {
			t.Fatalf("notice = %+v", got[2])
		}
		if got[3].Content != "assistant 5" || got[8].Content != "tool results 7" {
			t.Fatalf("kept window wrong: first %q last %q", got[3].Content, got[8].Content)
		}

		// The full history is untouched.
		if len(msgs) != 18 {
			t.Fatalf("history mutated: len = %d", len(msgs))
		}
	})

	t.Run("at the limit passes through", func(t *testing.T) {
		msgs := history(3)
		got := truncateForLLM(msgs, 3)
		if len(got) != len(msgs) {
			t.Fatalf("len = %d, want %d", len(got), len(msgs))
		}
		for i := range got {
			if got[i].Content != msgs[i].Content {
				t.Fatalf("message %d changed", i)
			}
		}
	})

	t.Run("one over the limit truncates", func(t *testing.T) {
		got := truncateForLLM(history(4), 3)
		// system + user + notice + 6.
		if len(got) != 9 {
			t.Fatalf("len = %d, want 9", len(got))
		}
		if !strings.Contains(got[2].Content, "Truncated 2 older messages") {
			t.Fatalf("notice = %q", got[2].Content)
		}
	})

	t.Run("short history untouched", func(t *testing.T) {
		msgs := history(0)
		got := truncateForLLM(msgs, 3)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
	})

	t.Run("non-positive stack uses default", func(t *testing.T) {
		got := truncateForLLM(history(8), 0)
		if len(got) != 9 {
			t.Fatalf("len = %d, want 9 (default stack 3)", len(got))
		}
	})
}

func TestExtractTag(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		tag    string
		want   string
		wantOK bool
	}{
		{"simple", "<analysis>check the config</analysis>", "analysis", "check the config", true},
		{"surrounded", "before <analysis>x</analysis> after", "analysis", "x", true},
		{"multiline", "<analysis>\nline one\nline two\n</analysis>", "analysis", "line one\nline two", true},
		{"case insensitive", "<ANALYSIS>shout</ANALYSIS>", "analysis", "shout", true},
		{"whitespace trimmed", "<repo_memory>   note   </repo_memory>", "repo_memory", "note", true},
		{"first of several", "<analysis>one</analysis><analysis>two</analysis>", "analysis", "one", true},
		{"absent", "no tags here", "analysis", "", false},
		{"unclosed", "<analysis>dangling", "analysis", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractTag(tt.text, tt.tag)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractTag() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
