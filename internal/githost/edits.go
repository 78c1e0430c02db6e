package githost

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ApplyEdit returns the file content after one edit. EditDelete is handled
// by the caller; passing it here is an error.
func ApplyEdit(current string, edit Edit) (string, error) {
	switch edit.Kind {
	case EditReplace:
		return edit.Content, nil

	case EditUnifiedDiff:
		return applyUnifiedDiff(current, edit.Content)

	case EditLineRange:
		return applyLineRange(current, edit)

	case EditDelete:
		return "", fmt.Errorf("delete edit has no content transform")

	default:
		return "", fmt.Errorf("unknown edit kind %q", edit.Kind)
	}
}

// applyUnifiedDiff applies a unified diff to current. diffmatchpatch's
// patch application does fuzzy context matching, so a diff generated
// against a slightly stale copy of the file still lands when the
// surrounding context is recognizable.
func applyUnifiedDiff(current, diffText string) (string, error) {
	dmp := diffmatchpatch.New()

	patches, err := dmp.PatchFromText(normalizeUnifiedDiff(diffText))
	if err != nil {
		return "", fmt.Errorf("parse diff: %w", err)
	}
	if len(patches) == 0 {
		return "", fmt.Errorf("parse diff: no hunks found")
	}

	result, applied := dmp.PatchApply(patches, current)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("apply diff: hunk %d did not match", i+1)
		}
	}
	return result, nil
}

// normalizeUnifiedDiff strips git-style headers (---/+++/diff/index lines)
// that PatchFromText does not understand, keeping @@ hunks intact.
func normalizeUnifiedDiff(diffText string) string {
	var out []string
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "),
			strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "diff "),
			strings.HasPrefix(line, "index "):
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func applyLineRange(current string, edit Edit) (string, error) {
	lines := strings.Split(current, "\n")
	start, end := edit.StartLine, edit.EndLine
	if start < 1 || end < start || start > len(lines) {
		return "", fmt.Errorf("line range %d-%d out of bounds (file has %d lines)", start, end, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}

	var out []string
	out = append(out, lines[:start-1]...)
	if edit.Content != "" {
		out = append(out, strings.Split(edit.Content, "\n")...)
	}
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}
