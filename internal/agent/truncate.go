package agent

import (
	"fmt"

	"github.com/cairnhq/cairn/internal/providers"
)

// defaultMaxCallStack is how many complete (assistant, user) interaction
// cycles survive truncation.
const defaultMaxCallStack = 3

// truncateForLLM shapes the provider input from the full history: the
// system message and original user input always survive, followed by the
// last maxCallStack complete cycles. When older cycles are dropped, one
// notice user message marks the gap. The in-memory history itself is
// never truncated.
func truncateForLLM(messages []providers.Message, maxCallStack int) []providers.Message {
	if maxCallStack <= 0 {
		maxCallStack = defaultMaxCallStack
	}
	if len(messages) <= 2 {
		return messages
	}

	head := messages[:2] // system + original user input
	tail := messages[2:]

	cycles := len(tail) / 2
	if cycles <= maxCallStack {
		return messages
	}

	keep := maxCallStack * 2
	dropped := len(tail) - keep
	notice := providers.Message{
		Role: providers.RoleUser,
		Content: fmt.Sprintf(
			"[System Notice: Truncated %d older messages from the conversation history to stay within limits. The task description above and the most recent exchanges are retained.]",
			dropped),
	}

	out := make([]providers.Message, 0, len(head)+1+keep)
	out = append(out, head...)
	out = append(out, notice)
	out = append(out, tail[len(tail)-keep:]...)
	return out
}
