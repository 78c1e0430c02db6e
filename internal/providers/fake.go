package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// ErrNoQueuedResponses is returned when the fake provider's queue runs dry.
// A fake provider never falls through to a live call.
var ErrNoQueuedResponses = errors.New("fake provider: no queued responses remaining")

// FakeProvider serves preloaded responses FIFO. Used by tests and by
// scripted end-to-end runs.
type FakeProvider struct {
	mu    sync.Mutex
	queue []fakeEntry
	model string

	// Requests records every request seen, in order.
	Requests []Request
}

type fakeEntry struct {
	resp *Response
	err  error
}

func NewFakeProvider(model string) *FakeProvider {
	if model == "" {
		model = "fake-model"
	}
	return &FakeProvider{model: model}
}

func (p *FakeProvider) Name() string         { return "fake" }
func (p *FakeProvider) DefaultModel() string { return p.model }

// PushResponse queues a successful response.
func (p *FakeProvider) PushResponse(resp *Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.ToolResults == nil {
		resp.ToolResults = make(map[string]ToolResult)
	}
	p.queue = append(p.queue, fakeEntry{resp: resp})
}

// PushText queues a plain assistant text response.
func (p *FakeProvider) PushText(text string) {
	p.PushResponse(&Response{Text: text})
}

// PushToolCall queues a response invoking a single tool.
func (p *FakeProvider) PushToolCall(name string, input map[string]any) {
	p.PushResponse(&Response{
		ToolCalls: []ToolCall{{ID: NewToolUseID(), Name: name, Input: input}},
	})
}

// PushHTTPError queues a provider-side failure with the given status.
func (p *FakeProvider) PushHTTPError(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, fakeEntry{err: &HTTPError{Status: status, Body: body}})
}

// Remaining returns the number of queued entries not yet consumed.
func (p *FakeProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *FakeProvider) Invoke(_ context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if len(p.queue) == 0 {
		return nil, fmt.Errorf("%w (after %d requests)", ErrNoQueuedResponses, len(p.Requests))
	}
	entry := p.queue[0]
	p.queue = p.queue[1:]
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.resp, nil
}

// NewToolUseID returns a fresh synthetic tool-use id.
func NewToolUseID() string {
	return "toolu_" + uuid.NewString()
}
