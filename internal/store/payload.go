package store

// Agent kinds. A Planner decomposes a task into sub-tasks across one or
// more repos; a Manager coordinates an Engineer and opens a PR; an
// Engineer applies code edits. Manager and Engineer operate on exactly one
// repo.
const (
	KindPlanner  = "Planner"
	KindManager  = "Manager"
	KindEngineer = "Engineer"
)

// Task statuses. Transitions move forward only, except that any
// non-terminal status may reset to Failed.
const (
	StatusQueued            = "Queued"
	StatusRunning           = "Running"
	StatusCompleted         = "Completed"
	StatusFailed            = "Failed"
	StatusSubtasksGenerated = "SubtasksGenerated"
	StatusSubtasksRunning   = "SubtasksRunning"
)

// Payload keys shared by the manager, workers, and the HTTP surface. The
// payload is a free-form JSON object; these are the agreed field names.
const (
	KeyAgentKind         = "agent_kind"
	KeyStatus            = "agent_status"
	KeyDescription       = "description"
	KeyOwner             = "owner"
	KeyRepos             = "repos"
	KeyRepo              = "repo"
	KeyBranch            = "branch"
	KeyCreatedAt         = "created_at"
	KeyUpdatedAt         = "updated_at"
	KeyModelProvider     = "model_provider"
	KeyModelName         = "model_name"
	KeyAgentOutput       = "agent_output"
	KeyRelatedRunIDs     = "related_run_ids"
	KeySiblingSubtaskIDs = "sibling_subtask_ids"
	KeyParentFullstackID = "parent_fullstack_id"
	KeySubtaskIndex      = "subtask_index"
	KeyChildRunIDs       = "child_run_ids"
	KeySubtaskIDs        = "subtask_ids"
	KeyError             = "error"
)

// NewPlannerPayload builds the initial payload for a Planner task, which
// may span several repos.
func NewPlannerPayload(description, owner string, repos []string, provider, model string) map[string]any {
	now := Now()
	return map[string]any{
		KeyAgentKind:     KindPlanner,
		KeyStatus:        StatusQueued,
		KeyDescription:   description,
		KeyOwner:         owner,
		KeyRepos:         toAnySlice(repos),
		KeyCreatedAt:     now,
		KeyUpdatedAt:     now,
		KeyModelProvider: provider,
		KeyModelName:     model,
		KeyRelatedRunIDs: []any{},
		KeyChildRunIDs:   []any{},
	}
}

// NewWorkerPayload builds the initial payload for a Manager or Engineer
// task, which target exactly one repo. Branch may be empty; the worker
// auto-generates one before any write.
func NewWorkerPayload(kind, description, owner, repo, branch, provider, model string) map[string]any {
	now := Now()
	p := map[string]any{
		KeyAgentKind:     kind,
		KeyStatus:        StatusQueued,
		KeyDescription:   description,
		KeyOwner:         owner,
		KeyRepo:          repo,
		KeyRepos:         []any{repo},
		KeyCreatedAt:     now,
		KeyUpdatedAt:     now,
		KeyModelProvider: provider,
		KeyModelName:     model,
		KeyRelatedRunIDs: []any{},
		KeyChildRunIDs:   []any{},
	}
	if branch != "" {
		p[KeyBranch] = branch
	}
	return p
}

// PayloadString reads a string field, tolerating absence.
func PayloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// PayloadStrings reads a list-of-strings field decoded from JSON.
func PayloadStrings(p map[string]any, key string) []string {
	raw, _ := p[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PayloadInt reads an integer field; JSON numbers decode as float64.
func PayloadInt(p map[string]any, key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// PayloadMap reads a nested object field.
func PayloadMap(p map[string]any, key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// IsTerminalStatus reports whether status admits no further transitions
// other than operator deletion.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
