package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/store"
	"github.com/cairnhq/cairn/pkg/ids"
)

// termGrace is how long a worker gets between SIGTERM and SIGKILL.
const termGrace = 5 * time.Second

// minMonitorInterval keeps the exit reconciler at 1Hz or faster.
const minMonitorInterval = time.Second

// CreateTaskRequest is what the HTTP surface and CLI hand the manager to
// start a task.
type CreateTaskRequest struct {
	Description string
	Owner       string
	Kind        string   // defaults to Planner
	Repos       []string // defaults to all connected repos
	Branch      string
	Provider    string
	Model       string
}

// Manager owns task creation and the lifecycle of worker child processes:
// spawn, output capture, exit reconciliation, and cleanup. All worker state
// lives in the store; the Manager only tracks live processes.
type Manager struct {
	cfg *config.Config
	st  *store.Store

	mu    sync.Mutex
	procs map[string]*workerProc

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup

	// startWorker is StartWorker unless a test substitutes a recorder.
	startWorker func(runID string) error
}

// workerProc is one spawned worker child.
type workerProc struct {
	runID   string
	cmd     *exec.Cmd
	logFile *os.File
	pumps   sync.WaitGroup

	mu       sync.Mutex
	exited   bool
	exitCode int
}

func New(cfg *config.Config, st *store.Store) *Manager {
	m := &Manager{
		cfg:   cfg,
		st:    st,
		procs: make(map[string]*workerProc),
		stop:  make(chan struct{}),
	}
	m.startWorker = m.StartWorker
	return m
}

// Start launches the monitor and janitor loops.
func (m *Manager) Start() {
	m.done.Add(2)
	go m.monitorLoop()
	go m.janitorLoop()
}

// Stop terminates every live worker and waits for the loops to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	runIDs := make([]string, 0, len(m.procs))
	for id := range m.procs {
		runIDs = append(runIDs, id)
	}
	m.mu.Unlock()

	for _, id := range runIDs {
		if err := m.CleanupTask(id); err != nil {
			slog.Warn("cleanup on stop failed", "run_id", id, "error", err)
		}
	}
	m.done.Wait()
}

// CreateTask allocates a run id, writes the task row, and spawns the
// worker. The row is visible in the store before the child starts, so a
// crash between the two leaves a Queued task the janitor can surface.
func (m *Manager) CreateTask(req CreateTaskRequest) (string, error) {
	if req.Description == "" {
		return "", fmt.Errorf("task description required")
	}
	kind := req.Kind
	if kind == "" {
		kind = store.KindPlanner
	}
	repos := req.Repos
	if len(repos) == 0 {
		repos = m.cfg.RepoNames()
	}
	if len(repos) == 0 {
		return "", fmt.Errorf("no repositories configured")
	}
	owner := req.Owner
	if owner == "" {
		if pairs := m.cfg.ConnectedRepos(); len(pairs) > 0 {
			owner = pairs[0][0]
		}
	}

	runID := ids.NewRunID(func(id string) bool {
		_, err := m.st.GetActiveTask(id)
		return err == nil
	})

	var payload map[string]any
	switch kind {
	case store.KindPlanner:
		payload = store.NewPlannerPayload(req.Description, owner, repos, req.Provider, req.Model)
	case store.KindManager, store.KindEngineer:
		payload = store.NewWorkerPayload(kind, req.Description, owner, repos[0], req.Branch, req.Provider, req.Model)
	default:
		return "", fmt.Errorf("unknown agent kind %q", kind)
	}

	if err := m.st.AddActiveTask(runID, payload); err != nil {
		return "", fmt.Errorf("create task row: %w", err)
	}
	m.debugf("task %s created (%s)", runID, kind)

	if err := m.startWorker(runID); err != nil {
		return runID, err
	}
	return runID, nil
}

// SpawnSubtasks turns a completed planner's sub-task list into Manager
// worker tasks, one per pre-allocated sub-task id, and spawns them all.
// The planner row moves Completed → SubtasksGenerated once the child rows
// exist, then SubtasksRunning once their workers are started. Every
// sibling's id is carried on every child so agents can observe each other.
func (m *Manager) SpawnSubtasks(plannerRunID string) ([]string, error) {
	payload, err := m.st.GetActiveTask(plannerRunID)
	if err != nil {
		return nil, fmt.Errorf("load planner task: %w", err)
	}
	if got := store.PayloadString(payload, store.KeyStatus); got != store.StatusCompleted {
		return nil, fmt.Errorf("planner %s is %s, want %s", plannerRunID, got, store.StatusCompleted)
	}

	output := store.PayloadMap(payload, store.KeyAgentOutput)
	descriptions := store.PayloadStrings(output, "list_of_subtasks")
	titles := store.PayloadStrings(output, "list_of_subtask_titles")
	repos := store.PayloadStrings(output, "list_of_subtask_repos")
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("planner %s produced no sub-tasks", plannerRunID)
	}

	// Re-allocation returns the same ids the planner recorded.
	subIDs, err := m.st.PreGenerateSubtaskIDs(plannerRunID, len(descriptions))
	if err != nil {
		return nil, fmt.Errorf("allocate sub-task ids: %w", err)
	}
	siblings := make([]any, len(subIDs))
	for i, id := range subIDs {
		siblings[i] = id
	}

	owner := store.PayloadString(payload, store.KeyOwner)
	provider := store.PayloadString(payload, store.KeyModelProvider)
	model := store.PayloadString(payload, store.KeyModelName)

	for i, description := range descriptions {
		repo := ""
		if i < len(repos) {
			repo = repos[i]
		}
		if repo == "" {
			if names := store.PayloadStrings(payload, store.KeyRepos); len(names) > 0 {
				repo = names[0]
			}
		}
		if i < len(titles) && titles[i] != "" {
			description = titles[i] + "\n\n" + description
		}

		child := store.NewWorkerPayload(store.KindManager, description, owner, repo, "", provider, model)
		child[store.KeyParentFullstackID] = plannerRunID
		child[store.KeySubtaskIndex] = i
		child[store.KeySiblingSubtaskIDs] = siblings

		if err := m.st.AddActiveTask(subIDs[i], child); err != nil {
			return nil, fmt.Errorf("create sub-task %s: %w", subIDs[i], err)
		}
		if err := m.st.AddRunIDToTask(plannerRunID, subIDs[i]); err != nil {
			slog.Warn("could not link sub-task to planner", "run_id", subIDs[i], "error", err)
		}
	}

	payload[store.KeyStatus] = store.StatusSubtasksGenerated
	payload[store.KeyUpdatedAt] = store.Now()
	if err := m.st.UpdateActiveTask(plannerRunID, payload); err != nil {
		return nil, fmt.Errorf("mark planner sub-tasks generated: %w", err)
	}

	for _, id := range subIDs {
		if err := m.startWorker(id); err != nil {
			m.debugf("sub-task %s failed to start: %v", id, err)
			slog.Error("sub-task spawn failed", "run_id", id, "error", err)
		}
	}

	payload[store.KeyStatus] = store.StatusSubtasksRunning
	payload[store.KeyUpdatedAt] = store.Now()
	if err := m.st.UpdateActiveTask(plannerRunID, payload); err != nil {
		return nil, fmt.Errorf("mark planner running sub-tasks: %w", err)
	}
	m.debugf("planner %s spawned %d sub-tasks", plannerRunID, len(subIDs))
	return subIDs, nil
}

// StartWorker spawns the worker child process for runID. The child is this
// same executable invoked as "worker <run_id>", in its own process group so
// cleanup can signal the whole tree.
func (m *Manager) StartWorker(runID string) error {
	m.mu.Lock()
	if _, live := m.procs[runID]; live {
		m.mu.Unlock()
		return fmt.Errorf("worker for %s already running", runID)
	}
	m.mu.Unlock()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	logFile, err := m.openRunLog(runID)
	if err != nil {
		return err
	}

	cmd := exec.Command(self, "worker", runID)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logFile.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		m.debugf("worker %s failed to start: %v", runID, err)
		return fmt.Errorf("start worker: %w", err)
	}

	proc := &workerProc{runID: runID, cmd: cmd, logFile: logFile}
	proc.pumps.Add(2)
	go pump(&proc.pumps, logFile, stdout)
	go pump(&proc.pumps, logFile, stderr)

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
			}
		}
		proc.mu.Lock()
		proc.exited = true
		proc.exitCode = code
		proc.mu.Unlock()
	}()

	m.mu.Lock()
	m.procs[runID] = proc
	m.mu.Unlock()

	m.debugf("worker %s started (pid %d)", runID, cmd.Process.Pid)
	slog.Info("worker started", "run_id", runID, "pid", cmd.Process.Pid)
	return nil
}

// CleanupTask terminates the worker for runID if it is still alive: SIGTERM
// to the process group, a grace period, then SIGKILL. Pipes are drained and
// the log file closed either way.
func (m *Manager) CleanupTask(runID string) error {
	m.mu.Lock()
	proc, ok := m.procs[runID]
	if ok {
		delete(m.procs, runID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	proc.mu.Lock()
	alive := !proc.exited
	proc.mu.Unlock()

	if alive {
		pgid := proc.cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)

		deadline := time.After(termGrace)
		tick := time.NewTicker(100 * time.Millisecond)
	wait:
		for {
			select {
			case <-deadline:
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
				break wait
			case <-tick.C:
				proc.mu.Lock()
				exited := proc.exited
				proc.mu.Unlock()
				if exited {
					break wait
				}
			}
		}
		tick.Stop()
	}

	proc.pumps.Wait()
	if err := proc.logFile.Close(); err != nil {
		slog.Warn("close run log", "run_id", runID, "error", err)
	}
	m.debugf("worker %s cleaned up", runID)
	return nil
}

// RemoveTask tears down the worker and deletes the task row, its logs, and
// its run-id links.
func (m *Manager) RemoveTask(runID string) error {
	if err := m.CleanupTask(runID); err != nil {
		return err
	}
	if err := m.st.RemoveLogsForTask(runID); err != nil {
		return fmt.Errorf("remove task logs: %w", err)
	}
	if err := m.st.RemoveActiveTask(runID); err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	m.debugf("task %s removed", runID)
	return nil
}

// LiveRunIDs reports which workers currently have a child process.
func (m *Manager) LiveRunIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.procs))
	for id := range m.procs {
		out = append(out, id)
	}
	return out
}

// monitorLoop reconciles exited children with the store at 1Hz or faster.
func (m *Manager) monitorLoop() {
	defer m.done.Done()

	interval := time.Duration(m.cfg.Manager.MonitorIntervalMS) * time.Millisecond
	if interval <= 0 || interval > minMonitorInterval {
		interval = minMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reconcileExits()
		}
	}
}

// reconcileExits handles children that exited without the worker writing a
// terminal status itself. Exit 0 with a still-Running row means the worker
// died between finishing and flushing; nonzero means it crashed. Only
// still-Running rows are rewritten; anything else the worker (or operator)
// owns.
func (m *Manager) reconcileExits() {
	m.mu.Lock()
	var finished []*workerProc
	for id, proc := range m.procs {
		proc.mu.Lock()
		exited := proc.exited
		proc.mu.Unlock()
		if exited {
			finished = append(finished, proc)
			delete(m.procs, id)
		}
	}
	m.mu.Unlock()

	for _, proc := range finished {
		proc.pumps.Wait()
		proc.logFile.Close()

		proc.mu.Lock()
		code := proc.exitCode
		proc.mu.Unlock()

		payload, err := m.st.GetActiveTask(proc.runID)
		if err != nil {
			slog.Warn("exited worker has no task row", "run_id", proc.runID, "error", err)
			continue
		}
		status := store.PayloadString(payload, store.KeyStatus)
		if status != store.StatusRunning {
			m.debugf("worker %s exited (code %d, status %s)", proc.runID, code, status)
			continue
		}

		if code == 0 {
			payload[store.KeyStatus] = store.StatusCompleted
		} else {
			payload[store.KeyStatus] = store.StatusFailed
			payload[store.KeyError] = fmt.Sprintf("worker process exited with code %d", code)
		}
		payload[store.KeyUpdatedAt] = store.Now()
		if err := m.st.UpdateActiveTask(proc.runID, payload); err != nil {
			slog.Error("could not reconcile worker exit", "run_id", proc.runID, "error", err)
			continue
		}
		m.debugf("worker %s exited with code %d, status now %s", proc.runID, code, payload[store.KeyStatus])
	}
}

// debugf appends a timestamped line to the operator debug feed.
func (m *Manager) debugf(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	if err := m.st.AddDebugMessage(msg); err != nil {
		slog.Warn("debug feed write failed", "error", err)
	}
}

// openRunLog opens the per-run capture file for a worker's combined
// stdout and stderr.
func (m *Manager) openRunLog(runID string) (*os.File, error) {
	dir := m.cfg.Manager.LogDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "cairn-logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, runID+".log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return f, nil
}

// pump copies one child pipe into the run log until EOF.
func pump(wg *sync.WaitGroup, dst io.Writer, src io.Reader) {
	defer wg.Done()
	if _, err := io.Copy(dst, src); err != nil {
		slog.Debug("run log pump ended", "error", err)
	}
}

// WaitForTerminal blocks until the task reaches a terminal status or ctx
// expires. Used by the CLI's synchronous mode.
func (m *Manager) WaitForTerminal(ctx context.Context, runID string) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			payload, err := m.st.GetActiveTask(runID)
			if err != nil {
				return "", err
			}
			status := store.PayloadString(payload, store.KeyStatus)
			if store.IsTerminalStatus(status) {
				return status, nil
			}
		}
	}
}
