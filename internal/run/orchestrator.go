// Orchestrator launching and supervising external engine simulation runs
package run

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"enginesim-orchestrator/internal/event"
	"enginesim-orchestrator/internal/store"
)

const (
	// maxLogLines bounds the in-memory output buffer per run.
	maxLogLines = 1000
	// maxErrLines bounds the captured stderr tail per run.
	maxErrLines = 100
)

// Termination reasons flagged before the process exits. First flag wins;
// the losing path becomes a no-op.
const (
	reasonTimeout   = "timeout"
	reasonCancelled = "cancelled"
)

// RunConfig describes one requested simulation run.
type RunConfig struct {
	ID        string
	InputPath string
	OutputDir string
	// Timeout overrides the orchestrator default when positive.
	Timeout time.Duration
}

// RunInfo is a read-only snapshot of an active run.
type RunInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	OutputDir string    `json:"output_dir"`
}

// Options configure a new Orchestrator.
type Options struct {
	// Binary is the engine executable; it receives the input path as its
	// only argument and runs inside the run's output directory.
	Binary             string
	DefaultTimeout     time.Duration
	GracePeriod        time.Duration
	ArtifactExtensions []string
	Progress           ProgressWriter
	Results            ResultWriter
	Status             store.StatusStore
	Logger             *slog.Logger
}

// Orchestrator owns the run registry, launches and cancels engine processes,
// enforces deadlines, and emits progress and result rows. Launches are
// fire-and-forget; completion is observed only through the result writer.
type Orchestrator struct {
	binary         string
	defaultTimeout time.Duration
	grace          time.Duration
	artifactExts   map[string]struct{}
	progress       ProgressWriter
	results        ResultWriter
	status         store.StatusStore
	logger         *slog.Logger

	reg *registry
	// startMu serializes the validate-then-insert section of StartRun.
	startMu sync.Mutex
}

// NewOrchestrator builds an Orchestrator from opts, filling defaults.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Minute
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	exts := make(map[string]struct{}, len(opts.ArtifactExtensions))
	for _, e := range opts.ArtifactExtensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Orchestrator{
		binary:         opts.Binary,
		defaultTimeout: opts.DefaultTimeout,
		grace:          opts.GracePeriod,
		artifactExts:   exts,
		progress:       opts.Progress,
		results:        opts.Results,
		status:         opts.Status,
		logger:         opts.Logger.With("component", "orchestrator"),
		reg:            newRegistry(),
	}
}

// activeRun bundles the process handle, deadline timer, and output buffers
// of one registry entry.
type activeRun struct {
	id        string
	cmd       *exec.Cmd
	timer     *time.Timer
	started   time.Time
	outputDir string
	done      chan struct{}
	ioWG      sync.WaitGroup

	mu       sync.Mutex
	reason   string
	logLines []string
	errLines []string
}

// flagTermination records why the run is being terminated. Only the first
// caller wins; later flags report false and must treat the run as moot.
func (r *activeRun) flagTermination(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason != "" {
		return false
	}
	r.reason = reason
	return true
}

func (r *activeRun) termination() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func (r *activeRun) appendLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logLines = append(r.logLines, line)
	if len(r.logLines) > maxLogLines {
		r.logLines = r.logLines[len(r.logLines)-maxLogLines:]
	}
}

func (r *activeRun) appendErr(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errLines = append(r.errLines, line)
	if len(r.errLines) > maxErrLines {
		r.errLines = r.errLines[len(r.errLines)-maxErrLines:]
	}
}

func (r *activeRun) snapshotLogs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logLines))
	copy(out, r.logLines)
	return out
}

func (r *activeRun) lastStderr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errLines) == 0 {
		return ""
	}
	return strings.Join(r.errLines, "\n")
}

// StartRun validates preconditions in order (duplicate id, input path,
// output directory), launches the engine process, registers the run, emits
// the initial 0% progress row, and returns without waiting for completion.
func (o *Orchestrator) StartRun(cfg RunConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: empty run id", ErrResourceUnavailable)
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	if _, ok := o.reg.get(cfg.ID); ok {
		return fmt.Errorf("%w: %s", ErrConflict, cfg.ID)
	}
	inputPath, err := filepath.Abs(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInputNotFound, cfg.InputPath)
	}
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("%w: %s", ErrInputNotFound, cfg.InputPath)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %v", ErrResourceUnavailable, err)
	}

	cmd := exec.Command(o.binary, inputPath)
	cmd.Dir = cfg.OutputDir
	// Own process group, so termination reaches engine children that would
	// otherwise inherit the pipes and hold them open past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: launch engine: %v", ErrResourceUnavailable, err)
	}

	ar := &activeRun{
		id:        cfg.ID,
		cmd:       cmd,
		started:   time.Now(),
		outputDir: cfg.OutputDir,
		done:      make(chan struct{}),
	}
	o.reg.insert(cfg.ID, ar)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	ar.timer = time.AfterFunc(timeout, func() {
		if ar.flagTermination(reasonTimeout) {
			o.logger.Warn("run deadline exceeded, killing engine", "id", ar.id, "timeout", timeout)
			signalRun(ar.cmd, syscall.SIGKILL)
		}
	})

	// The initial 0% row goes out before the stream consumers start so it
	// always precedes any interpreted progress.
	o.emitProgress(cfg.ID, 0, event.StatusRunning, "")
	o.updateStatus(cfg.ID, store.RunStatusUpdate{Status: string(event.StatusRunning), Progress: intPtr(0), OutputPath: cfg.OutputDir})

	ar.ioWG.Add(2)
	go o.consumeStdout(ar, stdout)
	go o.consumeStderr(ar, stderr)
	go o.await(ar)

	o.logger.Info("run started", "id", cfg.ID, "input", inputPath, "output_dir", cfg.OutputDir, "pid", cmd.Process.Pid, "timeout", timeout)
	return nil
}

// StopRun requests graceful termination of an active run. The engine gets
// SIGTERM immediately and SIGKILL after the grace period. The call itself
// never waits; the cancelled outcome arrives through the result writer.
func (o *Orchestrator) StopRun(id string) error {
	ar, ok := o.reg.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if !ar.flagTermination(reasonCancelled) {
		// Already terminating (deadline fired first); nothing left to do.
		return nil
	}
	o.logger.Info("run stop requested", "id", id, "grace", o.grace)
	signalRun(ar.cmd, syscall.SIGTERM)
	go func() {
		select {
		case <-ar.done:
		case <-time.After(o.grace):
			o.logger.Warn("run ignored SIGTERM, killing", "id", id)
			signalRun(ar.cmd, syscall.SIGKILL)
		}
	}()
	return nil
}

// IsRunning reports whether id is in the registry.
func (o *Orchestrator) IsRunning(id string) bool {
	_, ok := o.reg.get(id)
	return ok
}

// ListRunning returns the sorted ids of all active runs.
func (o *Orchestrator) ListRunning() []string {
	return o.reg.ids()
}

// ActiveRuns returns snapshots of all active runs.
func (o *Orchestrator) ActiveRuns() []RunInfo {
	ids := o.reg.ids()
	out := make([]RunInfo, 0, len(ids))
	for _, id := range ids {
		if ar, ok := o.reg.get(id); ok {
			out = append(out, RunInfo{ID: ar.id, StartedAt: ar.started, OutputDir: ar.outputDir})
		}
	}
	return out
}

// Shutdown stops every active run and waits for their terminal events,
// bounded per run by the grace period plus escalation slack.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	ids := o.reg.ids()
	if len(ids) > 0 {
		o.logger.Info("shutting down active runs", "count", len(ids))
	}
	for _, id := range ids {
		_ = o.StopRun(id)
	}
	for _, id := range ids {
		ar, ok := o.reg.get(id)
		if !ok {
			continue
		}
		select {
		case <-ar.done:
		case <-time.After(o.grace + time.Second):
			o.logger.Warn("run did not terminate within grace", "id", id)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) consumeStdout(ar *activeRun, r io.Reader) {
	defer ar.ioWG.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		ar.appendLog(line)
		if pct, ok := InterpretProgress(line); ok {
			o.emitProgress(ar.id, pct, event.StatusRunning, line)
		}
	}
}

func (o *Orchestrator) consumeStderr(ar *activeRun, r io.Reader) {
	defer ar.ioWG.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		ar.appendErr(line)
		o.logger.Debug("engine stderr", "id", ar.id, "line", line)
	}
}

// await blocks on process exit and resolves the terminal outcome. Output
// pipes are drained first, so no progress row can follow the result row.
func (o *Orchestrator) await(ar *activeRun) {
	ar.ioWG.Wait()
	waitErr := ar.cmd.Wait()
	ar.timer.Stop()
	o.finalize(ar, waitErr)
}

// finalize removes the registry entry and emits the single terminal result.
// The registry remove doubles as the exactly-once guard.
func (o *Orchestrator) finalize(ar *activeRun, waitErr error) {
	if !o.reg.remove(ar.id) {
		return
	}

	status := event.StatusCompleted
	errMsg := ""
	var artifacts []string
	switch ar.termination() {
	case reasonTimeout:
		status = event.StatusTimeout
		errMsg = "simulation exceeded its deadline"
	case reasonCancelled:
		status = event.StatusCancelled
	default:
		if waitErr != nil {
			status = event.StatusFailed
			errMsg = ar.lastStderr()
			if errMsg == "" {
				errMsg = waitErr.Error()
			}
		} else {
			artifacts = o.discoverArtifacts(ar.outputDir)
		}
	}

	finalPct := 0
	if status == event.StatusCompleted {
		finalPct = 100
	}
	elapsed := time.Since(ar.started)
	now := time.Now().UTC()

	o.emitProgress(ar.id, finalPct, status, "")
	o.updateStatus(ar.id, store.RunStatusUpdate{
		Status:       string(status),
		Progress:     intPtr(finalPct),
		OutputPath:   ar.outputDir,
		ErrorMessage: errMsg,
		CompletedAt:  &now,
	})
	if o.results != nil {
		row := event.ResultRow{
			RunID:           ar.id,
			Status:          status,
			OutputArtifacts: artifacts,
			ErrorMessage:    errMsg,
			ExecutionTimeMs: elapsed.Milliseconds(),
			Logs:            ar.snapshotLogs(),
			Timestamp:       now,
		}
		if err := o.results.WriteResult(row); err != nil {
			o.logger.Warn("result write failed", "id", ar.id, "error", err)
		}
	}
	o.logger.Info("run finished", "id", ar.id, "status", status, "elapsed", elapsed, "artifacts", len(artifacts))
	close(ar.done)
}

func (o *Orchestrator) emitProgress(id string, pct int, status event.RunStatus, msg string) {
	if o.progress == nil {
		return
	}
	row := event.ProgressRow{
		RunID:     id,
		Percent:   pct,
		Status:    status,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
	if err := o.progress.WriteProgress(row); err != nil {
		o.logger.Warn("progress write failed", "id", id, "error", err)
	}
}

func (o *Orchestrator) updateStatus(id string, u store.RunStatusUpdate) {
	if o.status == nil {
		return
	}
	if err := o.status.UpdateRunStatus(id, u); err != nil {
		o.logger.Warn("status update failed", "id", id, "error", err)
	}
}

// discoverArtifacts lists files in dir whose extension is recognized.
func (o *Orchestrator) discoverArtifacts(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		o.logger.Warn("artifact scan failed", "dir", dir, "error", err)
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if _, ok := o.artifactExts[ext]; ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

// signalRun delivers sig to the engine's whole process group. Falls back to
// the direct process when the group lookup fails (already reaped).
func signalRun(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil || cmd.Process.Pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil && pgid > 0 {
		_ = syscall.Kill(-pgid, sig)
		return
	}
	_ = cmd.Process.Signal(sig)
}

func intPtr(v int) *int { return &v }
