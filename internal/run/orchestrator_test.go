package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"enginesim-orchestrator/internal/event"
	"enginesim-orchestrator/internal/store"
)

// MockEventWriter collects emitted rows for validation.
type MockEventWriter struct {
	mu       sync.Mutex
	progress []event.ProgressRow
	results  []event.ResultRow
	sequence []string
}

func (w *MockEventWriter) WriteProgress(row event.ProgressRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progress = append(w.progress, row)
	w.sequence = append(w.sequence, "progress")
	return nil
}

func (w *MockEventWriter) WriteResult(row event.ResultRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results = append(w.results, row)
	w.sequence = append(w.sequence, "result")
	return nil
}

func (w *MockEventWriter) Progress() []event.ProgressRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]event.ProgressRow, len(w.progress))
	copy(out, w.progress)
	return out
}

func (w *MockEventWriter) Results() []event.ResultRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]event.ResultRow, len(w.results))
	copy(out, w.results)
	return out
}

func (w *MockEventWriter) Sequence() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.sequence))
	copy(out, w.sequence)
	return out
}

// waitResult polls until one result row arrived or the deadline passed.
func (w *MockEventWriter) waitResult(t *testing.T, timeout time.Duration) event.ResultRow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if res := w.Results(); len(res) > 0 {
			return res[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no result row within deadline")
	return event.ResultRow{}
}

// MockStatusStore records status transitions.
type MockStatusStore struct {
	mu      sync.Mutex
	updates []string
}

func (s *MockStatusStore) UpdateRunStatus(id string, u store.RunStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, id+":"+u.Status)
	return nil
}

// writeEngineScript creates a shell script standing in for the engine binary.
func writeEngineScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write engine script: %v", err)
	}
	return path
}

// writeInputFile creates a dummy model file for a run.
func writeInputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.wam")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("failed to write input file: %v", err)
	}
	return path
}

func newTestOrchestrator(t *testing.T, binary string, w *MockEventWriter, st store.StatusStore) *Orchestrator {
	t.Helper()
	return NewOrchestrator(Options{
		Binary:             binary,
		DefaultTimeout:     10 * time.Second,
		GracePeriod:        200 * time.Millisecond,
		ArtifactExtensions: []string{".csv", ".dat"},
		Progress:           w,
		Results:            w,
		Status:             st,
	})
}

func TestStartRun_Completes(t *testing.T) {
	script := writeEngineScript(t, `echo "Cycle 5 of 10"
echo "Progress: 100%"
touch result.csv
touch notes.txt`)
	w := &MockEventWriter{}
	st := &MockStatusStore{}
	orch := newTestOrchestrator(t, script, w, st)
	outDir := filepath.Join(t.TempDir(), "out")

	if err := orch.StartRun(RunConfig{ID: "sim-ok", InputPath: writeInputFile(t), OutputDir: outDir}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	res := w.waitResult(t, 3*time.Second)
	if res.Status != event.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if len(res.OutputArtifacts) != 1 || filepath.Base(res.OutputArtifacts[0]) != "result.csv" {
		t.Errorf("artifacts = %v, want only result.csv", res.OutputArtifacts)
	}
	if res.ExecutionTimeMs < 0 {
		t.Errorf("execution time should be non-negative, got %d", res.ExecutionTimeMs)
	}
	if orch.IsRunning("sim-ok") {
		t.Error("registry should be empty after completion")
	}

	// Initial 0%, one 50% from the cycle line, one 100% from the explicit
	// percent, and the terminal 100%.
	var percents []int
	for _, p := range w.Progress() {
		percents = append(percents, p.Percent)
	}
	if len(percents) < 3 || percents[0] != 0 {
		t.Errorf("unexpected progress sequence: %v", percents)
	}
	if last := percents[len(percents)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.updates) == 0 || st.updates[0] != "sim-ok:running" {
		t.Errorf("expected initial running status update, got %v", st.updates)
	}
}

func TestStartRun_DuplicateIDConflicts(t *testing.T) {
	script := writeEngineScript(t, "sleep 5")
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)
	input := writeInputFile(t)
	outDir := t.TempDir()

	if err := orch.StartRun(RunConfig{ID: "sim-1", InputPath: input, OutputDir: outDir}); err != nil {
		t.Fatalf("first StartRun failed: %v", err)
	}
	defer orch.Shutdown(context.Background())

	err := orch.StartRun(RunConfig{ID: "sim-1", InputPath: input, OutputDir: outDir})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second StartRun error = %v, want ErrConflict", err)
	}
	if !orch.IsRunning("sim-1") {
		t.Error("conflicting start must not disturb the first run")
	}
}

func TestStartRun_InputMissing(t *testing.T) {
	script := writeEngineScript(t, "exit 0")
	orch := newTestOrchestrator(t, script, &MockEventWriter{}, nil)

	err := orch.StartRun(RunConfig{ID: "sim-x", InputPath: "/nonexistent/model.wam", OutputDir: t.TempDir()})
	if !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("error = %v, want ErrInputNotFound", err)
	}
	if orch.IsRunning("sim-x") {
		t.Error("no registry entry may exist after a precondition failure")
	}
}

func TestStartRun_OutputDirUnavailable(t *testing.T) {
	script := writeEngineScript(t, "exit 0")
	orch := newTestOrchestrator(t, script, &MockEventWriter{}, nil)

	// A file where the output directory should go makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := orch.StartRun(RunConfig{ID: "sim-y", InputPath: writeInputFile(t), OutputDir: filepath.Join(blocker, "out")})
	if !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("error = %v, want ErrResourceUnavailable", err)
	}
}

func TestRun_FailureCapturesStderr(t *testing.T) {
	script := writeEngineScript(t, `echo "solver diverged" >&2
exit 3`)
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)

	if err := orch.StartRun(RunConfig{ID: "sim-fail", InputPath: writeInputFile(t), OutputDir: t.TempDir()}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	res := w.waitResult(t, 3*time.Second)
	if res.Status != event.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.ErrorMessage != "solver diverged" {
		t.Errorf("error message = %q, want stderr content", res.ErrorMessage)
	}
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	script := writeEngineScript(t, "sleep 5")
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)

	start := time.Now()
	if err := orch.StartRun(RunConfig{ID: "sim-1", InputPath: writeInputFile(t), OutputDir: t.TempDir(), Timeout: 100 * time.Millisecond}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	res := w.waitResult(t, 2*time.Second)
	if res.Status != event.StatusTimeout {
		t.Fatalf("status = %s, want timeout", res.Status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s, expected well under a second", elapsed)
	}
	if orch.IsRunning("sim-1") {
		t.Error("registry should be empty after timeout")
	}
}

func TestRun_TimeoutKillsEngineChildren(t *testing.T) {
	// A spawned child inherits the output pipes; killing only the direct
	// process would leave the pipe open and stall the terminal result until
	// the child exits on its own.
	script := writeEngineScript(t, "sleep 5 &\nsleep 5")
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)

	start := time.Now()
	if err := orch.StartRun(RunConfig{ID: "sim-child", InputPath: writeInputFile(t), OutputDir: t.TempDir(), Timeout: 100 * time.Millisecond}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	res := w.waitResult(t, 2*time.Second)
	if res.Status != event.StatusTimeout {
		t.Fatalf("status = %s, want timeout", res.Status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("result took %s, the child must not hold the pipes open", elapsed)
	}
	if orch.IsRunning("sim-child") {
		t.Error("registry should be empty after timeout")
	}
}

func TestRun_TimeoutWinsOverConcurrentStop(t *testing.T) {
	script := writeEngineScript(t, "sleep 5")
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)

	if err := orch.StartRun(RunConfig{ID: "sim-race", InputPath: writeInputFile(t), OutputDir: t.TempDir(), Timeout: 50 * time.Millisecond}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	// Let the deadline fire first, then request a stop.
	time.Sleep(80 * time.Millisecond)
	_ = orch.StopRun("sim-race")

	res := w.waitResult(t, 2*time.Second)
	if res.Status != event.StatusTimeout {
		t.Errorf("status = %s, want timeout even with a concurrent stop", res.Status)
	}
}

func TestStopRun_Cancels(t *testing.T) {
	script := writeEngineScript(t, "sleep 5")
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)

	if err := orch.StartRun(RunConfig{ID: "sim-stop", InputPath: writeInputFile(t), OutputDir: t.TempDir()}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := orch.StopRun("sim-stop"); err != nil {
		t.Fatalf("StopRun failed: %v", err)
	}
	res := w.waitResult(t, 3*time.Second)
	if res.Status != event.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
	if orch.IsRunning("sim-stop") {
		t.Error("registry should be empty after cancellation")
	}
}

func TestStopRun_NotRunning(t *testing.T) {
	script := writeEngineScript(t, "exit 0")
	orch := newTestOrchestrator(t, script, &MockEventWriter{}, nil)
	if err := orch.StopRun("ghost"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("error = %v, want ErrNotRunning", err)
	}
}

func TestRun_ExactlyOneResultAndOrdering(t *testing.T) {
	script := writeEngineScript(t, `echo "Progress: 50%"`)
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)

	if err := orch.StartRun(RunConfig{ID: "sim-seq", InputPath: writeInputFile(t), OutputDir: t.TempDir()}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	w.waitResult(t, 3*time.Second)
	// Give any stray goroutine a moment to misbehave.
	time.Sleep(50 * time.Millisecond)

	if n := len(w.Results()); n != 1 {
		t.Fatalf("got %d result rows, want exactly 1", n)
	}
	seq := w.Sequence()
	if seq[len(seq)-1] != "result" {
		t.Errorf("result must be the last event, sequence: %v", seq)
	}
	for i, kind := range seq {
		if kind == "result" && i != len(seq)-1 {
			t.Errorf("event after result at position %d: %v", i, seq)
		}
	}
}

func TestShutdown_StopsAllRuns(t *testing.T) {
	script := writeEngineScript(t, "sleep 5")
	w := &MockEventWriter{}
	orch := newTestOrchestrator(t, script, w, nil)
	input := writeInputFile(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := orch.StartRun(RunConfig{ID: id, InputPath: input, OutputDir: filepath.Join(t.TempDir(), id)}); err != nil {
			t.Fatalf("StartRun(%s) failed: %v", id, err)
		}
	}
	if got := len(orch.ListRunning()); got != 3 {
		t.Fatalf("active runs = %d, want 3", got)
	}

	orch.Shutdown(context.Background())
	if got := len(orch.ListRunning()); got != 0 {
		t.Errorf("active runs after shutdown = %d, want 0", got)
	}
	if got := len(w.Results()); got != 3 {
		t.Errorf("terminal events = %d, want 3", got)
	}
}
