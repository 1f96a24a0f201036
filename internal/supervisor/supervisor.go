// Crash supervisor detecting host-level faults and attempting bounded recovery
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"enginesim-orchestrator/internal/event"
)

// AlertWriter receives operator-facing supervisor signals.
type AlertWriter interface {
	WriteAlert(event.AlertRow) error
}

// ReportState tracks a crash report through the recovery state machine.
type ReportState string

const (
	StateReported       ReportState = "reported"
	StateRecovering     ReportState = "recovering"
	StateRecovered      ReportState = "recovered"
	StateRecoveryFailed ReportState = "recovery_failed"
)

const (
	// maxCrashHistory caps retained reports; oldest are evicted first.
	maxCrashHistory = 100
	// crashRateWindow is the trailing window for rate escalation.
	crashRateWindow = time.Hour
	// staleTempAge is how old a temp file must be before remediation
	// deletes it.
	staleTempAge = 24 * time.Hour
)

// CrashReport records one observed host-level fault. It is mutated in place
// as recovery attempts are made.
type CrashReport struct {
	ID               string      `json:"id"`
	Timestamp        time.Time   `json:"timestamp"`
	HostPID          int         `json:"host_pid"`
	ExitCode         *int        `json:"exit_code,omitempty"`
	Signal           string      `json:"signal,omitempty"`
	Summary          string      `json:"summary"`
	StackTrace       string      `json:"stack_trace,omitempty"`
	RecoveryAttempts int         `json:"recovery_attempts"`
	Recovered        bool        `json:"recovered"`
	State            ReportState `json:"state"`
}

// RecoveryConfig is read on every recovery decision; changes apply to the
// next decision, not retroactively.
type RecoveryConfig struct {
	MaxRetries                int
	RetryDelay                time.Duration
	ExponentialBackoff        bool
	CrashRateThresholdPerHour int
	AutoRestart               bool
	GracefulShutdownTimeout   time.Duration
}

// DefaultRecoveryConfig returns the shipped recovery policy.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:                3,
		RetryDelay:                time.Second,
		ExponentialBackoff:        true,
		CrashRateThresholdPerHour: 5,
		AutoRestart:               true,
		GracefulShutdownTimeout:   30 * time.Second,
	}
}

// Options configure a new Supervisor.
type Options struct {
	// Config overrides the recovery policy; nil selects the default. A
	// non-nil zeroed policy is honored as given (recovery disabled).
	Config *RecoveryConfig
	Alerts AlertWriter
	Logger *slog.Logger
	// TempDir is swept for stale files during remediation; empty disables
	// the sweep.
	TempDir string
}

// Supervisor owns the crash history and the recovery policy. It never lets a
// captured fault propagate; faults are recorded and either recovered or
// escalated.
type Supervisor struct {
	mu      sync.Mutex
	cfg     RecoveryConfig
	history []*CrashReport

	alerts  AlertWriter
	logger  *slog.Logger
	tempDir string

	// Seams for tests and shutdown control.
	now       func() time.Time
	sleep     func(time.Duration)
	requestGC func()
	forceExit func(int)
}

// New builds a Supervisor from opts.
func New(opts Options) *Supervisor {
	cfg := DefaultRecoveryConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		alerts:    opts.Alerts,
		logger:    opts.Logger.With("component", "supervisor"),
		tempDir:   opts.TempDir,
		now:       time.Now,
		sleep:     time.Sleep,
		requestGC: runtime.GC,
		forceExit: os.Exit,
	}
}

// SetConfig replaces the recovery policy at runtime.
func (s *Supervisor) SetConfig(cfg RecoveryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Config returns the current recovery policy.
func (s *Supervisor) Config() RecoveryConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Report records a host-level fault and escalates when the trailing-hour
// crash count reaches the configured threshold.
func (s *Supervisor) Report(summary, stackTrace string, exitCode *int, signal string) *CrashReport {
	r := &CrashReport{
		ID:         uuid.NewString(),
		Timestamp:  s.now(),
		HostPID:    os.Getpid(),
		ExitCode:   exitCode,
		Signal:     signal,
		Summary:    summary,
		StackTrace: stackTrace,
		State:      StateReported,
	}

	s.mu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > maxCrashHistory {
		s.history = s.history[len(s.history)-maxCrashHistory:]
	}
	threshold := s.cfg.CrashRateThresholdPerHour
	recent := s.crashesSinceLocked(r.Timestamp.Add(-crashRateWindow))
	s.mu.Unlock()

	s.logger.Error("host fault captured", "crash_id", r.ID, "summary", summary, "signal", signal)
	if threshold > 0 && recent >= threshold {
		s.raiseAlert(event.AlertCritical, fmt.Sprintf("crash rate critical: %d faults in the last hour (threshold %d)", recent, threshold), r.ID)
	}
	return r
}

func (s *Supervisor) crashesSinceLocked(cutoff time.Time) int {
	n := 0
	for _, r := range s.history {
		if !r.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

// CrashesWithin counts retained reports inside the trailing window.
func (s *Supervisor) CrashesWithin(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashesSinceLocked(s.now().Add(-window))
}

// History returns a copy of the retained crash reports, oldest first.
func (s *Supervisor) History() []CrashReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CrashReport, len(s.history))
	for i, r := range s.history {
		out[i] = *r
	}
	return out
}

// AttemptRecovery runs one bounded recovery attempt for r. It returns false
// when recovery is disabled, retries are exhausted, or remediation failed
// with attempts remaining (the caller may retry later).
func (s *Supervisor) AttemptRecovery(r *CrashReport) bool {
	cfg := s.Config()
	if !cfg.AutoRestart {
		s.logger.Info("auto restart disabled, skipping recovery", "crash_id", r.ID)
		return false
	}

	s.mu.Lock()
	if r.RecoveryAttempts >= cfg.MaxRetries {
		r.State = StateRecoveryFailed
		s.mu.Unlock()
		s.raiseAlert(event.AlertCritical, fmt.Sprintf("recovery failed after %d attempts: %s", r.RecoveryAttempts, r.Summary), r.ID)
		return false
	}
	r.RecoveryAttempts++
	r.State = StateRecovering
	attempts := r.RecoveryAttempts
	s.mu.Unlock()

	delay := cfg.RetryDelay
	if cfg.ExponentialBackoff {
		delay = cfg.RetryDelay * time.Duration(1<<uint(attempts))
	}
	s.logger.Info("attempting recovery", "crash_id", r.ID, "attempt", attempts, "delay", delay)
	s.sleep(delay)

	if err := s.remediate(); err != nil {
		s.mu.Lock()
		final := r.RecoveryAttempts >= cfg.MaxRetries
		if final {
			r.State = StateRecoveryFailed
		} else {
			r.State = StateReported
		}
		s.mu.Unlock()
		s.logger.Error("remediation failed", "crash_id", r.ID, "attempt", attempts, "error", err)
		if final {
			s.raiseAlert(event.AlertCritical, fmt.Sprintf("recovery failed after %d attempts: %v", attempts, err), r.ID)
		}
		return false
	}

	s.mu.Lock()
	r.State = StateRecovered
	r.Recovered = true
	s.mu.Unlock()
	s.logger.Info("recovery succeeded", "crash_id", r.ID, "attempt", attempts)
	s.raiseAlert(event.AlertWarning, fmt.Sprintf("recovered from fault: %s", r.Summary), r.ID)
	return true
}

// remediate performs the bounded remediation action. A panic inside is
// converted to an error rather than crashing the host.
func (s *Supervisor) remediate() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("remediation panic: %v", rec)
		}
	}()
	s.requestGC()
	if s.tempDir != "" {
		return CleanStaleTemp(s.tempDir, staleTempAge)
	}
	return nil
}

// Protect runs fn and converts a panic into a crash report plus a recovery
// attempt instead of letting it take the host down.
func (s *Supervisor) Protect(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r := s.Report(fmt.Sprintf("panic in %s: %v", name, rec), string(debug.Stack()), nil, "")
			s.AttemptRecovery(r)
		}
	}()
	fn()
}

// Shutdown runs cleanup under a hard deadline; if cleanup overruns the
// configured graceful shutdown timeout, the host is force-exited.
func (s *Supervisor) Shutdown(cleanup func()) {
	cfg := s.Config()
	t := time.AfterFunc(cfg.GracefulShutdownTimeout, func() {
		s.logger.Error("graceful shutdown deadline exceeded, forcing exit", "timeout", cfg.GracefulShutdownTimeout)
		s.forceExit(1)
	})
	defer t.Stop()
	cleanup()
	s.logger.Info("shutdown complete")
}

func (s *Supervisor) raiseAlert(sev event.AlertSeverity, reason, crashID string) {
	if s.alerts == nil {
		return
	}
	row := event.AlertRow{
		Severity:  sev,
		Reason:    reason,
		CrashID:   crashID,
		Timestamp: s.now().UTC(),
	}
	if err := s.alerts.WriteAlert(row); err != nil {
		s.logger.Warn("alert write failed", "error", err)
	}
}

// CleanStaleTemp removes regular files in dir older than age.
func CleanStaleTemp(dir string, age time.Duration) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-age)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(dir + string(os.PathSeparator) + e.Name())
		}
	}
	return nil
}
