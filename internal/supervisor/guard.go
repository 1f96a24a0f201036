package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	pidFileName  = "orchestrator.pid"
	lockFileName = "orchestrator.lock"
)

// ErrAlreadyRunning means another live orchestrator owns the data directory.
var ErrAlreadyRunning = errors.New("another orchestrator instance is running")

// LockRecord is the periodically refreshed liveness record next to the PID
// marker. A stale record from an ungraceful exit is harmless: startup checks
// the PID for liveness, not the files for presence.
type LockRecord struct {
	PID           int       `json:"pid"`
	StartTime     time.Time `json:"start_time"`
	LastUpdate    time.Time `json:"last_update"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	MemoryBytes   uint64    `json:"memory_bytes"`
}

// InstanceGuard enforces that a single orchestrator runs against a data
// directory, via a PID marker and a refreshed lock record.
type InstanceGuard struct {
	dataDir string
	logger  *slog.Logger
	started time.Time
}

// NewInstanceGuard creates a guard for dataDir.
func NewInstanceGuard(dataDir string, logger *slog.Logger) *InstanceGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceGuard{dataDir: dataDir, logger: logger.With("component", "instance-guard")}
}

// PIDPath returns the PID marker location.
func (g *InstanceGuard) PIDPath() string { return filepath.Join(g.dataDir, pidFileName) }

// LockPath returns the lock record location.
func (g *InstanceGuard) LockPath() string { return filepath.Join(g.dataDir, lockFileName) }

// Acquire claims the data directory. It fails with ErrAlreadyRunning when
// the PID marker names a process the OS confirms is alive; a marker naming a
// dead process is treated as stale and overwritten.
func (g *InstanceGuard) Acquire() error {
	if err := os.MkdirAll(g.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if data, err := os.ReadFile(g.PIDPath()); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && pid != os.Getpid() && processAlive(pid) {
			return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
		}
		if perr == nil {
			g.logger.Info("stale pid marker found, taking over", "stale_pid", pid)
		}
	}
	g.started = time.Now()
	if err := os.WriteFile(g.PIDPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid marker: %w", err)
	}
	return g.Refresh()
}

// Refresh rewrites the lock record with current uptime and memory usage.
func (g *InstanceGuard) Refresh() error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rec := LockRecord{
		PID:           os.Getpid(),
		StartTime:     g.started,
		LastUpdate:    time.Now(),
		UptimeSeconds: time.Since(g.started).Seconds(),
		MemoryBytes:   ms.Alloc,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(g.LockPath(), data, 0o644)
}

// RefreshLoop refreshes the lock record every interval until ctx is done.
// Refresh failures are logged, not fatal.
func (g *InstanceGuard) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Refresh(); err != nil {
				g.logger.Warn("lock record refresh failed", "error", err)
			}
		}
	}
}

// Release removes the PID marker and the lock record.
func (g *InstanceGuard) Release() {
	if err := os.Remove(g.PIDPath()); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("pid marker removal failed", "error", err)
	}
	if err := os.Remove(g.LockPath()); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("lock record removal failed", "error", err)
	}
}

// processAlive asks the OS whether pid exists, via signal 0. EPERM still
// means the process exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
