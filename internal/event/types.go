// Event rows emitted by the orchestrator and the crash supervisor.
package event

import "time"

// RunStatus describes the lifecycle state of a simulation run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
	StatusTimeout   RunStatus = "timeout"
)

// Terminal reports whether s ends a run's event stream.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// ProgressRow is one progress update for an active run.
type ProgressRow struct {
	RunID     string    `json:"run_id"`
	Percent   int       `json:"percent"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultRow is the single terminal record of a run.
type ResultRow struct {
	RunID           string    `json:"run_id"`
	Status          RunStatus `json:"status"`
	OutputArtifacts []string  `json:"output_artifacts"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Logs            []string  `json:"logs"`
	Timestamp       time.Time `json:"timestamp"`
}

// AlertSeverity ranks supervisor alerts.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// AlertRow is an operator-facing signal from the crash supervisor.
type AlertRow struct {
	Severity  AlertSeverity `json:"severity"`
	Reason    string        `json:"reason"`
	CrashID   string        `json:"crash_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
