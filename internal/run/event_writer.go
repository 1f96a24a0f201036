package run

import "enginesim-orchestrator/internal/event"

// ProgressWriter is an interface to support different progress sinks.
type ProgressWriter interface {
	WriteProgress(event.ProgressRow) error
}

// ResultWriter handles terminal run results.
type ResultWriter interface {
	WriteResult(event.ResultRow) error
}

// AlertWriter handles supervisor alerts.
type AlertWriter interface {
	WriteAlert(event.AlertRow) error
}

// Optional: progress writers may support batch mode.
type batchProgressWriter interface {
	WriteProgressBatch([]event.ProgressRow) error
}
