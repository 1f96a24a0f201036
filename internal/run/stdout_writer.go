// Writer implementation printing event rows to STDOUT
package run

import (
	"encoding/json"
	"fmt"

	"enginesim-orchestrator/internal/event"
)

// StdoutWriter prints event rows to STDOUT as JSON lines.
type StdoutWriter struct{}

// WriteProgress outputs a single progress row.
func (w *StdoutWriter) WriteProgress(row event.ProgressRow) error {
	data, _ := json.Marshal(row)
	fmt.Println(string(data))
	return nil
}

// WriteProgressBatch outputs multiple progress rows.
func (w *StdoutWriter) WriteProgressBatch(rows []event.ProgressRow) error {
	for _, r := range rows {
		_ = w.WriteProgress(r)
	}
	return nil
}

// WriteResult prints a terminal result row to STDOUT.
func (w *StdoutWriter) WriteResult(row event.ResultRow) error {
	data, _ := json.Marshal(row)
	fmt.Println(string(data))
	return nil
}

// WriteAlert prints a supervisor alert to STDOUT.
func (w *StdoutWriter) WriteAlert(row event.AlertRow) error {
	data, _ := json.Marshal(row)
	fmt.Println(string(data))
	return nil
}
