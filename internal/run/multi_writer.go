package run

import "enginesim-orchestrator/internal/event"

// MultiWriter fan-outs event rows to multiple writers.
type MultiWriter struct {
	progressWriters []ProgressWriter
	resultWriters   []ResultWriter
	alertWriters    []AlertWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(pws []ProgressWriter, rws []ResultWriter, aws []AlertWriter) *MultiWriter {
	return &MultiWriter{progressWriters: pws, resultWriters: rws, alertWriters: aws}
}

// WriteProgress sends a progress row to all progress writers.
func (mw *MultiWriter) WriteProgress(row event.ProgressRow) error {
	for _, w := range mw.progressWriters {
		if err := w.WriteProgress(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteProgressBatch sends multiple progress rows to all writers, using
// batch mode if supported.
func (mw *MultiWriter) WriteProgressBatch(rows []event.ProgressRow) error {
	for _, w := range mw.progressWriters {
		if bw, ok := w.(batchProgressWriter); ok {
			if err := bw.WriteProgressBatch(rows); err != nil {
				return err
			}
			continue
		}
		for _, r := range rows {
			if err := w.WriteProgress(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteResult sends a result row to all result writers.
func (mw *MultiWriter) WriteResult(row event.ResultRow) error {
	for _, w := range mw.resultWriters {
		if err := w.WriteResult(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteAlert sends an alert to all alert writers.
func (mw *MultiWriter) WriteAlert(row event.AlertRow) error {
	for _, w := range mw.alertWriters {
		if err := w.WriteAlert(row); err != nil {
			return err
		}
	}
	return nil
}
