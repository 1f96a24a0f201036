package run

import (
	"testing"

	"enginesim-orchestrator/internal/event"
)

type countingWriter struct {
	progress int
	batches  int
	results  int
	alerts   int
}

func (w *countingWriter) WriteProgress(event.ProgressRow) error { w.progress++; return nil }
func (w *countingWriter) WriteResult(event.ResultRow) error     { w.results++; return nil }
func (w *countingWriter) WriteAlert(event.AlertRow) error       { w.alerts++; return nil }

type countingBatchWriter struct {
	countingWriter
}

func (w *countingBatchWriter) WriteProgressBatch(rows []event.ProgressRow) error {
	w.batches++
	return nil
}

func TestMultiWriter_FansOut(t *testing.T) {
	a := &countingWriter{}
	b := &countingWriter{}
	mw := NewMultiWriter(
		[]ProgressWriter{a, b},
		[]ResultWriter{a, b},
		[]AlertWriter{a},
	)

	mw.WriteProgress(event.ProgressRow{})
	mw.WriteResult(event.ResultRow{})
	mw.WriteAlert(event.AlertRow{})

	if a.progress != 1 || b.progress != 1 {
		t.Errorf("progress fan-out: a=%d b=%d", a.progress, b.progress)
	}
	if a.results != 1 || b.results != 1 {
		t.Errorf("result fan-out: a=%d b=%d", a.results, b.results)
	}
	if a.alerts != 1 || b.alerts != 0 {
		t.Errorf("alert fan-out: a=%d b=%d", a.alerts, b.alerts)
	}
}

func TestMultiWriter_BatchFastPath(t *testing.T) {
	plain := &countingWriter{}
	batch := &countingBatchWriter{}
	mw := NewMultiWriter([]ProgressWriter{plain, batch}, nil, nil)

	rows := []event.ProgressRow{{}, {}, {}}
	if err := mw.WriteProgressBatch(rows); err != nil {
		t.Fatal(err)
	}
	if plain.progress != 3 {
		t.Errorf("plain writer got %d single writes, want 3", plain.progress)
	}
	if batch.batches != 1 || batch.progress != 0 {
		t.Errorf("batch writer should take the batch path: batches=%d singles=%d", batch.batches, batch.progress)
	}
}
