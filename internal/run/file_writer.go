package run

import (
	"encoding/json"
	"os"

	"enginesim-orchestrator/internal/event"
)

// FileWriter writes progress, result, and alert rows to JSONL files.
type FileWriter struct {
	progFile  *os.File
	resFile   *os.File
	alertFile *os.File
	progEnc   *json.Encoder
	resEnc    *json.Encoder
	alertEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. resultPath or alertPath may be empty
// to skip those logs.
func NewFileWriter(progressPath, resultPath, alertPath string) (*FileWriter, error) {
	pf, err := os.Create(progressPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{progFile: pf, progEnc: json.NewEncoder(pf)}
	if resultPath != "" {
		rf, err := os.Create(resultPath)
		if err != nil {
			pf.Close()
			return nil, err
		}
		fw.resFile = rf
		fw.resEnc = json.NewEncoder(rf)
	}
	if alertPath != "" {
		af, err := os.Create(alertPath)
		if err != nil {
			if fw.resFile != nil {
				fw.resFile.Close()
			}
			pf.Close()
			return nil, err
		}
		fw.alertFile = af
		fw.alertEnc = json.NewEncoder(af)
	}
	return fw, nil
}

// WriteProgress logs a single progress row.
func (f *FileWriter) WriteProgress(row event.ProgressRow) error {
	return f.progEnc.Encode(row)
}

// WriteProgressBatch logs multiple progress rows.
func (f *FileWriter) WriteProgressBatch(rows []event.ProgressRow) error {
	for _, r := range rows {
		if err := f.WriteProgress(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteResult logs a terminal result row, if enabled.
func (f *FileWriter) WriteResult(row event.ResultRow) error {
	if f.resEnc == nil {
		return nil
	}
	return f.resEnc.Encode(row)
}

// WriteAlert logs a supervisor alert, if enabled.
func (f *FileWriter) WriteAlert(row event.AlertRow) error {
	if f.alertEnc == nil {
		return nil
	}
	return f.alertEnc.Encode(row)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.progFile != nil {
		if e := f.progFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.resFile != nil {
		if e := f.resFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.alertFile != nil {
		if e := f.alertFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
