package main

import (
	"os"

	"enginesim-orchestrator/internal/run"
)

// newWriters sets up progress, result, and alert writers based on flags and
// env vars. It returns the writers and a cleanup function to close any
// resources.
func newWriters(jsonOutput, tui bool, logFile string) (run.ProgressWriter, run.ResultWriter, run.AlertWriter, func(), error) {
	cleanup := func() {}

	var pw run.ProgressWriter
	var rw run.ResultWriter
	var aw run.AlertWriter

	switch {
	case tui:
		w := run.NewTUIWriter()
		pw, rw, aw = w, w, w
		cleanup = func() { w.Close() }
	case !jsonOutput && os.Getenv("GREPTIMEDB_ENDPOINT") != "":
		endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
		table := os.Getenv("GREPTIMEDB_TABLE")
		host, _ := os.Hostname()
		w, err := run.NewGreptimeDBWriter(endpoint, "public", table, host)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		pw, rw, aw = w, w, w
	case jsonOutput:
		w := &run.StdoutWriter{}
		pw, rw, aw = w, w, w
	default:
		w := run.NewColorStdoutWriter()
		pw, rw, aw = w, w, w
	}

	if logFile == "" {
		return pw, rw, aw, cleanup, nil
	}

	fw, err := run.NewFileWriter(logFile, logFile+".results", logFile+".alerts")
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	base := cleanup
	cleanup = func() {
		fw.Close()
		base()
	}
	mw := run.NewMultiWriter(
		[]run.ProgressWriter{pw, fw},
		[]run.ResultWriter{rw, fw},
		[]run.AlertWriter{aw, fw},
	)
	return mw, mw, mw, cleanup, nil
}
