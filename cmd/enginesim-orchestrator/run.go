package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"enginesim-orchestrator/internal/config"
	"enginesim-orchestrator/internal/event"
	"enginesim-orchestrator/internal/logging"
	"enginesim-orchestrator/internal/run"
)

var (
	runID         string
	runInput      string
	runOutput     string
	runTimeout    time.Duration
	runJSONOutput bool
	runBinary     string
)

// resultCapture forwards results and hands the terminal row to the waiter.
type resultCapture struct {
	next run.ResultWriter
	ch   chan event.ResultRow
}

func (c *resultCapture) WriteResult(row event.ResultRow) error {
	err := c.next.WriteResult(row)
	select {
	case c.ch <- row:
	default:
	}
	return err
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single simulation and wait for it",
	Long:  "run launches one engine simulation, streams its events to STDOUT, and exits nonzero unless it completes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runInput == "" || runOutput == "" {
			return fmt.Errorf("input and output are required")
		}
		id := runID
		if id == "" {
			id = "cli-" + uuid.NewString()[:8]
		}

		logger := logging.New("info", false)
		pw, rw, _, cleanup, err := newWriters(runJSONOutput, false, "")
		if err != nil {
			return err
		}
		defer cleanup()

		capture := &resultCapture{next: rw, ch: make(chan event.ResultRow, 1)}
		orch := run.NewOrchestrator(run.Options{
			Binary:             runBinary,
			DefaultTimeout:     config.DefaultTimeout,
			GracePeriod:        config.DefaultGracePeriod,
			ArtifactExtensions: config.DefaultArtifactExtensions,
			Progress:           pw,
			Results:            capture,
			Logger:             logger,
		})

		if err := orch.StartRun(run.RunConfig{ID: id, InputPath: runInput, OutputDir: runOutput, Timeout: runTimeout}); err != nil {
			return err
		}
		res := <-capture.ch
		if res.Status != event.StatusCompleted {
			return fmt.Errorf("run %s ended with status %s", id, res.Status)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runID, "id", "", "Run identifier (generated when empty)")
	runCmd.Flags().StringVar(&runInput, "input", "", "Path to the simulation input file")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Directory for result artifacts")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-run deadline (default 30m)")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "Print event rows as JSON lines")
	runCmd.Flags().StringVar(&runBinary, "binary", "openwam", "Engine executable to launch")
	runCmd.MarkFlagRequired("input")
	runCmd.MarkFlagRequired("output")
}
