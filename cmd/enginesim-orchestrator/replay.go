package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"enginesim-orchestrator/internal/run"
)

var (
	replayInput      string
	replaySpeed      float64
	replayJSONOutput bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded progress event log",
	Long:  "replay feeds progress rows from a recorded JSONL log back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		writer, _, _, cleanup, err := newWriters(replayJSONOutput, false, "")
		if err != nil {
			return err
		}
		defer cleanup()
		return run.ReplayLogFile(replayInput, writer, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to progress event log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayJSONOutput, "json", false, "Print event rows as JSON lines")
	replayCmd.MarkFlagRequired("input")
}
