// ColorStdoutWriter prints human-friendly, colorized event rows to STDOUT.
package run

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"enginesim-orchestrator/internal/event"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// ColorStdoutWriter prints event rows using ANSI colors. Colors are disabled
// automatically when STDOUT is not a terminal.
type ColorStdoutWriter struct {
	out   io.Writer
	color bool
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter() *ColorStdoutWriter {
	return &ColorStdoutWriter{
		out:   os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (w *ColorStdoutWriter) paint(c, s string) string {
	if !w.color {
		return s
	}
	return c + s + colorReset
}

func statusColor(s event.RunStatus) string {
	switch s {
	case event.StatusCompleted:
		return colorGreen
	case event.StatusFailed, event.StatusTimeout:
		return colorRed
	case event.StatusCancelled:
		return colorYellow
	}
	return colorCyan
}

// WriteProgress prints one progress row with a bar.
func (w *ColorStdoutWriter) WriteProgress(row event.ProgressRow) error {
	bar := progressBar(row.Percent, 20)
	line := fmt.Sprintf("%s %s %s %s %3d%%",
		w.paint(colorGray, row.Timestamp.Format(time.RFC3339)),
		w.paint(colorBlue, row.RunID),
		w.paint(statusColor(row.Status), string(row.Status)),
		w.paint(colorCyan, bar),
		row.Percent)
	if row.Message != "" {
		line += " " + w.paint(colorGray, row.Message)
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

// WriteResult prints the terminal record of a run.
func (w *ColorStdoutWriter) WriteResult(row event.ResultRow) error {
	line := fmt.Sprintf("%s %s %s elapsed=%s artifacts=%d",
		w.paint(colorGray, row.Timestamp.Format(time.RFC3339)),
		w.paint(colorBlue, row.RunID),
		w.paint(statusColor(row.Status), strings.ToUpper(string(row.Status))),
		time.Duration(row.ExecutionTimeMs)*time.Millisecond,
		len(row.OutputArtifacts))
	if row.ErrorMessage != "" {
		line += " " + w.paint(colorRed, row.ErrorMessage)
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

// WriteAlert prints a supervisor alert.
func (w *ColorStdoutWriter) WriteAlert(row event.AlertRow) error {
	c := colorYellow
	if row.Severity == event.AlertCritical {
		c = colorRed
	}
	_, err := fmt.Fprintf(w.out, "%s %s %s\n",
		w.paint(colorGray, row.Timestamp.Format(time.RFC3339)),
		w.paint(c, strings.ToUpper(string(row.Severity))),
		row.Reason)
	return err
}

func progressBar(pct, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
