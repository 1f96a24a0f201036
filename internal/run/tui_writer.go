package run

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"enginesim-orchestrator/internal/event"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// progressMsg carries a progress row into the model.
type progressMsg struct{ event.ProgressRow }

// resultMsg carries a terminal result row.
type resultMsg struct{ event.ResultRow }

// alertMsg carries a supervisor alert.
type alertMsg struct{ event.AlertRow }

var (
	tuiHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tuiAlertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	tuiDoneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	tuiFailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// TUIWriter renders run events using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter() *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteProgress implements ProgressWriter.
func (w *TUIWriter) WriteProgress(row event.ProgressRow) error {
	w.program.Send(progressMsg{row})
	return nil
}

// WriteResult implements ResultWriter.
func (w *TUIWriter) WriteResult(row event.ResultRow) error {
	w.program.Send(resultMsg{row})
	return nil
}

// WriteAlert implements AlertWriter.
func (w *TUIWriter) WriteAlert(row event.AlertRow) error {
	w.program.Send(alertMsg{row})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type runRow struct {
	id      string
	percent int
	status  event.RunStatus
	updated time.Time
}

type tuiModel struct {
	table      table.Model
	vp         viewport.Model
	runs       map[string]runRow
	logs       []string
	alert      string
	width      int
	height     int
	wrap       bool
	autoscroll bool
}

func newTUIModel() tuiModel {
	cols := []table.Column{
		{Title: "Run", Width: 24},
		{Title: "Status", Width: 10},
		{Title: "Progress", Width: 10},
		{Title: "Updated", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(6))
	vp := viewport.New(0, 0)
	return tuiModel{
		table:      t,
		vp:         vp,
		runs:       make(map[string]runRow),
		autoscroll: true,
		wrap:       true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.vp.Height = m.logHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "a":
			m.autoscroll = !m.autoscroll
		case "up", "k":
			m.vp.LineUp(1)
		case "down", "j":
			m.vp.LineDown(1)
		}
	case progressMsg:
		m.runs[msg.RunID] = runRow{
			id:      msg.RunID,
			percent: msg.Percent,
			status:  msg.Status,
			updated: msg.Timestamp,
		}
		if msg.Message != "" {
			m.appendLog(fmt.Sprintf("[%s] %s %3d%% %s", msg.Timestamp.Format("15:04:05"), msg.RunID, msg.Percent, msg.Message))
		}
		m.refreshTable()
	case resultMsg:
		delete(m.runs, msg.RunID)
		style := tuiDoneStyle
		if msg.Status != event.StatusCompleted {
			style = tuiFailStyle
		}
		line := fmt.Sprintf("[%s] %s %s elapsed=%s", msg.Timestamp.Format("15:04:05"), msg.RunID, msg.Status, time.Duration(msg.ExecutionTimeMs)*time.Millisecond)
		if msg.ErrorMessage != "" {
			line += " " + msg.ErrorMessage
		}
		m.appendLog(style.Render(line))
		m.refreshTable()
	case alertMsg:
		m.alert = fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Format("15:04:05"), msg.Severity, msg.Reason)
		m.appendLog(tuiAlertStyle.Render(m.alert))
	}
	return m, nil
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshViewport()
}

func (m *tuiModel) refreshTable() {
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		r := m.runs[id]
		rows = append(rows, table.Row{
			r.id,
			string(r.status),
			fmt.Sprintf("%3d%%", r.percent),
			r.updated.Format("15:04:05"),
		})
	}
	m.table.SetRows(rows)
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			l = wordwrap.String(l, m.vp.Width)
		}
		lines = append(lines, l)
	}
	m.vp.SetContent(lipgloss.JoinVertical(lipgloss.Left, lines...))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) logHeight() int {
	h := m.height - m.table.Height() - 4
	if h < 3 {
		h = 3
	}
	return h
}

func (m tuiModel) View() string {
	header := tuiHeaderStyle.Render(fmt.Sprintf("enginesim runs: %d active", len(m.runs)))
	if m.alert != "" {
		header += "  " + tuiAlertStyle.Render(m.alert)
	}
	return header + "\n" + m.table.View() + "\n" + m.vp.View()
}
