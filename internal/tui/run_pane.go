package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/composer/internal/events"
)

// maxHistory bounds the finished runs kept for display.
const maxHistory = 5

type runState struct {
	id       string
	tasks    []string
	progress events.RunProgressEvent
	started  time.Time
	finished time.Time
	err      error
}

// RunPaneModel shows progress of the active runs and a short history.
type RunPaneModel struct {
	active    map[string]*runState
	order     []string
	history   []*runState
	lastWatch *events.WatchTriggeredEvent
	lastError *events.ErrorEvent
	width     int
	height    int
	focused   bool
}

// NewRunPaneModel creates a new run pane model.
func NewRunPaneModel() RunPaneModel {
	return RunPaneModel{active: make(map[string]*runState)}
}

// Update handles messages for the run pane.
func (m RunPaneModel) Update(msg tea.Msg) (RunPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case events.RunStartedEvent:
		m.active[msg.RunID] = &runState{
			id:       msg.RunID,
			tasks:    msg.Tasks,
			started:  msg.Timestamp,
			progress: events.RunProgressEvent{RunID: msg.RunID, Total: msg.Steps, Pending: msg.Steps},
		}
		m.order = append(m.order, msg.RunID)

	case events.RunProgressEvent:
		if run, ok := m.active[msg.RunID]; ok {
			run.progress = msg
		}

	case events.RunFinishedEvent:
		run, ok := m.active[msg.RunID]
		if !ok {
			break
		}
		delete(m.active, msg.RunID)
		for i, id := range m.order {
			if id == msg.RunID {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
		run.finished = msg.Timestamp
		run.err = msg.Err
		m.history = append([]*runState{run}, m.history...)
		if len(m.history) > maxHistory {
			m.history = m.history[:maxHistory]
		}

	case events.WatchTriggeredEvent:
		m.lastWatch = &msg

	case events.ErrorEvent:
		m.lastError = &msg
	}

	return m, nil
}

// View renders the run pane.
func (m RunPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Runs")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Idle"))
		b.WriteString("\n")
	}
	for _, id := range m.order {
		m.renderActive(&b, m.active[id])
	}

	if m.lastWatch != nil {
		fmt.Fprintf(&b, "\nChange detected in %s (%d paths, %s)\n",
			m.lastWatch.Pattern, len(m.lastWatch.Paths), humanize.Time(m.lastWatch.Timestamp))
	}

	if len(m.history) > 0 {
		b.WriteString("\nRecent:\n")
		for _, run := range m.history {
			icon := StatusIcon(statusFinished)
			if run.err != nil {
				icon = StatusIcon(statusErrored)
			}
			fmt.Fprintf(&b, "%s %s %s in %v (%s)\n", icon, shortID(run.id), strings.Join(run.tasks, ","),
				run.finished.Sub(run.started).Round(time.Millisecond), humanize.Time(run.finished))
		}
	}

	if m.lastError != nil {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("ERROR (%s): %v", m.lastError.Source, m.lastError.Err)))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m RunPaneModel) renderActive(b *strings.Builder, run *runState) {
	p := run.progress
	fmt.Fprintf(b, "%s %s\n", shortID(run.id), strings.Join(run.tasks, ","))
	fmt.Fprintf(b, "  Finished: %s  Running: %s  Errored: %s  Pending: %s\n",
		StyleStatusComplete.Render(fmt.Sprintf("%d", p.Completed)),
		StyleStatusRunning.Render(fmt.Sprintf("%d", p.Running)),
		StyleStatusFailed.Render(fmt.Sprintf("%d", p.Failed)),
		StyleStatusPending.Render(fmt.Sprintf("%d", p.Pending)),
	)

	if p.Total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (p.Completed * barWidth) / p.Total
		failedWidth := (p.Failed * barWidth) / p.Total
		runningWidth := (p.Running * barWidth) / p.Total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(b, "  [%s]  %d/%d\n", bar, p.Completed+p.Failed, p.Total)
	}
}

// Active returns the number of runs in progress.
func (m RunPaneModel) Active() int {
	return len(m.order)
}

// SetSize updates the pane dimensions.
func (m *RunPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *RunPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
