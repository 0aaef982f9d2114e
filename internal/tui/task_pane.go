package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/composer/internal/events"
)

// Task statuses as displayed.
const (
	statusRunning  = "running"
	statusFinished = "finished"
	statusErrored  = "errored"
)

// maxTasks bounds how many invocations the pane remembers; watch mode would
// otherwise grow the list forever.
const maxTasks = 200

// TaskState represents one task invocation.
type TaskState struct {
	ContextID string
	RunID     string
	Name      string
	Status    string
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel lists task invocations next to the selected one's output.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // contextID -> state
	taskOrder   []string              // insertion order for display
	selectedIdx int
	follow      bool // keep the newest invocation selected
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.follow = m.selectedIdx == len(m.taskOrder)-1
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.follow = false
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartingEvent:
		id := msg.Run.ContextID
		if _, exists := m.tasks[id]; exists {
			break
		}
		m.tasks[id] = &TaskState{
			ContextID: id,
			RunID:     msg.Run.RunID,
			Name:      msg.Task.Name,
			Status:    statusRunning,
			StartTime: msg.Run.StartedAt,
		}
		m.taskOrder = append(m.taskOrder, id)
		m.trim()
		if m.follow {
			m.selectedIdx = len(m.taskOrder) - 1
			m.updateViewportContent()
		}

	case events.TaskOutputEvent:
		task, exists := m.tasks[msg.ContextID]
		if !exists {
			break
		}
		task.Output = append(task.Output, msg.Line)
		if m.selectedContextID() == msg.ContextID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.TaskFinishedEvent:
		m.complete(msg.Run.ContextID, statusFinished, msg.Duration,
			fmt.Sprintf("[Finished after %v]", msg.Duration.Round(time.Millisecond)))

	case events.TaskErrorEvent:
		m.complete(msg.Run.ContextID, statusErrored, msg.Duration,
			fmt.Sprintf("[Errored after %v: %v]", msg.Duration.Round(time.Millisecond), msg.Err))

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func (m *TaskPaneModel) complete(id, status string, d time.Duration, line string) {
	task, exists := m.tasks[id]
	if !exists {
		return
	}
	task.Status = status
	task.Duration = d
	task.Output = append(task.Output, "", line)
	if m.selectedContextID() == id {
		m.updateViewportContent()
	}
}

// trim drops the oldest invocations beyond maxTasks.
func (m *TaskPaneModel) trim() {
	excess := len(m.taskOrder) - maxTasks
	if excess <= 0 {
		return
	}
	for _, id := range m.taskOrder[:excess] {
		delete(m.tasks, id)
	}
	m.taskOrder = append([]string(nil), m.taskOrder[excess:]...)
	m.selectedIdx = max(0, m.selectedIdx-excess)
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}

	// Show the window of entries around the selection that fits.
	rows := max(1, m.height-6)
	start := max(0, min(m.selectedIdx-rows/2, len(m.taskOrder)-rows))
	for i := start; i < len(m.taskOrder) && i < start+rows; i++ {
		task := m.tasks[m.taskOrder[i]]
		name := task.Name
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(task.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// Selected returns the selected invocation, if any.
func (m TaskPaneModel) Selected() (*TaskState, bool) {
	task, ok := m.tasks[m.selectedContextID()]
	return task, ok
}

func (m TaskPaneModel) selectedContextID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.selectedContextID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(task.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(10, m.width-25-4)
	m.viewport.Height = max(5, m.height-4)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
