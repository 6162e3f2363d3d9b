package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/blogflow/internal/events"
)

// TaskState is what the dashboard knows about one pipeline run.
type TaskState struct {
	TaskID    string
	Label     string
	Stage     string
	Status    string // "running", "published", "failed"
	Output    strings.Builder
	StartTime time.Time
}

// TaskPaneModel lists runs and shows the selected run's output.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // insertion order for display
	labels      map[string]string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a task pane. labels maps task IDs to display
// names; unknown tasks show their ID.
func NewTaskPaneModel(labels map[string]string) TaskPaneModel {
	if labels == nil {
		labels = make(map[string]string)
	}
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		labels:   labels,
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// task returns the state for id, registering it on first sight.
func (m *TaskPaneModel) task(id string, at time.Time) *TaskState {
	if t, ok := m.tasks[id]; ok {
		return t
	}
	label := m.labels[id]
	if label == "" {
		label = id
	}
	t := &TaskState{TaskID: id, Label: label, Status: "running", StartTime: at}
	m.tasks[id] = t
	m.taskOrder = append(m.taskOrder, id)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return t
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	var touched string

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.StageStartedEvent:
		t := m.task(msg.ID, msg.Timestamp)
		t.Stage = msg.Stage
		header := strings.ToUpper(msg.Stage)
		if msg.Rewrite > 0 {
			header = fmt.Sprintf("%s #%d", header, msg.Rewrite)
		}
		fmt.Fprintf(&t.Output, "\n── %s ──\n", header)
		touched = msg.ID

	case events.StageOutputEvent:
		t := m.task(msg.ID, msg.Timestamp)
		t.Output.WriteString(msg.Chunk)
		touched = msg.ID

	case events.StageCompletedEvent:
		t := m.task(msg.ID, msg.Timestamp)
		fmt.Fprintf(&t.Output, "\n[%s completed in %v: %s]\n", msg.Stage, msg.Duration.Round(time.Millisecond), msg.Summary)
		touched = msg.ID

	case events.StageFailedEvent:
		t := m.task(msg.ID, msg.Timestamp)
		fmt.Fprintf(&t.Output, "\n[%s failed: %s]\n", msg.Stage, msg.Error)
		touched = msg.ID

	case events.WorkflowFinishedEvent:
		t := m.task(msg.ID, msg.Timestamp)
		t.Status = msg.Status
		fmt.Fprintf(&t.Output, "\n== %s ==\n%s\n", strings.ToUpper(msg.Status), msg.Message)
		touched = msg.ID

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	if touched != "" && touched == m.SelectedTaskID() {
		m.updateTag++
		tag := m.updateTag
		cmd = tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
			return tickMsg{tag: tag}
		})
	}
	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

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
	for i, id := range m.taskOrder {
		t := m.tasks[id]
		name := []rune(t.Label)
		if len(name) > width-6 {
			name = append(name[:width-9], []rune("...")...)
		}
		line := fmt.Sprintf("%s %s", StatusIcon(t.Status), string(name))
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

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed", "published":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the task ID of the currently selected run.
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	t, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.TrimLeft(t.Output.String(), "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-28-4, 10)
	m.viewport.Height = max(m.height-4, 5)
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
