package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/stage"
)

// stageRow is the checklist entry for one stage of one run.
type stageRow struct {
	status string // "", "running", "completed", "failed"
	detail string
}

// runProgress is the pipeline view of one run.
type runProgress struct {
	rows     map[string]*stageRow
	current  string
	rewrites int
	score    int
	outcome  string
}

// PipelinePaneModel shows stage progress for the selected run.
type PipelinePaneModel struct {
	runs     map[string]*runProgress
	selected string
	width    int
	height   int
	focused  bool
}

// NewPipelinePaneModel creates an empty pipeline pane.
func NewPipelinePaneModel() PipelinePaneModel {
	return PipelinePaneModel{runs: make(map[string]*runProgress)}
}

// checklist lists the stages rendered for every run.
var checklist = []stage.ID{stage.Research, stage.Draft, stage.Review, stage.Rewrite}

func (m *PipelinePaneModel) run(id string) *runProgress {
	r, ok := m.runs[id]
	if !ok {
		r = &runProgress{rows: make(map[string]*stageRow)}
		m.runs[id] = r
	}
	return r
}

func (r *runProgress) row(name string) *stageRow {
	row, ok := r.rows[name]
	if !ok {
		row = &stageRow{}
		r.rows[name] = row
	}
	return row
}

// Update handles messages for the pipeline pane.
func (m PipelinePaneModel) Update(msg tea.Msg) (PipelinePaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.StageStartedEvent:
		r := m.run(msg.ID)
		r.current = msg.Stage
		if msg.Rewrite > r.rewrites {
			r.rewrites = msg.Rewrite
		}
		row := r.row(msg.Stage)
		row.status = "running"
		row.detail = ""

	case events.StageCompletedEvent:
		r := m.run(msg.ID)
		row := r.row(msg.Stage)
		row.status = "completed"
		row.detail = msg.Summary
		if msg.Score > 0 {
			r.score = msg.Score
		}

	case events.StageFailedEvent:
		row := m.run(msg.ID).row(msg.Stage)
		row.status = "failed"
		row.detail = msg.Error

	case events.WorkflowFinishedEvent:
		r := m.run(msg.ID)
		r.outcome = msg.Status
		r.rewrites = msg.Rewrites
		if msg.Score > 0 {
			r.score = msg.Score
		}
		r.current = ""
	}
	return m, nil
}

// View renders the pipeline pane.
func (m PipelinePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Pipeline"))
	b.WriteString("\n\n")

	r, ok := m.runs[m.selected]
	if !ok {
		b.WriteString(StyleStatusPending.Render("No run selected"))
	} else {
		for _, id := range checklist {
			row := r.rows[id.String()]
			if row == nil {
				row = &stageRow{}
			}
			line := fmt.Sprintf("%s %-8s", StatusIcon(row.status), id.Title())
			if id == stage.Rewrite && r.rewrites > 0 {
				line += fmt.Sprintf(" x%d", r.rewrites)
			}
			if row.detail != "" {
				line += "  " + truncate(row.detail, m.width-24)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}

		b.WriteString("\n")
		if r.score > 0 {
			fmt.Fprintf(&b, "Score: %d\n", r.score)
		}
		switch r.outcome {
		case "":
			fmt.Fprintf(&b, "Stage: %s\n", StyleStatusRunning.Render(r.current))
		case "published":
			b.WriteString(StyleStatusComplete.Render("Published"))
		default:
			b.WriteString(StyleStatusFailed.Render(strings.ToUpper(r.outcome[:1]) + r.outcome[1:]))
		}
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

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	switch {
	case n < 4:
		return ""
	case len(r) <= n:
		return s
	}
	return string(r[:n-3]) + "..."
}

// Select switches the pane to taskID.
func (m *PipelinePaneModel) Select(taskID string) {
	m.selected = taskID
}

// SetSize updates the pane dimensions.
func (m *PipelinePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *PipelinePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
