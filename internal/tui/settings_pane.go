package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/blogflow/internal/config"
)

// SaveFunc persists a config. The defaults are config.SaveGlobal and
// config.SaveProject.
type SaveFunc func(*config.Config) error

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	saveGlobal  SaveFunc
	saveProject SaveFunc
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget      string
	threshold       string
	maxRewrites     string
	researcherModel string
	writerModel     string
	reviewerModel   string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		saveGlobal:  config.SaveGlobal,
		saveProject: config.SaveProject,
	}
	m.buildForm()
	return m
}

// loadFields copies the config into the form bindings.
func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = "global"
	m.threshold = strconv.Itoa(m.config.Pipeline.PublishThreshold)
	m.maxRewrites = strconv.Itoa(m.config.Pipeline.MaxRewrites)
	m.researcherModel = m.config.Agents["researcher"].Model
	m.writerModel = m.config.Agents["writer"].Model
	m.reviewerModel = m.config.Agents["reviewer"].Model
}

// intIn returns a huh validator accepting integers in [lo, hi].
func intIn(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("must be a number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.loadFields()
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/"+config.DirName+"/config.json)", "global"),
					huh.NewOption("Project ("+config.DirName+"/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("threshold").
				Title("Publish Threshold").
				Description("Minimum review score (0-100) to publish").
				Validate(intIn(0, 100)).
				Value(&m.threshold),

			huh.NewInput().
				Key("maxRewrites").
				Title("Max Rewrites").
				Validate(intIn(0, 10)).
				Value(&m.maxRewrites),
		).Title("Quality Gate"),

		huh.NewGroup(
			huh.NewInput().
				Key("researcherModel").
				Title("Researcher Model").
				Value(&m.researcherModel).
				Placeholder("provider default"),

			huh.NewInput().
				Key("writerModel").
				Title("Writer Model").
				Value(&m.writerModel).
				Placeholder("provider default"),

			huh.NewInput().
				Key("reviewerModel").
				Title("Reviewer Model").
				Value(&m.reviewerModel).
				Placeholder("provider default"),
		).Title("Agent Models"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted && !m.saved {
		m.applyFormToConfig()

		if err := m.target()(m.config); err != nil {
			m.err = err
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// target returns the save function for the selected destination.
func (m SettingsPaneModel) target() SaveFunc {
	if m.saveTarget == "project" {
		return m.saveProject
	}
	return m.saveGlobal
}

// applyFormToConfig copies form field values back to the config struct.
// The validators guarantee the numeric fields parse.
func (m *SettingsPaneModel) applyFormToConfig() {
	if n, err := strconv.Atoi(m.threshold); err == nil {
		m.config.Pipeline.PublishThreshold = n
	}
	if n, err := strconv.Atoi(m.maxRewrites); err == nil {
		m.config.Pipeline.MaxRewrites = n
	}

	for role, model := range map[string]string{
		"researcher": m.researcherModel,
		"writer":     m.writerModel,
		"reviewer":   m.reviewerModel,
	} {
		if agent, ok := m.config.Agents[role]; ok {
			agent.Model = model
			m.config.Agents[role] = agent
		}
	}
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	content := m.form.View()
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the form
// from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.buildForm()
		if m.width > 0 {
			m.form.WithWidth(m.width - 8).WithHeight(m.height - 8)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
