package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/composer/internal/config"
	"github.com/aristath/composer/internal/flow"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.ComposerConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget  string
	defaultFlow string
	concurrency string
	debounceMS  string
	shell       string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.ComposerConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = "project"
	m.defaultFlow = string(m.config.Policy())
	m.concurrency = strconv.Itoa(m.config.Concurrency)
	m.debounceMS = strconv.Itoa(m.config.Watch.DebounceMS)
	m.shell = m.config.Shell
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project (.composer/config.json)", "project"),
					huh.NewOption("Global ("+m.globalPath+")", "global"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("defaultFlow").
				Title("Default Flow").
				Options(
					huh.NewOption("series", string(flow.Series)),
					huh.NewOption("parallel", string(flow.Parallel)),
					huh.NewOption("settleSeries", string(flow.SettleSeries)),
					huh.NewOption("settleParallel", string(flow.SettleParallel)),
				).
				Value(&m.defaultFlow),

			huh.NewInput().
				Key("concurrency").
				Title("Concurrency Limit").
				Description("0 runs parallel groups unbounded").
				Value(&m.concurrency).
				Validate(nonNegativeInt),
		).Title("Runs"),

		huh.NewGroup(
			huh.NewInput().
				Key("debounceMS").
				Title("Watch Debounce (ms)").
				Value(&m.debounceMS).
				Validate(nonNegativeInt),

			huh.NewInput().
				Key("shell").
				Title("Shell").
				Value(&m.shell).
				Placeholder("sh"),
		).Title("Commands"),
	)
}

func nonNegativeInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
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

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.save()
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// save copies the form into the config and writes it to the chosen target.
func (m *SettingsPaneModel) save() {
	if err := m.applyFormToConfig(); err != nil {
		m.err = err
		m.saved = false
		return
	}

	targetPath := m.projectPath
	if m.saveTarget == "global" {
		targetPath = m.globalPath
	}

	if err := config.Save(m.config, targetPath); err != nil {
		m.err = err
		m.saved = false
		return
	}
	m.saved = true
	m.err = nil
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() error {
	next := *m.config
	next.DefaultFlow = m.defaultFlow
	next.Shell = m.shell

	var err error
	if next.Concurrency, err = strconv.Atoi(m.concurrency); err != nil {
		return fmt.Errorf("concurrency: %w", err)
	}
	if next.Watch.DebounceMS, err = strconv.Atoi(m.debounceMS); err != nil {
		return fmt.Errorf("debounce: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*m.config = next
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	switch {
	case m.saved && m.form.State == huh.StateCompleted:
		content = StyleSaved.Render("✓ Settings saved successfully!")
	case m.err != nil:
		content = StyleSaveError.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	default:
		content = m.form.View()
	}

	style := StyleSettingsFrame.
		Width(m.width - 4).
		Height(m.height - 4)

	title := StyleSettingsTitle.Render("⚙ Settings")

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

// SetVisible shows or hides the settings pane. Showing it reloads the
// form from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
