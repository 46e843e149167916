// Package wizard collects the segslice inputs interactively and renders the
// review pages with live progress.
package wizard

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/mrsinham/segslice/internal/config"
	"github.com/mrsinham/segslice/internal/slicer"
)

const helpWidth = 64

// Phase represents the current screen of the wizard.
type Phase int

const (
	PhaseSettings Phase = iota
	PhaseProgress
	PhaseComplete
	PhaseError
)

// progressMsg reports rendered pages.
type progressMsg struct {
	Current int
	Total   int
}

// completionMsg is sent when rendering finishes successfully.
type completionMsg struct {
	Result   *slicer.Result
	Duration time.Duration
}

// errorMsg is sent when loading or rendering fails.
type errorMsg struct {
	Error error
}

// Wizard is the tea.Model driving the interactive session.
type Wizard struct {
	cfg    config.Config
	values *formValues
	form   *huh.Form
	phase  Phase

	spinner  spinner.Model
	progress progress.Model
	events   chan tea.Msg
	current  int
	total    int

	result    *slicer.Result
	duration  time.Duration
	savedTo   string
	cancelled bool
	err       error
}

// NewWizard creates a wizard prefilled from cfg.
func NewWizard(cfg config.Config) *Wizard {
	w := &Wizard{
		cfg:      cfg,
		values:   newFormValues(cfg),
		phase:    PhaseSettings,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
	w.form = newForm(w.values, cfg.Display.Window)
	return w
}

// Init implements tea.Model.
func (w *Wizard) Init() tea.Cmd {
	return w.form.Init()
}

// Update implements tea.Model.
func (w *Wizard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "ctrl+c" {
		w.cancelled = true
		return w, tea.Quit
	}

	switch w.phase {
	case PhaseSettings:
		return w.updateSettings(msg)
	case PhaseProgress:
		return w.updateProgress(msg)
	case PhaseComplete, PhaseError:
		if _, ok := msg.(tea.KeyMsg); ok {
			return w, tea.Quit
		}
	}
	return w, nil
}

// View implements tea.Model.
func (w *Wizard) View() string {
	switch w.phase {
	case PhaseSettings:
		return lipgloss.JoinVertical(lipgloss.Left,
			TitleStyle.Render("SEGSLICE WIZARD"),
			w.form.View(),
			"",
			helpView(w.focusedKey(), helpWidth),
			"",
			hintStyle.Render("Tab: Next field | Enter: Submit | Ctrl+C: Cancel"),
		)
	case PhaseProgress:
		var percent float64
		if w.total > 0 {
			percent = float64(w.current) / float64(w.total)
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			TitleStyle.Render("Rendering slices..."),
			fmt.Sprintf("%s Page %d/%d", w.spinner.View(), w.current, w.total),
			"",
			w.progress.ViewAs(percent),
			"",
			hintStyle.Render("Press Ctrl+C to cancel"),
		)
	case PhaseComplete:
		lines := []string{
			successStyle.Render("✓ Rendering complete!"),
			"",
			fmt.Sprintf("  Slices:   %v", w.result.Slices),
			fmt.Sprintf("  Pages:    %d", len(w.result.Files)),
			fmt.Sprintf("  Output:   %s", filepath.Dir(w.cfg.OutPrefix)),
			fmt.Sprintf("  Duration: %.1fs", w.duration.Seconds()),
		}
		if w.savedTo != "" {
			lines = append(lines, fmt.Sprintf("  Settings: %s", w.savedTo))
		}
		lines = append(lines, "", hintStyle.Render("Press any key to exit"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	case PhaseError:
		return lipgloss.JoinVertical(lipgloss.Left,
			errorStyle.Render("Error"),
			"",
			w.err.Error(),
			"",
			hintStyle.Render("Press any key to exit"),
		)
	}
	return ""
}

// focusedKey returns the key of the focused form field.
func (w *Wizard) focusedKey() string {
	if f := w.form.GetFocusedField(); f != nil {
		return f.GetKey()
	}
	return ""
}

// updateSettings forwards messages to the form until it completes.
func (w *Wizard) updateSettings(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := w.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		w.form = f
	}

	switch w.form.State {
	case huh.StateAborted:
		w.cancelled = true
		return w, tea.Quit
	case huh.StateCompleted:
		return w.startRendering()
	}
	return w, cmd
}

// startRendering applies the form and runs the pipeline in the background.
func (w *Wizard) startRendering() (tea.Model, tea.Cmd) {
	if err := w.values.apply(&w.cfg); err != nil {
		return w.fail(err)
	}
	opts, err := w.cfg.ToOptions()
	if err != nil {
		return w.fail(err)
	}
	if path := w.values.SaveConfig; path != "" {
		if err := config.SaveToYAML(w.cfg, path); err != nil {
			return w.fail(err)
		}
		w.savedTo = path
	}

	w.phase = PhaseProgress
	w.events = make(chan tea.Msg, 64)
	events := w.events
	opts.ProgressCallback = func(current, total int) {
		// Drop intermediate updates rather than stall the workers
		select {
		case events <- progressMsg{Current: current, Total: total}:
		default:
		}
	}

	go func() {
		start := time.Now()
		result, err := slicer.Run(opts)
		if err != nil {
			events <- errorMsg{Error: err}
		} else {
			events <- completionMsg{Result: result, Duration: time.Since(start)}
		}
		close(events)
	}()

	return w, tea.Batch(w.spinner.Tick, waitForEvent(events))
}

// waitForEvent delivers the next message from the rendering goroutine.
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

// updateProgress handles updates while pages are rendered.
func (w *Wizard) updateProgress(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		w.current, w.total = msg.Current, msg.Total
		return w, waitForEvent(w.events)
	case completionMsg:
		w.phase = PhaseComplete
		w.result = msg.Result
		w.duration = msg.Duration
		return w, nil
	case errorMsg:
		return w.fail(msg.Error)
	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd
	}
	return w, nil
}

func (w *Wizard) fail(err error) (tea.Model, tea.Cmd) {
	w.phase = PhaseError
	w.err = err
	return w, nil
}

// Run starts the interactive wizard. If fromConfig is provided, the form is
// prefilled from that YAML file.
func Run(fromConfig string) error {
	cfg := config.Default()

	// Load config if provided
	if fromConfig != "" {
		absPath, err := filepath.Abs(fromConfig)
		if err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
		loaded, err := config.LoadFromYAML(absPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return err
	}

	// Create and run the wizard
	p := tea.NewProgram(NewWizard(cfg), tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("running wizard: %w", err)
	}

	// Check final state
	if w, ok := finalModel.(*Wizard); ok {
		if w.cancelled {
			return nil // User cancelled, not an error
		}
		if w.err != nil {
			return w.err
		}
	}
	return nil
}
