package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/taskstream/types"
)

// maxVisibleSteps bounds the progress history kept on screen.
const maxVisibleSteps = 12

// ProgressMsg carries one progress envelope into the model.
type ProgressMsg struct {
	Envelope types.EventEnvelope
}

// CompleteMsg carries the completion into the model.
type CompleteMsg struct {
	Response   string
	IntentType *string
}

// ErrorMsg carries a fatal stream error into the model.
type ErrorMsg struct {
	Message string
}

// DoneMsg reports that the stream call returned. The program exits on it.
type DoneMsg struct {
	Outcome *types.StreamOutcome
}

type stepLine struct {
	seq     int64
	step    string
	message string
	delta   time.Duration
}

// ProgressModel is a Bubble Tea model showing a live stream.
type ProgressModel struct {
	projectID string
	cancel    func()

	spinner  spinner.Model
	steps    []stepLine
	total    int64
	response string
	intent   *string
	errMsg   string
	outcome  *types.StreamOutcome
	width    int
	quitting bool
}

// NewProgressModel creates a progress model. cancel is invoked when the
// user quits before the stream ends; it may be nil.
func NewProgressModel(projectID string, cancel func()) ProgressModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(TitleStyle.UnsetMarginBottom()),
	)
	return ProgressModel{
		projectID: projectID,
		cancel:    cancel,
		spinner:   s,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			if m.outcome == nil && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case ProgressMsg:
		env := msg.Envelope
		if env.Event.Progress == nil {
			return m, nil
		}
		m.total = env.Seq
		m.steps = append(m.steps, stepLine{
			seq:     env.Seq,
			step:    env.Event.Progress.Step,
			message: env.Event.Progress.Message,
			delta:   env.SinceLastProgress,
		})
		if len(m.steps) > maxVisibleSteps {
			m.steps = m.steps[len(m.steps)-maxVisibleSteps:]
		}
		return m, nil

	case CompleteMsg:
		m.response = msg.Response
		m.intent = msg.IntentType
		return m, nil

	case ErrorMsg:
		m.errMsg = msg.Message
		return m, nil

	case DoneMsg:
		m.outcome = msg.Outcome
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Outcome returns the outcome delivered by DoneMsg, nil before that.
func (m ProgressModel) Outcome() *types.StreamOutcome {
	return m.outcome
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder

	switch {
	case m.outcome != nil:
		status := string(m.outcome.Status)
		b.WriteString(TitleStyle.Render(fmt.Sprintf("Project %s", m.projectID)))
		b.WriteString("\n")
		b.WriteString(StatusStyle(status).Render(status))
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  %d steps in %s", m.outcome.ProgressCount,
			time.Duration(m.outcome.DurationMs)*time.Millisecond)))
		b.WriteString("\n")
	case m.quitting:
		return ""
	default:
		b.WriteString(TitleStyle.Render(fmt.Sprintf("%s Project %s", m.spinner.View(), m.projectID)))
		b.WriteString("\n")
	}

	if hidden := m.total - int64(len(m.steps)); hidden > 0 {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  ... %d earlier steps", hidden)))
		b.WriteString("\n")
	}
	for _, s := range m.steps {
		b.WriteString(fmt.Sprintf("%3d ", s.seq))
		b.WriteString(StepStyle.Render(s.step))
		b.WriteString(s.message)
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  +%s", s.delta.Round(time.Millisecond))))
		b.WriteString("\n")
	}

	if m.response != "" {
		box := BoxStyle
		if m.width > 4 {
			box = box.Width(m.width - 2)
		}
		b.WriteString(box.Render(m.response))
		b.WriteString("\n")
		if m.intent != nil {
			b.WriteString(MutedStyle.Render("intent: " + *m.intent))
			b.WriteString("\n")
		}
	}
	if m.errMsg != "" {
		b.WriteString(ErrorStyle.Render("error: " + m.errMsg))
		b.WriteString("\n")
	}

	if m.outcome == nil {
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to abandon"))
		b.WriteString("\n")
	}
	return b.String()
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
