package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/opsight-go/internal/client"
	"github.com/raphaelgruber/opsight-go/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries one progress event from the stream.
type eventMsg models.ProgressEvent

// streamDoneMsg signals that the event stream ended.
type streamDoneMsg struct{ err error }

// jobDoneMsg carries the final job state.
type jobDoneMsg struct {
	job *client.Job
	err error
}

// watchModel is the bubbletea model for following a job.
type watchModel struct {
	client   *client.Client
	jobID    string
	events   <-chan models.ProgressEvent
	streamEr <-chan error

	progress progress.Model
	theme    Theme

	pct      float64
	stage    string
	message  string
	job      *client.Job
	done     bool
	quitting bool
	err      error
}

func newWatchModel(c *client.Client, jobID string, events <-chan models.ProgressEvent, streamErr <-chan error) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return watchModel{
		client:   c,
		jobID:    jobID,
		events:   events,
		streamEr: streamErr,
		progress: prog,
		theme:    defaultTheme,
		stage:    "waiting",
	}
}

// Init returns the initial command (start consuming events).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.waitForEvent(),
		m.progress.Init(),
	)
}

// waitForEvent blocks on the event channel in a command goroutine.
func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return streamDoneMsg{err: <-m.streamEr}
		}
		return eventMsg(ev)
	}
}

// fetchJob loads the final job state once the stream ends.
func (m watchModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		job, err := m.client.GetJob(ctx, m.jobID)
		return jobDoneMsg{job: job, err: err}
	}
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		ev := models.ProgressEvent(msg)
		if p := ev.Progress(); p >= 0 {
			m.pct = p / 100
		}
		m.stage = ev.Label
		if ev.Message != "" {
			m.message = ev.Message
		}
		return m, m.waitForEvent()

	case streamDoneMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("stream events: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		return m, m.fetchJob()

	case jobDoneMsg:
		m.done = true
		if msg.err != nil {
			m.err = fmt.Errorf("get job: %w", msg.err)
			return m, tea.Quit
		}
		m.job = msg.job
		if m.job.Status == models.JobStatusFailed {
			if m.job.Error != nil {
				m.err = fmt.Errorf("%s", *m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.stage))
	bar := m.progress.ViewAs(m.pct)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	out := fmt.Sprintf("%s %s %.0f%%\n", status, bar, m.pct*100)
	if m.message != "" {
		out += m.message + "\n"
	}
	return out + hint + "\n"
}

func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'opsight jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	out := m.theme.completedStyle().Render("✓ Analysis complete") + "\n"
	if m.job != nil && m.job.Result != nil {
		r := m.job.Result
		out += fmt.Sprintf("\n  Severity: %s\n  %s\n", r.Severity, r.ExecutiveSummary)
		out += fmt.Sprintf("\n  Use 'opsight result %s' for the full report.\n", m.jobID)
	}
	return out
}

// runWatchUI runs the interactive progress UI for a job. Returns nil
// on success or Ctrl+C (job continues in background), error on job
// failure.
func runWatchUI(ctx context.Context, c *client.Client, jobID string) error {
	events := make(chan models.ProgressEvent, 64)
	streamErr := make(chan error, 1)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(events)
		streamErr <- c.StreamEvents(streamCtx, jobID, -1, func(ev models.ProgressEvent) error {
			select {
			case events <- ev:
				return nil
			case <-streamCtx.Done():
				return streamCtx.Err()
			}
		})
	}()

	model := newWatchModel(c, jobID, events, streamErr)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
		if m.job != nil && m.job.Result != nil {
			fmt.Println()
			printResult(m.job.Result)
		}
	}
	return nil
}
