package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/daemon/broadcaster"
	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// Agent is the part of the running agent the display needs.
type Agent interface {
	Status() daemon.Status
	Trigger() bool
	Subscribe(kinds ...broadcaster.Kind) *broadcaster.Subscriber
	Unsubscribe(id string)
}

// Options configures the display.
type Options struct {
	Agent Agent
	// Cancel stops the agent when the user quits.
	Cancel context.CancelFunc
	// Quantum is the refresh interval of the status region.
	Quantum time.Duration
	// Logs feeds the log pane. Nil disables it.
	Logs    <-chan logging.Entry
	LogSeed []logging.Entry
	Now     func() time.Time
}

// Model is the Bubble Tea model for `syncsftp run`.
type Model struct {
	opts      Options
	sub       *broadcaster.Subscriber
	status    daemon.Status
	transfers *TransferList
	logView   *LogViewerState
	spinner   spinner.Model
	notice    string
	quitting  bool

	width  int
	height int
}

type tickMsg time.Time

type eventMsg broadcaster.Event

type logMsg logging.Entry

type streamClosedMsg struct{}

// NewModel subscribes to the agent and returns the initial model. Call
// Close once the program exits.
func NewModel(opts Options) Model {
	if opts.Quantum <= 0 {
		opts.Quantum = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cancel == nil {
		opts.Cancel = func() {}
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(warningColor)

	return Model{
		opts:      opts,
		sub:       opts.Agent.Subscribe(),
		status:    opts.Agent.Status(),
		transfers: NewTransferList(),
		logView:   NewLogViewerState(opts.LogSeed),
		spinner:   s,
		width:     80,
		height:    24,
	}
}

// Close releases the agent subscription.
func (m Model) Close() {
	m.opts.Agent.Unsubscribe(m.sub.ID)
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.tick(),
		m.listenForEvents(),
		m.listenForLogs(),
	)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Quantum, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) listenForEvents() tea.Cmd {
	events := m.sub.Events
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m Model) listenForLogs() tea.Cmd {
	if m.opts.Logs == nil {
		return nil
	}
	logs := m.opts.Logs
	return func() tea.Msg {
		e, ok := <-logs
		if !ok {
			return streamClosedMsg{}
		}
		return logMsg(e)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.status = m.opts.Agent.Status()
		return m, m.tick()

	case eventMsg:
		m.applyEvent(broadcaster.Event(msg))
		return m, m.listenForEvents()

	case logMsg:
		m.logView.AddEntry(logging.Entry(msg))
		return m, m.listenForLogs()

	case streamClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyEvent(e broadcaster.Event) {
	switch e.Kind {
	case broadcaster.KindProgress:
		m.transfers.Apply(e.Progress)
	case broadcaster.KindCycle:
		if e.Cycle != nil {
			m.notice = cycleNotice(*e.Cycle)
		}
		m.status = m.opts.Agent.Status()
	}
}

func cycleNotice(r mirror.CycleReport) string {
	if r.Err != nil {
		return "sync failed: " + r.Err.Error()
	}
	return fmt.Sprintf("sync finished: %d fetched, %d failed, %d evicted",
		len(r.Transfers.Completed), len(r.Transfers.Failed), len(r.Eviction.Evicted))
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c", "q":
		m.quitting = true
		m.opts.Cancel()
		return m, tea.Quit
	case "s":
		if m.opts.Agent.Trigger() {
			m.notice = "sync requested"
		} else {
			m.notice = "sync already pending"
		}
		return m, nil
	case "l":
		m.logView.Toggle()
		return m, nil
	}

	if !m.logView.Open {
		return m, nil
	}
	switch key {
	case "esc":
		m.logView.Open = false
	case "1":
		m.logView.SetFilterLevel(logging.LevelDebug)
	case "2":
		m.logView.SetFilterLevel(logging.LevelInfo)
	case "3":
		m.logView.SetFilterLevel(logging.LevelWarn)
	case "4":
		m.logView.SetFilterLevel(logging.LevelError)
	case "up", "k":
		m.logView.ScrollUp()
	case "down", "j":
		m.logView.ScrollDown(m.logRows())
	}
	return m, nil
}

// logRows is the number of entry rows the log pane gets.
func (m Model) logRows() int {
	return max(m.height/3-2, 1)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	contentWidth := max(m.width-4, 20)

	var b strings.Builder
	b.WriteString(titleStyle.Render("syncsftp"))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderStatus(m.status, m.opts.Now(), m.spinner.View()))
	b.WriteString("\n\n")
	b.WriteString(sectionStyle.Render("Transfers"))
	b.WriteString("\n")
	b.WriteString(m.transfers.View(contentWidth))
	b.WriteString("\n")

	if m.logView.Open {
		b.WriteString("\n")
		b.WriteString(m.logView.View(contentWidth, m.logRows()+2))
		b.WriteString("\n")
	}

	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(mutedTextStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(renderKeyHints([][2]string{{"s", "sync now"}, {"l", "logs"}, {"q", "quit"}}))

	return outerBoxStyle.Width(max(m.width-2, 22)).Render(b.String())
}

// Run shows the display until the user quits or ctx is done.
func Run(ctx context.Context, opts Options) error {
	m := NewModel(opts)
	defer m.Close()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
