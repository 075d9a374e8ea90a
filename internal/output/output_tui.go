package output

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/pkg/ptr"
)

const maxLogLines = 500

// StatusSource provides the snapshot shown in the status pane.
type StatusSource interface {
	Status() transmit.Status
}

// Controls are the actions bound to keys. A nil func disables its key.
type Controls struct {
	Trigger      func() error
	Burst        func() error
	ToggleListen func() error
	Connect      func() error
	Disconnect   func() error
}

// BubbleTUIOutput is an interactive trigger console using Bubble Tea
type BubbleTUIOutput struct {
	mu       sync.RWMutex
	program  *tea.Program
	model    *tuiModel
	updateCh chan tuiUpdateMsg
	quitCh   chan struct{}
	doneCh   chan struct{}
}

// tuiUpdateMsg carries one controller event into the model
type tuiUpdateMsg struct {
	event transmit.Event
}

// actionResultMsg reports the error, if any, of a key-bound action
type actionResultMsg struct {
	action string
	err    error
}

// tickMsg is sent periodically to refresh the display
type tickMsg time.Time

// tuiModel holds the Bubble Tea model state
type tuiModel struct {
	source    StatusSource
	controls  Controls
	ptr       *ptr.PtrManager
	status    transmit.Status
	startTime time.Time

	log       []string
	logScroll int
	lastError string

	width  int
	height int
	help   help.Model
	keys   keyMap

	updateCh chan tuiUpdateMsg
	quitCh   chan struct{}
}

// keyMap defines keyboard shortcuts
type keyMap struct {
	Trigger    key.Binding
	Burst      key.Binding
	Listen     key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Up         key.Binding
	Down       key.Binding
	Quit       key.Binding
	Help       key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Trigger, k.Burst, k.Listen, k.Quit, k.Help}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Trigger, k.Burst, k.Listen},
		{k.Connect, k.Disconnect},
		{k.Up, k.Down, k.Quit, k.Help},
	}
}

var keys = keyMap{
	Trigger: key.NewBinding(
		key.WithKeys("t", " "),
		key.WithHelp("t", "trigger"),
	),
	Burst: key.NewBinding(
		key.WithKeys("b"),
		key.WithHelp("b", "burst"),
	),
	Listen: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "toggle listen"),
	),
	Connect: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "connect"),
	),
	Disconnect: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "disconnect"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#5A67D8")).
				Padding(0, 1)

	logTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#10B981")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FBBF24"))

	lineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	addrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA"))

	statsGoodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399"))

	statsWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FBBF24"))

	statsBadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type cellAlignment int

const (
	alignLeft cellAlignment = iota
	alignRight
)

func formatCell(value string, width int, alignment cellAlignment) string {
	if alignment == alignRight {
		return fmt.Sprintf("%*s", width, value)
	}
	return fmt.Sprintf("%-*s", width, value)
}

func truncateToWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(value) <= width {
		return value
	}
	return lipgloss.NewStyle().Width(width).Render(value)
}

// healthStyle picks the colour for a health state.
func healthStyle(h transmit.HealthState) lipgloss.Style {
	switch {
	case h >= transmit.HealthGood:
		return statsGoodStyle
	case h == transmit.HealthFair:
		return statsWarningStyle
	default:
		return statsBadStyle
	}
}

// NewBubbleTUIOutput creates a new Bubble Tea TUI output
func NewBubbleTUIOutput(source StatusSource, controls Controls, pm *ptr.PtrManager) *BubbleTUIOutput {
	updateCh := make(chan tuiUpdateMsg, 100)
	quitCh := make(chan struct{})

	model := newTUIModel(source, controls, pm, updateCh, quitCh)

	return &BubbleTUIOutput{
		model:    model,
		updateCh: updateCh,
		quitCh:   quitCh,
		doneCh:   make(chan struct{}),
	}
}

func newTUIModel(source StatusSource, controls Controls, pm *ptr.PtrManager, updateCh chan tuiUpdateMsg, quitCh chan struct{}) *tuiModel {
	m := &tuiModel{
		source:    source,
		controls:  controls,
		ptr:       pm,
		startTime: time.Now(),
		help:      help.New(),
		keys:      keys,
		updateCh:  updateCh,
		quitCh:    quitCh,
	}
	m.refresh()
	return m
}

// Start initializes and starts the Bubble Tea program
func (b *BubbleTUIOutput) Start() {
	doneCh := make(chan struct{})
	b.mu.Lock()
	b.doneCh = doneCh
	b.program = tea.NewProgram(
		b.model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	program := b.program
	b.mu.Unlock()

	go func() {
		// Ensure cleanup happens even if there's a panic
		defer func() {
			close(doneCh)
			if r := recover(); r != nil {
				slog.Error("TUI panic", "panic", r)
				program.Kill()
			}
		}()

		if _, err := program.Run(); err != nil {
			slog.Error("Error running TUI", "error", err)
		}
	}()
}

// QuitChan returns the channel that signals when the user quits the TUI
func (b *BubbleTUIOutput) QuitChan() <-chan struct{} {
	return b.quitCh
}

// HandleEvent implements the Output interface
func (b *BubbleTUIOutput) HandleEvent(ev transmit.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case b.updateCh <- tuiUpdateMsg{event: ev}:
	default:
		// Channel full, skip update
	}
}

// Close implements the Output interface
func (b *BubbleTUIOutput) Close() error {
	b.mu.Lock()
	program := b.program
	doneCh := b.doneCh
	quitCh := b.quitCh
	b.mu.Unlock()

	if program != nil {
		program.Quit()

		select {
		case <-doneCh:
		case <-time.After(500 * time.Millisecond):
			program.Kill()
			<-doneCh
		}
	}

	select {
	case <-quitCh:
	default:
		close(quitCh)
	}

	b.mu.Lock()
	b.program = nil
	b.mu.Unlock()

	return nil
}

// Init is the initial I/O for Bubble Tea
func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForUpdate(m.updateCh),
	)
}

// Update handles messages and updates the model
func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			// Signal quit to the main program
			select {
			case m.quitCh <- struct{}{}:
			default:
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Trigger):
			return m, runAction("trigger", m.controls.Trigger)
		case key.Matches(msg, m.keys.Burst):
			return m, runAction("burst", m.controls.Burst)
		case key.Matches(msg, m.keys.Listen):
			return m, runAction("listen", m.controls.ToggleListen)
		case key.Matches(msg, m.keys.Connect):
			return m, runAction("connect", m.controls.Connect)
		case key.Matches(msg, m.keys.Disconnect):
			return m, runAction("disconnect", m.controls.Disconnect)
		case key.Matches(msg, m.keys.Up):
			m.scrollLog(1)
		case key.Matches(msg, m.keys.Down):
			m.scrollLog(-1)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case actionResultMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.lastError = ""
		}
		m.refresh()

	case tuiUpdateMsg:
		m.appendEvent(msg.event)
		m.refresh()
		return m, waitForUpdate(m.updateCh)

	case tickMsg:
		m.refresh()
		return m, tickCmd()
	}

	return m, nil
}

func (m *tuiModel) refresh() {
	if m.source != nil {
		m.status = m.source.Status()
	}
}

func (m *tuiModel) appendEvent(ev transmit.Event) {
	line := describeEvent(ev, m.ptr)
	if line == "" {
		return
	}
	m.log = append(m.log, ev.Time.Format("15:04:05.000")+" "+line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	// Keep a scrolled-back view anchored on the same lines
	if m.logScroll > 0 {
		m.logScroll = min(m.logScroll+1, len(m.log)-1)
	}
}

// scrollLog moves the log view; positive deltas go back in time.
func (m *tuiModel) scrollLog(delta int) {
	m.logScroll = max(0, min(m.logScroll+delta, len(m.log)-1))
}

// View renders the UI
func (m *tuiModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var b strings.Builder

	dest := "no destination"
	if m.status.Config != nil {
		dest = m.status.Config.Address()
	}
	elapsed := time.Since(m.startTime)
	title := fmt.Sprintf(" UDP Trigger to %s | %s | Elapsed: %s ",
		dest, m.status.State, elapsed.Round(time.Second))
	b.WriteString(titleStyle.Width(m.width).Render(title))
	b.WriteString("\n")

	helpHeight := lipgloss.Height(m.help.View(m.keys))
	status := m.renderStatus()
	logHeight := m.height - 4 - helpHeight - lipgloss.Height(status)

	b.WriteString(status)
	b.WriteString("\n")
	b.WriteString(m.renderLog(logHeight))

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))

	return b.String()
}

// renderStatus renders the connection and health pane
func (m *tuiModel) renderStatus() string {
	var b strings.Builder
	st := m.status

	b.WriteString(statusTitleStyle.Render(" Status "))
	b.WriteString("\n\n")

	row := func(label, value string) {
		line := labelStyle.Render(formatCell(label, 10, alignLeft)) + " " + value
		b.WriteString(truncateToWidth(line, m.width-4))
		b.WriteString("\n")
	}

	row("State", st.State.String())
	row("Health", healthStyle(st.Health.State).Render(st.Health.State.String()))
	if st.Session != nil {
		local := st.Session.LocalAddr
		if st.Session.Interface != "" {
			local += " via " + st.Session.Interface
		}
		row("Session", addrStyle.Render(st.Session.Destination.String())+" from "+local)
	}

	flags := []string{}
	if st.Listening {
		flags = append(flags, "listening")
	}
	if st.Bursting {
		flags = append(flags, "bursting")
	}
	if len(flags) > 0 {
		row("Activity", strings.Join(flags, ", "))
	}

	counters := strings.Join([]string{
		formatCell(fmt.Sprintf("sent %d", st.Sent), 10, alignRight),
		formatCell(fmt.Sprintf("failed %d", st.Failed), 10, alignRight),
		formatCell(fmt.Sprintf("limited %d", st.RateLimited), 11, alignRight),
		formatCell(fmt.Sprintf("recv %d", st.Received), 10, alignRight),
	}, " ")
	row("Counters", counters)

	ratio := fmt.Sprintf("%.1f%% of %d", st.Health.SuccessRatio*100, st.Health.Samples)
	if st.Health.AvgRTT > 0 {
		ratio += fmt.Sprintf(" | rtt %.2fms", float64(st.Health.AvgRTT.Microseconds())/1000.0)
	}
	row("Window", ratio)

	switch {
	case m.lastError != "":
		row("Error", statsBadStyle.Render(m.lastError))
	case st.LastError != "":
		row("Error", statsWarningStyle.Render(st.LastError))
	}

	return borderStyle.Width(m.width - 2).Render(b.String())
}

// renderLog renders the most recent events, newest last
func (m *tuiModel) renderLog(maxHeight int) string {
	var b strings.Builder

	title := fmt.Sprintf(" Events (%d) ", len(m.log))
	if m.logScroll > 0 {
		title = fmt.Sprintf(" Events (%d, %d back) ", len(m.log), m.logScroll)
	}
	b.WriteString(logTitleStyle.Render(title))
	b.WriteString("\n\n")

	visibleRows := max(maxHeight-4, 1)
	end := len(m.log) - m.logScroll
	start := max(end-visibleRows, 0)

	contentWidth := max(m.width-4, 0)
	for _, line := range m.log[start:max(end, start)] {
		b.WriteString(lineStyle.Render(truncateToWidth(line, contentWidth)))
		b.WriteString("\n")
	}

	return borderStyle.Width(m.width - 2).Render(b.String())
}

// runAction wraps a control as a command reporting its result.
func runAction(name string, fn func() error) tea.Cmd {
	if fn == nil {
		return nil
	}
	return func() tea.Msg {
		return actionResultMsg{action: name, err: fn()}
	}
}

// waitForUpdate waits for the next update message
func waitForUpdate(updateCh chan tuiUpdateMsg) tea.Cmd {
	return func() tea.Msg {
		return <-updateCh
	}
}

// tickCmd returns a command that sends a tick message periodically
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
