// Package tui provides the Bubble Tea effort task interface.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/proofwork/internal/effort"
	"github.com/verte-zerg/proofwork/internal/model"
)

// Runner is the effort task driven by the UI.
type Runner interface {
	Select(index int)
	Rotate(delta int)
	Cancel()
	Retry()
	View() effort.View
}

// Notifier wakes the UI when the task changed in the background. Signals
// coalesce: the UI always re-reads the full view.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier returns a notifier with room for one pending signal.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

type changedMsg struct{}

func (n *Notifier) wait() tea.Cmd {
	return func() tea.Msg {
		<-n.ch
		return changedMsg{}
	}
}

type keyMap struct {
	Left        key.Binding
	Right       key.Binding
	Select      key.Binding
	RotateLeft  key.Binding
	RotateRight key.Binding
	Cancel      key.Binding
	Retry       key.Binding
	Quit        key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Left:        key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev")),
		Right:       key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next")),
		Select:      key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "select")),
		RotateLeft:  key.NewBinding(key.WithKeys(",", "a"), key.WithHelp(",/a", "rotate left")),
		RotateRight: key.NewBinding(key.WithKeys(".", "d"), key.WithHelp("./d", "rotate right")),
		Cancel:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		Retry:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Right, k.Select, k.RotateLeft, k.RotateRight, k.Cancel, k.Retry, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// Model implements the Bubble Tea effort UI.
type Model struct {
	runner   Runner
	notifier *Notifier
	keys     keyMap
	help     help.Model
	spinner  spinner.Model

	width  int
	height int

	view   effort.View
	cursor int
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F0F0F0"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	touchedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	solvedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#1F1F1F")).Background(lipgloss.Color("#C89A3A"))
	messageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// NewModel constructs the UI for runner. The notifier may be nil when the
// task never changes on its own.
func NewModel(runner Runner, notifier *Notifier) *Model {
	m := &Model{
		runner:   runner,
		notifier: notifier,
		keys:     newKeyMap(),
		help:     help.New(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(touchedStyle)),
	}
	m.cursor = -1
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.notifier != nil {
		cmds = append(cmds, m.notifier.wait())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case changedMsg:
		m.refresh()
		return m, m.notifier.wait()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Left):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Right):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.Select):
		m.runner.Select(m.cursor)
	case key.Matches(msg, m.keys.RotateLeft):
		m.rotate(-1)
	case key.Matches(msg, m.keys.RotateRight):
		m.rotate(1)
	case key.Matches(msg, m.keys.Cancel):
		m.runner.Cancel()
	case key.Matches(msg, m.keys.Retry):
		m.runner.Retry()
	default:
		return nil
	}
	m.refresh()
	return nil
}

func (m *Model) moveCursor(dir int) {
	if m.view.Puzzle == nil {
		return
	}
	m.cursor = nextGlyph(m.view.Puzzle.Chars, m.cursor, dir)
}

func (m *Model) rotate(dir int) {
	if m.view.Puzzle == nil || !m.view.Puzzle.CanRotate {
		return
	}
	m.runner.Rotate(dir * m.view.Puzzle.Step)
}

// refresh re-reads the task view and keeps the cursor on a glyph after the
// puzzle changed.
func (m *Model) refresh() {
	m.view = m.runner.View()
	m.updateBindings()
	p := m.view.Puzzle
	if p == nil {
		return
	}
	if m.cursor < 0 || m.cursor >= len(p.Chars) || p.Chars[m.cursor].IsSpace() {
		m.cursor = firstGlyph(p.Chars)
	}
}

func (m *Model) updateBindings() {
	v := m.view
	interactive := v.Puzzle != nil && v.Puzzle.Interactive && v.Status == effort.StatusWorkWaiting
	m.keys.Left.SetEnabled(interactive)
	m.keys.Right.SetEnabled(interactive)
	m.keys.Select.SetEnabled(interactive)
	m.keys.RotateLeft.SetEnabled(interactive && v.Puzzle.CanRotate)
	m.keys.RotateRight.SetEnabled(interactive && v.Puzzle.CanRotate)
	m.keys.Cancel.SetEnabled(v.Cancellable)
	m.keys.Retry.SetEnabled(v.CanRetry)
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return m.renderContent(0) + "\n\n" + m.renderFooter()
	}
	contentWidth := int(float64(m.width) * 0.70)
	if contentWidth < 1 {
		contentWidth = 1
	}
	content := lipgloss.NewStyle().Width(contentWidth).Render(m.renderContent(contentWidth))
	footer := m.renderFooter()
	if m.height < 3 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	body := lipgloss.Place(m.width, m.height-1, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
	return body + "\n" + footerLine
}

func (m *Model) renderContent(width int) string {
	v := m.view
	if v.Replay != nil {
		return RenderSnapshot(*v.Replay, width)
	}
	lines := []string{titleStyle.Render("Proof of value")}
	switch v.Status {
	case effort.StatusDone:
		lines = append(lines, messageStyle.Render(doneMessage(v.State)))
	case effort.StatusCancelled:
		lines = append(lines, messageStyle.Render("You stopped the task early."))
	case effort.StatusFinalizing:
		lines = append(lines, m.spinner.View()+" Saving your progress...")
	default:
		lines = append(lines, m.renderTask(width)...)
	}
	if v.Notice != "" {
		lines = append(lines, noticeStyle.Render(v.Notice))
	}
	return strings.Join(lines, "\n\n")
}

func (m *Model) renderTask(width int) []string {
	v := m.view
	var lines []string
	switch v.Indicator {
	case effort.IndicatorWaiting:
		lines = append(lines, fmt.Sprintf("%s Calculating your ranking, this takes about %s...", m.spinner.View(), v.Wait))
	case effort.IndicatorTyping:
		lines = append(lines, m.spinner.View()+" Preparing your results...")
	}
	if p := v.Puzzle; p != nil {
		if p.Message != "" {
			lines = append(lines, messageStyle.Render(p.Message))
		} else {
			lines = append(lines, "Turn every letter upright.")
		}
		lines = append(lines, wrapGlyphs(buildGlyphs(*p, m.cursor), width))
	}
	return lines
}

func (m *Model) renderFooter() string {
	segments := []string{}
	if p := m.view.Puzzle; p != nil && m.view.Replay == nil {
		segments = append(segments,
			fmt.Sprintf("Puzzle %d/%d", min(p.Counters.PuzzleIndex+1, p.Puzzles), p.Puzzles),
			fmt.Sprintf("Correct %d", p.Counters.TotalCorrect+p.Counters.CorrectInCurrent),
			fmt.Sprintf("Clicks %d", p.Counters.Clicks),
		)
	}
	helpView := m.help.ShortHelpView(m.keys.ShortHelp())
	if len(segments) == 0 {
		return helpView
	}
	return footerStyle.Render(strings.Join(segments, "  ")) + "  " + helpView
}

func doneMessage(state model.SkillsRankingSessionState) string {
	next := state.LastPhase()
	if next == "" {
		return "Your progress was saved."
	}
	return fmt.Sprintf("Your progress was saved. Next step: %s.", next)
}
