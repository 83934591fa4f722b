// Package tui is the terminal chat panel: a mode picker followed by a
// transcript, a status line and a question input.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	widget "github.com/koscakluka/ema-widget/core"
)

const themePollInterval = 2 * time.Second

// Chat is the part of the widget the panel drives.
type Chat interface {
	Send(ctx context.Context, question string) (widget.Turn, error)
	Cancel() bool
	SetMode(ctx context.Context, mode string) error
	Conversation() widget.Conversation
}

type modeChoice struct {
	mode        string
	title       string
	description string
}

var modeChoices = []modeChoice{
	{mode: "user", title: "User assistant", description: "Ask about your project"},
	{mode: "admin", title: "Admin contact", description: "Query your project data"},
}

func modeTitle(mode string) string {
	for _, choice := range modeChoices {
		if choice.mode == mode {
			return choice.title
		}
	}
	return mode
}

type screen int

const (
	screenEntry screen = iota
	screenChat
)

type modeSetMsg struct {
	mode string
	err  error
}

type sentMsg struct{ err error }

type themeCheckMsg struct{}

type Model struct {
	ctx     context.Context
	chat    Chat
	updates *Updates

	classMode string
	detect    ThemeDetector
	theme     Theme

	screen   screen
	choice   int
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	conversation widget.Conversation
	turnState    widget.TurnState
	err          error

	width  int
	height int
}

type Option func(*Model)

// WithThemeDetector replaces the terminal background probe used by the auto
// class mode.
func WithThemeDetector(detect ThemeDetector) Option {
	return func(m *Model) {
		m.detect = detect
	}
}

// NewModel builds the panel. When mode is empty the mode picker is shown
// first. updates must be the Updates whose Options were given to the widget
// behind chat.
func NewModel(ctx context.Context, chat Chat, updates *Updates, classMode, mode string, opts ...Option) Model {
	input := textinput.New()
	input.Placeholder = "Ask a question"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	m := Model{
		ctx:          ctx,
		chat:         chat,
		updates:      updates,
		classMode:    classMode,
		viewport:     viewport.New(0, 0),
		input:        input,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		conversation: chat.Conversation(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.theme = ThemeFor(classMode, m.detect)
	m.spinner.Style = m.theme.Status

	if mode != "" {
		m.screen = screenChat
	}
	for i, choice := range modeChoices {
		if choice.mode == mode {
			m.choice = i
		}
	}
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.updates.wait()}
	if m.classMode == "auto" {
		cmds = append(cmds, pollTheme())
	}
	return tea.Batch(cmds...)
}

func pollTheme() tea.Cmd {
	return tea.Tick(themePollInterval, func(time.Time) tea.Msg { return themeCheckMsg{} })
}

func (m Model) setMode(mode string) tea.Cmd {
	return func() tea.Msg {
		return modeSetMsg{mode: mode, err: m.chat.SetMode(m.ctx, mode)}
	}
}

func (m Model) send(question string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.chat.Send(m.ctx, question)
		return sentMsg{err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.recalcLayout()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.chat.Cancel()
			return m, tea.Quit
		}
		if m.screen == screenEntry {
			return m.updateEntry(msg)
		}
		return m.updateChat(msg)

	case modeSetMsg:
		m.conversation = m.chat.Conversation()
		m.err = msg.err
		if msg.mode == "" {
			m.screen = screenEntry
		} else {
			m.screen = screenChat
		}
		m.refreshTranscript()
		return m, nil

	case sentMsg:
		if msg.err != nil && !errors.Is(msg.err, widget.ErrEmptyQuestion) {
			m.err = msg.err
		}
		return m, nil

	case updateBatch:
		for _, inner := range msg {
			m = m.apply(inner)
		}
		return m, m.updates.wait()

	case themeCheckMsg:
		m.theme = ThemeFor(m.classMode, m.detect)
		m.spinner.Style = m.theme.Status
		m.refreshTranscript()
		return m, pollTheme()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) apply(msg tea.Msg) Model {
	switch msg := msg.(type) {
	case conversationMsg:
		m.conversation = msg.conversation
		m.refreshTranscript()
	case turnMsg:
		m.turnState = msg.turn.State
		if msg.turn.Err != nil {
			m.err = msg.turn.Err
		} else if msg.turn.State == widget.TurnStateSending {
			m.err = nil
		}
	}
	return m
}

func (m Model) updateEntry(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "left", "up", "shift+tab", "h", "k":
		m.choice = (m.choice + len(modeChoices) - 1) % len(modeChoices)
	case "right", "down", "tab", "l", "j":
		m.choice = (m.choice + 1) % len(modeChoices)
	case "enter":
		return m, m.setMode(modeChoices[m.choice].mode)
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		if m.chat.Cancel() {
			return m, nil
		}
		return m, m.setMode("")
	case tea.KeyEnter:
		question := strings.TrimSpace(m.input.Value())
		if question == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.send(question)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) recalcLayout() {
	header := lipgloss.Height(m.header())
	// status line, error line and input
	footer := 3
	m.viewport.Width = m.width
	m.viewport.Height = max(1, m.height-header-footer)
	m.input.Width = max(1, m.width-len(m.input.Prompt)-1)
	m.refreshTranscript()
}

func (m *Model) refreshTranscript() {
	if m.width == 0 {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.theme, m.conversation.Messages, m.width))
	if atBottom || m.conversation.ActiveTurn != nil {
		m.viewport.GotoBottom()
	}
}

func (m Model) header() string {
	title := modeTitle(m.conversation.Mode)
	if title == "" {
		title = "Chat"
	}
	return m.theme.Header.Render(title) + m.theme.Hint.Render("esc to close, ctrl+c to quit")
}

func (m Model) View() string {
	if m.screen == screenEntry {
		return m.entryView()
	}

	var status string
	if m.conversation.Status != "" {
		status = m.spinner.View() + " " + m.theme.Status.Render(m.conversation.Status)
	}
	var errLine string
	if m.err != nil {
		errLine = m.theme.Error.Render(fmt.Sprintf("error: %v", m.err))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		status,
		errLine,
		m.input.View(),
	)
}

func (m Model) entryView() string {
	cards := make([]string, 0, len(modeChoices))
	for i, choice := range modeChoices {
		style := m.theme.Card
		if i == m.choice {
			style = m.theme.Selected
		}
		cards = append(cards, style.Render(choice.title+"\n"+m.theme.Hint.Render(choice.description)))
	}

	view := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Entry.Render("How can we help?"),
		lipgloss.JoinHorizontal(lipgloss.Top, cards...),
		m.theme.Hint.Render("arrows to choose, enter to open, q to quit"),
	)
	if m.err != nil {
		view = lipgloss.JoinVertical(lipgloss.Left, view, m.theme.Error.Render(fmt.Sprintf("error: %v", m.err)))
	}
	return view
}
