package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/martinemde/toolloop/agentloop"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal session",
	Long: `Chat with the model in the terminal. Tool calls that need approval are
shown inline: y runs once, a always allows, n denies. Ctrl+C cancels the
running turn; press it again (or Esc when idle) to quit.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(opts, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	emitter := agentloop.NewEventEmitter(256)
	defer emitter.Close()

	m := newChatModel(rt.session, emitter, string(rt.scheduler.Policy().Mode()))
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("chat ui: %w", err)
	}
	rt.session.CancelCurrentRequest()
	return nil
}

// chatSession is the part of *agentloop.Session the chat UI drives.
type chatSession interface {
	ID() string
	Model() string
	Begin(ctx context.Context, text string, observer agentloop.Observer) (*agentloop.TurnHandle, error)
	ResolveConfirmation(outcome agentloop.ConfirmationOutcome) error
	CancelCurrentRequest() bool
}

type eventMsg agentloop.Event

type turnDoneMsg struct {
	result agentloop.TurnResult
	err    error
}

type entryKind int

const (
	entryUser entryKind = iota
	entryContent
	entryThought
	entryTool
	entryResult
	entryNotice
	entryError
)

type entry struct {
	kind     entryKind
	promptID string
	text     string
}

type chatTheme struct {
	header  lipgloss.Style
	title   lipgloss.Style
	panel   lipgloss.Style
	input   lipgloss.Style
	confirm lipgloss.Style
	footer  lipgloss.Style
	status  lipgloss.Style
	help    lipgloss.Style
	entries map[entryKind]lipgloss.Style
}

func newChatTheme() chatTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffd166")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return chatTheme{
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		title: lipgloss.NewStyle().Foreground(mint).Bold(true),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		confirm: lipgloss.NewStyle().
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		footer: lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		status: lipgloss.NewStyle().Foreground(blue).Bold(true),
		help:   lipgloss.NewStyle().Foreground(muted),
		entries: map[entryKind]lipgloss.Style{
			entryUser:    lipgloss.NewStyle().Foreground(mint).Bold(true),
			entryContent: lipgloss.NewStyle().Foreground(text),
			entryThought: lipgloss.NewStyle().Foreground(muted).Italic(true),
			entryTool:    lipgloss.NewStyle().Foreground(blue),
			entryResult:  lipgloss.NewStyle().Foreground(muted),
			entryNotice:  lipgloss.NewStyle().Foreground(amber),
			entryError:   lipgloss.NewStyle().Foreground(pink).Bold(true),
		},
	}
}

type chatModel struct {
	session      chatSession
	emitter      *agentloop.EventEmitter
	approvalMode string
	theme        chatTheme

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model

	entries      []entry
	busy         bool
	interrupting bool
	confirm      *agentloop.Event
	status       string
	width        int
	height       int
}

func newChatModel(session chatSession, emitter *agentloop.EventEmitter, approvalMode string) chatModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 10000
	input.Placeholder = "Ask for something. Enter sends."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	m := chatModel{
		session:      session,
		emitter:      emitter,
		approvalMode: approvalMode,
		theme:        newChatTheme(),
		input:        input,
		transcript:   viewport.New(0, 0),
		spinner:      sp,
		status:       "ready",
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitEvent(m.emitter.Events()))
}

func waitEvent(ch <-chan agentloop.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func waitTurn(h *agentloop.TurnHandle) tea.Cmd {
	return func() tea.Msg {
		res, err := h.Wait()
		return turnDoneMsg{result: res, err: err}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.render()
	case spinner.TickMsg:
		if !m.busy {
			break
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case eventMsg:
		m.apply(agentloop.Event(msg))
		m.render()
		cmds = append(cmds, waitEvent(m.emitter.Events()))
	case turnDoneMsg:
		m.busy = false
		m.interrupting = false
		m.confirm = nil
		m.status = turnStatus(msg.result, msg.err)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		if !m.busy || m.interrupting {
			return m, tea.Quit
		}
		m.session.CancelCurrentRequest()
		m.interrupting = true
		m.status = "cancelling; Ctrl+C again to quit"
		return m, nil
	}

	if m.confirm != nil {
		var outcome agentloop.ConfirmationOutcome
		switch key {
		case "y":
			outcome = agentloop.ProceedOnce
		case "a":
			outcome = agentloop.ProceedAlways
		case "n", "esc":
			outcome = agentloop.Cancel
		default:
			return m, nil
		}
		if err := m.session.ResolveConfirmation(outcome); err != nil && !errors.Is(err, agentloop.ErrNoPendingConfirmation) {
			m.status = "error: " + err.Error()
		}
		m.confirm = nil
		return m, nil
	}

	switch key {
	case "esc":
		if !m.busy {
			return m, tea.Quit
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	case "enter":
		return m.send()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) send() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	h, err := m.session.Begin(context.Background(), text, m.emitter.Observe)
	if err != nil {
		m.entries = append(m.entries, entry{kind: entryError, text: err.Error()})
		m.render()
		return m, nil
	}
	m.input.SetValue("")
	m.busy = true
	m.status = "working"
	m.entries = append(m.entries, entry{kind: entryUser, promptID: h.PromptID, text: text})
	m.render()
	return m, tea.Batch(waitTurn(h), m.spinner.Tick)
}

// apply folds an observer event into the transcript.
func (m *chatModel) apply(ev agentloop.Event) {
	add := func(kind entryKind, text string) {
		m.entries = append(m.entries, entry{kind: kind, promptID: ev.PromptID, text: text})
	}
	switch ev.Kind {
	case agentloop.EventContent:
		if n := len(m.entries); n > 0 && m.entries[n-1].kind == entryContent && m.entries[n-1].promptID == ev.PromptID {
			m.entries[n-1].text += ev.Text
			return
		}
		add(entryContent, ev.Text)
	case agentloop.EventThought:
		add(entryThought, ev.Text)
	case agentloop.EventToolCall:
		add(entryTool, fmt.Sprintf("→ %s(%s)", ev.ToolName, compactJSON(ev.Args)))
	case agentloop.EventToolConfirmRequest:
		confirm := ev
		m.confirm = &confirm
	case agentloop.EventToolResult:
		m.clearConfirm(ev.CallID)
		add(entryResult, fmt.Sprintf("✓ %s %s", ev.ToolName, summarize(ev.Result, 160)))
	case agentloop.EventToolCancelled:
		m.clearConfirm(ev.CallID)
		add(entryNotice, fmt.Sprintf("✗ %s cancelled", ev.ToolName))
	case agentloop.EventToolError:
		m.clearConfirm(ev.CallID)
		add(entryError, fmt.Sprintf("! %s: %s", ev.ToolName, ev.Message))
	case agentloop.EventChatCompressed:
		add(entryNotice, "history compressed")
	case agentloop.EventError:
		add(entryError, ev.Message)
	case agentloop.EventCancelled:
		add(entryNotice, "turn cancelled")
	}
}

func (m *chatModel) clearConfirm(callID string) {
	if m.confirm != nil && m.confirm.CallID == callID {
		m.confirm = nil
	}
}

func turnStatus(res agentloop.TurnResult, err error) string {
	switch {
	case errors.Is(err, agentloop.ErrTurnCancelled) || res.Outcome == agentloop.OutcomeCancelled:
		return "cancelled"
	case err != nil:
		return "error: " + err.Error()
	}
	return fmt.Sprintf("done in %d rounds · %s", res.Rounds, res.Model)
}

func (m *chatModel) resize() {
	width := max(40, m.width-4)
	m.input.Width = max(20, width-6)
	m.transcript.Width = max(20, width-4)
	// header, input panel and footer take ten rows with borders.
	m.transcript.Height = max(3, m.height-12)
}

func (m *chatModel) render() {
	atBottom := m.transcript.AtBottom()
	m.transcript.SetContent(m.renderTranscript())
	if atBottom || m.busy {
		m.transcript.GotoBottom()
	}
}

func (m *chatModel) renderTranscript() string {
	if len(m.entries) == 0 {
		return m.theme.help.Render("No messages yet.")
	}
	wrap := lipgloss.NewStyle().Width(max(20, m.transcript.Width))
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 && e.kind == entryUser {
			b.WriteString("\n")
		}
		text := e.text
		if e.kind == entryUser {
			text = "you: " + text
		}
		b.WriteString(m.theme.entries[e.kind].Inherit(wrap).Render(text))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) View() string {
	width := max(40, m.width-4)

	header := m.theme.header.Width(width).Render(
		m.theme.title.Render("toolloop") + "  " +
			m.theme.help.Render(fmt.Sprintf("model %s · approval %s · session %s",
				m.session.Model(), m.approvalMode, shortID(m.session.ID()))),
	)
	body := m.theme.panel.Width(width).Render(m.transcript.View())

	var input string
	switch {
	case m.confirm != nil:
		prompt := fmt.Sprintf("Allow %s?", m.confirm.ToolName)
		if m.confirm.Details != "" {
			prompt += "\n" + m.confirm.Details
		}
		input = m.theme.confirm.Width(width).Render(prompt + "\n" + m.theme.help.Render("y once · a always · n deny"))
	case m.busy:
		input = m.theme.input.Width(width).Render(m.spinner.View() + " " + m.status)
	default:
		input = m.theme.input.Width(width).Render(m.input.View())
	}

	footer := m.theme.footer.Width(width).Render(
		m.theme.status.Render(m.status) + "  " +
			m.theme.help.Render("Enter send · PgUp/PgDn scroll · Ctrl+C cancel/quit · Esc quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, footer)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return summarize(string(data), 120)
}

// summarize renders v on one line, cut at limit runes.
func summarize(v any, limit int) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(data)
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit]) + "…"
	}
	return s
}
