// Package tui renders a live board in the terminal: a kanban of tasks, the
// approval queue, agents, the activity feed and board chat.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/board"
)

const (
	defaultWidth  = 100
	defaultHeight = 32
	chatLines     = 6
	feedLines     = 8
)

var columns = []struct {
	status string
	title  string
}{
	{backend.TaskInbox, "Inbox"},
	{backend.TaskInProgress, "In progress"},
	{backend.TaskReview, "Review"},
	{backend.TaskDone, "Done"},
}

// Actions performs board mutations on the backend.
type Actions interface {
	DecideApproval(ctx context.Context, boardID, approvalID, status string) (backend.Approval, error)
	SendChat(ctx context.Context, boardID, content string) (backend.BoardMemory, error)
}

// Options configures the board model.
type Options struct {
	// MarkdownStyle is a glamour standard style name: "dark", "light" or
	// "notty". Defaults to "dark".
	MarkdownStyle string
}

type focus int

const (
	focusApprovals focus = iota
	focusChat
)

type (
	boardChangedMsg struct{}
	boardClosedMsg  struct{}
)

type actionDoneMsg struct {
	text string
	err  error
}

// Model is the bubbletea model for one board.
type Model struct {
	state   *board.State
	actions Actions
	changes <-chan struct{}
	stop    func()

	view    board.View
	width   int
	height  int
	focus   focus
	cursor  int
	input   textinput.Model
	style   string
	status  string
	err     error
	syncErr error
}

// New creates a model that follows st until it is closed. actions may be
// nil for a read-only view.
func New(st *board.State, actions Actions, opts Options) Model {
	changes, stop := st.Watch()
	input := textinput.New()
	input.Placeholder = "message the board"
	input.Prompt = "> "
	input.CharLimit = 2000

	style := opts.MarkdownStyle
	if style == "" {
		style = "dark"
	}
	return Model{
		state:   st,
		actions: actions,
		changes: changes,
		stop:    stop,
		view:    st.View(),
		input:   input,
		style:   style,
	}
}

// Run shows the board until the user quits or ctx is cancelled.
func Run(ctx context.Context, st *board.State, actions Actions, opts Options) error {
	m := New(st, actions, opts)
	defer m.stop()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return waitForChange(m.changes)
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return boardClosedMsg{}
		}
		return boardChangedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(10, m.contentWidth()-4)
		return m, nil

	case boardChangedMsg:
		m.view = m.state.View()
		m.cursor = min(m.cursor, max(0, len(m.pendingApprovals())-1))
		return m, waitForChange(m.changes)

	case boardClosedMsg:
		m.view = m.state.View()
		m.status = "sync stopped"
		m.syncErr = m.state.Err()
		return m, nil

	case actionDoneMsg:
		m.status, m.err = msg.text, msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.focus == focusChat {
		switch key {
		case "esc", "tab":
			m.focus = focusApprovals
			m.input.Blur()
			return m, nil
		case "enter":
			content := strings.TrimSpace(m.input.Value())
			if content == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.sendChatCmd(content)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "tab", "c", "/":
		m.focus = focusChat
		return m, m.input.Focus()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.pendingApprovals())-1 {
			m.cursor++
		}
	case "a":
		return m, m.decideCmd(backend.ApprovalApproved)
	case "r":
		return m, m.decideCmd(backend.ApprovalRejected)
	}
	return m, nil
}

func (m Model) decideCmd(status string) tea.Cmd {
	pending := m.pendingApprovals()
	if m.cursor >= len(pending) {
		return nil
	}
	if m.actions == nil {
		return actionResult("", errors.New("read-only view"))
	}
	st, actions, id := m.state, m.actions, pending[m.cursor].ID
	return func() tea.Msg {
		a, err := actions.DecideApproval(context.Background(), st.BoardID(), id, status)
		if err != nil {
			return actionDoneMsg{err: fmt.Errorf("deciding %s: %w", id, err)}
		}
		st.ApplyApproval(backend.ApprovalEvent{Approval: a})
		return actionDoneMsg{text: fmt.Sprintf("approval %s %s", a.ID, a.Status)}
	}
}

func (m Model) sendChatCmd(content string) tea.Cmd {
	if m.actions == nil {
		return actionResult("", errors.New("read-only view"))
	}
	st, actions := m.state, m.actions
	return func() tea.Msg {
		msg, err := actions.SendChat(context.Background(), st.BoardID(), content)
		if err != nil {
			return actionDoneMsg{err: fmt.Errorf("sending chat: %w", err)}
		}
		st.ApplyMemory(backend.MemoryEvent{Memory: msg})
		return actionDoneMsg{text: "message sent"}
	}
}

func actionResult(text string, err error) tea.Cmd {
	return func() tea.Msg { return actionDoneMsg{text: text, err: err} }
}

func (m Model) pendingApprovals() []backend.Approval {
	var out []backend.Approval
	for _, a := range m.view.Approvals {
		if a.Status == backend.ApprovalPending {
			out = append(out, a)
		}
	}
	return out
}

func (m Model) contentWidth() int {
	if m.width <= 0 {
		return defaultWidth
	}
	return m.width
}

func (m Model) View() string {
	width := m.contentWidth()
	if !m.view.Loaded && len(m.view.Tasks) == 0 {
		if m.syncErr != nil {
			return lipgloss.JoinVertical(lipgloss.Left,
				m.renderHeader(width),
				errorStyle.Render(ansi.Truncate("Could not load board: "+m.syncErr.Error(), width, "…")),
				m.renderFooter(width),
			)
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(width),
			mutedStyle.Render("Loading board..."),
		)
	}

	sections := []string{
		m.renderHeader(width),
		m.renderKanban(width),
		m.renderLower(width),
		m.renderChat(width),
		m.renderFooter(width),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(width int) string {
	name := m.view.Board.Name
	if name == "" {
		name = m.view.BoardID
	}
	left := titleStyle.Render("missionctl · " + name)
	if !m.view.Loaded && len(m.view.Tasks) > 0 {
		left += "  " + mutedStyle.Render("(cached)")
	}
	if m.view.PendingApprovals > 0 {
		left += "  " + pendingStyle.Render(fmt.Sprintf("%d pending", m.view.PendingApprovals))
	}

	names := make([]string, 0, len(m.view.Streams))
	for n := range m.view.Streams {
		names = append(names, n)
	}
	sort.Strings(names)
	var parts []string
	for _, n := range names {
		s := m.view.Streams[n]
		parts = append(parts, streamStateStyle(s.State).Render("● ")+mutedStyle.Render(n))
	}
	right := strings.Join(parts, "  ")

	gap := max(1, width-lipgloss.Width(left)-lipgloss.Width(right))
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderKanban(width int) string {
	colWidth := max(12, width/len(columns)-4)
	bodyLines := max(3, (m.height-chatLines-feedLines-10)/2)
	if m.height <= 0 {
		bodyLines = (defaultHeight - chatLines - feedLines) / 2
	}

	byStatus := map[string][]backend.Task{}
	for _, t := range m.view.Tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		tasks := byStatus[c.status]
		lines := []string{titleStyle.Render(fmt.Sprintf("%s (%d)", c.title, len(tasks)))}
		for i, t := range tasks {
			if i == bodyLines {
				lines = append(lines, mutedStyle.Render(fmt.Sprintf("+%d more", len(tasks)-i)))
				break
			}
			line := "• " + t.Title
			if t.ApprovalsPendingCount > 0 {
				line += pendingStyle.Render(fmt.Sprintf(" [%d]", t.ApprovalsPendingCount))
			}
			lines = append(lines, ansi.Truncate(line, colWidth, "…"))
		}
		cols = append(cols, paneStyle.Width(colWidth).Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m Model) renderLower(width int) string {
	paneWidth := max(16, width/3-4)

	pending := m.pendingApprovals()
	lines := []string{titleStyle.Render(fmt.Sprintf("Approvals (%d)", len(pending)))}
	for i, a := range pending {
		line := ansi.Truncate(a.ActionType+" "+mutedStyle.Render(a.ID), paneWidth-2, "…")
		if i == m.cursor && m.focus == focusApprovals {
			lines = append(lines, selectedStyle.Render("› ")+line)
		} else {
			lines = append(lines, "  "+line)
		}
	}
	approvalStyle := paneStyle
	if m.focus == focusApprovals {
		approvalStyle = focusedPaneStyle
	}
	approvals := approvalStyle.Width(paneWidth).Render(strings.Join(lines, "\n"))

	lines = []string{titleStyle.Render(fmt.Sprintf("Agents (%d)", len(m.view.Agents)))}
	for _, a := range m.view.Agents {
		line := a.Name + " " + mutedStyle.Render(a.Status)
		if a.IsBoardLead {
			line += pendingStyle.Render(" lead")
		}
		lines = append(lines, ansi.Truncate(line, paneWidth, "…"))
	}
	agents := paneStyle.Width(paneWidth).Render(strings.Join(lines, "\n"))

	lines = []string{titleStyle.Render("Activity")}
	for i, f := range m.view.Feed {
		if i == feedLines {
			break
		}
		line := mutedStyle.Render(f.CreatedAt.Local().Format("15:04")) + " " + f.Message
		lines = append(lines, ansi.Truncate(line, paneWidth, "…"))
	}
	feed := paneStyle.Width(paneWidth).Render(strings.Join(lines, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, approvals, agents, feed)
}

func (m Model) renderChat(width int) string {
	inner := max(20, width-4)
	chat := m.view.Chat
	if len(chat) > chatLines {
		chat = chat[len(chat)-chatLines:]
	}

	var blocks []string
	for _, msg := range chat {
		from := msg.Source
		if from == "" {
			from = "board"
		}
		header := mutedStyle.Render(msg.CreatedAt.Local().Format("15:04") + " " + from)
		blocks = append(blocks, header+"\n"+RenderMarkdown(msg.Content, m.style, inner))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, mutedStyle.Render("No messages yet."))
	}
	blocks = append(blocks, m.input.View())

	style := paneStyle
	if m.focus == focusChat {
		style = focusedPaneStyle
	}
	return style.Width(inner).Render(strings.Join(blocks, "\n"))
}

func (m Model) renderFooter(width int) string {
	if m.syncErr != nil {
		return errorStyle.Render(ansi.Truncate("sync stopped: "+m.syncErr.Error(), width, "…"))
	}
	if m.err != nil {
		return errorStyle.Render(ansi.Truncate(m.err.Error(), width, "…"))
	}
	help := "j/k: select  a: approve  r: reject  tab: chat  q: quit"
	if m.focus == focusChat {
		help = "enter: send  esc: back  ctrl+c: quit"
	}
	if m.status != "" {
		help = m.status + "  ·  " + help
	}
	return mutedStyle.Render(ansi.Truncate(help, width, "…"))
}
