// Package monitor is the live Bubble Tea dashboard for one open document
// session: sync state, participants, content preview and comment threads.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/loom/internal/comments"
	"github.com/marcus/loom/internal/doc"
	"github.com/marcus/loom/internal/presence"
	"github.com/marcus/loom/internal/session"
)

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	Session *session.Session

	// Window dimensions
	Width  int
	Height int

	// Refreshed data
	State        session.State
	Participants []presence.Entry
	Blocks       []doc.Block
	Overlay      comments.Overlay
	Notices      []string
	LastRefresh  time.Time
	Err          error
	CommentsErr  error

	Spinner  spinner.Model
	Interval time.Duration
	Version  string
}

// NoticeMsg carries a session notice into the running program. The command
// layer feeds session callbacks through Program.Send with this type.
type NoticeMsg string

type tickMsg time.Time

// commentsMsg reports one background comment fetch; err is nil on success.
// Fetch failures are expected while offline and retried on the next cycle.
type commentsMsg struct{ err error }

type commentsRetryMsg struct{}

// NewModel builds the dashboard model for a live session.
func NewModel(s *session.Session, interval time.Duration, version string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle
	return Model{
		Session:  s,
		State:    s.SyncState(),
		Spinner:  sp,
		Interval: interval,
		Version:  version,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.tick(), m.fetchComments())
}

// fetchComments pulls the server's comment records off the Update loop.
func (m Model) fetchComments() tea.Cmd {
	s := m.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return commentsMsg{err: s.RefreshComments(ctx)}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.refresh()
			return m, nil
		}

	case tickMsg:
		m.refresh()
		return m, m.tick()

	case commentsMsg:
		m.CommentsErr = msg.err
		next := tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return commentsRetryMsg{}
		})
		return m, next

	case commentsRetryMsg:
		return m, m.fetchComments()

	case NoticeMsg:
		m.Notices = append(m.Notices, string(msg))
		if len(m.Notices) > 5 {
			m.Notices = m.Notices[len(m.Notices)-5:]
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// refresh pulls the current session snapshot. Errors are displayed, not
// fatal; the next tick retries.
func (m *Model) refresh() {
	m.State = m.Session.SyncState()
	m.Participants = m.Session.Presence().Current()
	m.LastRefresh = time.Now()

	blocks, err := m.Session.Doc().Blocks()
	if err != nil {
		m.Err = err
		return
	}
	m.Blocks = blocks

	overlay, _, err := m.Session.Overlay()
	if err != nil {
		m.Err = err
		return
	}
	m.Overlay = overlay
	m.Err = nil
}
