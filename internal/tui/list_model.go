package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
	"github.com/spiffcs/testdeck/internal/query"
)

// refreshInterval is how often the list re-reads the cache so pushed
// progress and background refetches show up without a key press.
const refreshInterval = 250 * time.Millisecond

// Column describes one table column of a list screen.
type Column[T model.Resource] struct {
	Title string
	Width int
	// Value renders the cell. live is false while progress cannot be
	// received.
	Value func(item T, live bool) string
	// Status, when set, colors the cell by the item's job status.
	Status func(item T) model.Status
}

// Action binds a key to an operation on the selected item.
type Action[T model.Resource] struct {
	Key  string
	Help string
	Run  func(ctx context.Context, item T) (string, error)
}

// ListModel is the Bubble Tea model for a paginated collection. It renders
// from the pager and never holds its own copy of server data.
type ListModel[T model.Resource] struct {
	ctx          context.Context
	title        string
	pager        *pager.Pager[T]
	columns      []Column[T]
	actions      []Action[T]
	live         func() bool
	onLoad       func(key query.Key)
	state        pager.State[T]
	cursor       int
	windowWidth  int
	windowHeight int
	statusMsg    string
	loaded       bool
	quitting     bool
}

// ListOption is a functional option for configuring ListModel.
type ListOption[T model.Resource] func(*ListModel[T])

// WithAction adds a key binding for the selected row.
func WithAction[T model.Resource](a Action[T]) ListOption[T] {
	return func(m *ListModel[T]) {
		m.actions = append(m.actions, a)
	}
}

// WithLive reports whether live progress is currently received.
func WithLive[T model.Resource](live func() bool) ListOption[T] {
	return func(m *ListModel[T]) {
		m.live = live
	}
}

// WithOnLoad is called with the cache key of every page that loads
// successfully.
func WithOnLoad[T model.Resource](fn func(key query.Key)) ListOption[T] {
	return func(m *ListModel[T]) {
		m.onLoad = fn
	}
}

// NewListModel creates a list model over p.
func NewListModel[T model.Resource](ctx context.Context, title string, p *pager.Pager[T], columns []Column[T], opts ...ListOption[T]) ListModel[T] {
	m := ListModel[T]{
		ctx:          ctx,
		title:        title,
		pager:        p,
		columns:      columns,
		live:         func() bool { return true },
		windowWidth:  80,
		windowHeight: 24,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.state = p.State()
	return m
}

// pageLoadedMsg is sent when a page request finishes.
type pageLoadedMsg struct{ err error }

// refreshTickMsg triggers a re-read of the pager state.
type refreshTickMsg struct{}

// actionDoneMsg carries the result of an Action.
type actionDoneMsg struct {
	msg string
	err error
}

// clearStatusMsg is a message to clear the status
type clearStatusMsg struct{}

// Init implements tea.Model
func (m ListModel[T]) Init() tea.Cmd {
	return tea.Batch(m.loadCmd((*pager.Pager[T]).Load), refreshTick())
}

// Update implements tea.Model
func (m ListModel[T]) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case pageLoadedMsg:
		m.loaded = true
		m.sync()
		if msg.err != nil {
			return m.setStatus("Error: " + msg.err.Error())
		}
		return m, nil

	case refreshTickMsg:
		m.sync()
		return m, refreshTick()

	case actionDoneMsg:
		m.sync()
		if msg.err != nil {
			return m.setStatus("Error: " + msg.err.Error())
		}
		return m.setStatus(msg.msg)

	case clearStatusMsg:
		m.statusMsg = ""
		return m, nil
	}

	return m, nil
}

// handleKey processes keyboard input
func (m ListModel[T]) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "j", "down":
		if m.cursor < len(m.state.Items)-1 {
			m.cursor++
		}
		return m, nil

	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "g", "home":
		m.cursor = 0
		return m, nil

	case "G", "end":
		if len(m.state.Items) > 0 {
			m.cursor = len(m.state.Items) - 1
		}
		return m, nil

	case "n", "right", "l":
		if !m.state.HasNext() {
			return m, nil
		}
		m.cursor = 0
		return m, m.loadCmd((*pager.Pager[T]).Next)

	case "p", "left", "h":
		if !m.state.HasPrev() {
			return m, nil
		}
		m.cursor = 0
		return m, m.loadCmd((*pager.Pager[T]).Prev)

	case "r":
		return m, m.loadCmd((*pager.Pager[T]).Refresh)
	}

	for _, a := range m.actions {
		if msg.String() == a.Key {
			return m.runAction(a)
		}
	}

	return m, nil
}

// runAction runs a against the selected item in the background.
func (m ListModel[T]) runAction(a Action[T]) (tea.Model, tea.Cmd) {
	item, ok := m.Selected()
	if !ok {
		return m, nil
	}
	ctx := m.ctx
	return m, func() tea.Msg {
		msg, err := a.Run(ctx, item)
		return actionDoneMsg{msg: msg, err: err}
	}
}

// Selected returns the item under the cursor.
func (m ListModel[T]) Selected() (T, bool) {
	var zero T
	if m.cursor < 0 || m.cursor >= len(m.state.Items) {
		return zero, false
	}
	return m.state.Items[m.cursor], true
}

// State returns the last rendered pager state.
func (m ListModel[T]) State() pager.State[T] {
	return m.state
}

// sync re-reads the pager and keeps the cursor on the page.
func (m *ListModel[T]) sync() {
	m.state = m.pager.State()
	if m.cursor >= len(m.state.Items) {
		m.cursor = max(len(m.state.Items)-1, 0)
	}
}

func (m ListModel[T]) loadCmd(fn func(*pager.Pager[T], context.Context) error) tea.Cmd {
	p, ctx, onLoad := m.pager, m.ctx, m.onLoad
	return func() tea.Msg {
		err := fn(p, ctx)
		if err == nil && onLoad != nil {
			onLoad(p.Key())
		}
		return pageLoadedMsg{err: err}
	}
}

func (m ListModel[T]) setStatus(s string) (tea.Model, tea.Cmd) {
	m.statusMsg = s
	return m, clearStatusAfter(constants.StatusMessageDuration)
}

// View implements tea.Model
func (m ListModel[T]) View() string {
	if m.quitting {
		return ""
	}
	return renderListView(m)
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// clearStatusAfter returns a command that clears the status after a delay
func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}
