// Package tui is a terminal viewer for one session.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/argview/server/internal/coordinator"
	"github.com/argview/server/internal/layers"
	"github.com/argview/server/internal/panzoom"
	"github.com/argview/server/internal/session"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	zoomStep     = 0.5
	pollInterval = 250 * time.Millisecond
	tableHeight  = 6
)

// Messages
type frameMsg struct{ frame *coordinator.Frame }
type tickMsg time.Time
type refreshedMsg struct{ err error }

// Model is the bubbletea model driving a session.
type Model struct {
	sess *session.Session
	keys KeyMap

	width  int
	height int

	frame  *coordinator.Frame
	frames <-chan *coordinator.Frame
	cancel func()

	status    string
	newick    string
	newickVer uint64

	help          help.Model
	showMutations bool
	table         table.Model
	searching     bool
	input         textinput.Model
}

// New creates a model for s. It subscribes to frame updates until Close.
func New(s *session.Session) Model {
	frames, cancel := s.Frames().Subscribe()

	in := textinput.New()
	in.Placeholder = "genome position (bp)"
	in.CharLimit = 20
	in.Width = 24

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 8},
			{Title: "Position", Width: 12},
			{Title: "Tree", Width: 6},
			{Title: "Node", Width: 6},
			{Title: "Derived", Width: 8},
			{Title: "Time", Width: 10},
		}),
		table.WithHeight(tableHeight),
	)

	return Model{
		sess:   s,
		keys:   DefaultKeyMap,
		frame:  s.Frame(),
		frames: frames,
		cancel: cancel,
		status: "argview ready",
		help:   help.New(),
		table:  tbl,
		input:  in,
	}
}

// Close releases the frame subscription.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Run starts an interactive program for s and blocks until it exits.
func Run(ctx context.Context, s *session.Session) error {
	m := New(s)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func waitFrame(ch <-chan *coordinator.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return nil
		}
		return frameMsg{frame: f}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	s := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := s.Refresh(ctx)
		return refreshedMsg{err: err}
	}
}

// Init starts listening for frames and polling mutation state.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitFrame(m.frames), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.applyViewport()
		return m, nil

	case frameMsg:
		m.frame = msg.frame
		if m.frame != nil {
			m.status = fmt.Sprintf("frame %d: trees [%s]", m.frame.Seq, m.frame.Signature)
		}
		return m, waitFrame(m.frames)

	case refreshedMsg:
		if msg.err != nil {
			m.status = "fetch failed: " + msg.err.Error()
		} else {
			m.frame = m.sess.Frame()
		}
		return m, nil

	case tickMsg:
		m.syncMutations()
		if text, ver := m.sess.Newick().Get(); ver != m.newickVer {
			m.newick, m.newickVer = text, ver
		}
		return m, tick()

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.searching = false
		m.input.Blur()
		m.status = "search cancelled"
		return m, nil
	case key.Matches(msg, m.keys.Enter):
		raw := strings.ReplaceAll(strings.TrimSpace(m.input.Value()), ",", "")
		pos, err := strconv.ParseFloat(raw, 64)
		if err != nil || pos < 0 {
			m.status = "invalid position: " + m.input.Value()
			return m, nil
		}
		m.searching = false
		m.input.Blur()
		m.showMutations = true
		m.applyViewport()
		m.sess.Mutations().Search(pos, 0)
		m.status = "searching around " + layers.FormatBP(pos)
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.sess.Controller()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Left):
		ctrl.Pan(panzoom.PanLeft)
	case key.Matches(msg, m.keys.Right):
		ctrl.Pan(panzoom.PanRight)
	case key.Matches(msg, m.keys.ZoomIn):
		ctrl.Zoom(panzoom.ZoomX, zoomStep)
	case key.Matches(msg, m.keys.ZoomOut):
		ctrl.Zoom(panzoom.ZoomX, -zoomStep)
	case key.Matches(msg, m.keys.Taller):
		ctrl.Zoom(panzoom.ZoomY, zoomStep)
	case key.Matches(msg, m.keys.Shorter):
		ctrl.Zoom(panzoom.ZoomY, -zoomStep)
	case key.Matches(msg, m.keys.Lock):
		locked := !m.locked()
		m.sess.SetLocked(locked)
		if locked {
			m.status = "view locked"
		} else {
			m.status = "view unlocked"
		}
	case key.Matches(msg, m.keys.Refresh):
		m.status = "refetching"
		return m, m.refresh()
	case key.Matches(msg, m.keys.Mutations):
		m.showMutations = !m.showMutations
		if m.showMutations {
			m.table.Focus()
		} else {
			m.table.Blur()
		}
		m.syncMutations()
		m.applyViewport()
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.input.SetValue("")
		m.status = "search mode"
		cmd := m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.More):
		if !m.sess.Mutations().LoadMore() {
			m.status = "no more mutations"
		}
	case key.Matches(msg, m.keys.Clear):
		m.sess.Mutations().ClearSearch()
		m.status = "showing mutations in view"
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	default:
		if m.showMutations {
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) locked() bool {
	if v := m.sess.View(); v != nil {
		return v.Locked
	}
	return false
}

func (m *Model) syncMutations() {
	st := m.sess.Mutations().State()
	rows := make([]table.Row, 0, len(st.Mutations))
	for _, mu := range st.Mutations {
		rows = append(rows, table.Row{
			strconv.FormatInt(mu.ID, 10),
			layers.FormatBP(mu.Position),
			strconv.Itoa(mu.TreeIndex),
			strconv.FormatInt(mu.Node, 10),
			mu.DerivedState,
			layers.FormatTime(mu.Time),
		})
	}
	m.table.SetRows(rows)
}

// applyViewport sizes the session viewport to the canvas in braille dots.
func (m *Model) applyViewport() {
	w, h := m.canvasSize()
	if err := m.sess.SetViewport(float64(w*2), float64(h*4)); err != nil {
		m.status = "viewport: " + err.Error()
	}
}

// canvasSize returns the tree canvas size in cells.
func (m Model) canvasSize() (int, int) {
	w := m.width - 4
	h := m.height - 6
	if m.showMutations {
		h -= tableHeight + 3
	}
	if w < 10 {
		w = 10
	}
	if h < 4 {
		h = 4
	}
	return w, h
}
