package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/backend/backendtest"
	"github.com/argview/server/internal/config"
	"github.com/argview/server/internal/coordinator"
	"github.com/argview/server/internal/lockview"
	"github.com/argview/server/internal/mutations"
	"github.com/argview/server/internal/panzoom"
	"github.com/argview/server/internal/render"
	"github.com/argview/server/internal/session"
	tea "github.com/charmbracelet/bubbletea"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	bp := []float64{0, 1000, 2000, 3000, 4000}
	ts := &backendtest.TreeSequence{
		Breakpoints: bp,
		MaxTime:     10,
		Mutations:   []backend.Mutation{{ID: 7, Position: 2500, TreeIndex: 2, DerivedState: "T"}},
	}
	srv := backendtest.NewServer(ts.Handler())
	t.Cleanup(srv.Close)

	c := backend.NewClient(backend.Config{URL: srv.URL(), AckTimeout: 5 * time.Second})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	cfg := config.DefaultConfig()
	s, err := session.Open(context.Background(), "tui", session.Options{
		Ref:       backend.FileRef{File: "four.trees"},
		Backend:   c,
		View:      cfg.View,
		Mutations: cfg.Mutations,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return out
}

func TestCanvasDots(t *testing.T) {
	c := newCanvas(2, 1)
	c.set(0, 0)
	c.set(1, 3)
	c.set(-1, 0)
	c.set(4, 0)
	if c.m[0][0] != 0x01|0x80 {
		t.Fatalf("unexpected mask %#x", c.m[0][0])
	}
	if c.m[0][1] != 0 {
		t.Fatalf("expected out of range dots to be dropped, got %#x", c.m[0][1])
	}
	if got := c.String(); got != string(rune(0x2881))+" " {
		t.Fatalf("unexpected canvas %q", got)
	}
}

func TestRenderFrame(t *testing.T) {
	f := &coordinator.Frame{Buffers: &render.Buffers{
		PathPositions:    []float32{0, 0, 1, 0, 1, 1},
		PathStartIndices: []uint32{0},
		TipPositions:     []float32{1, 1},
		MutPositions:     []float32{0.5, 0},
	}}
	// World x in [-0.125, 1.125], y in [0, 1].
	vp := lockview.Viewport{Width: 20, Height: 8, Target: [2]float64{0.5, 0.5}, Zoom: [2]float64{4, 3}}

	c := renderFrame(f, vp, 10, 2)
	if c.m[0][1] == 0 {
		t.Fatal("expected the edge origin to be drawn")
	}
	if !c.mark[0][5] {
		t.Fatal("expected the mutation cell to be marked")
	}

	empty := renderFrame(&coordinator.Frame{}, vp, 10, 2)
	if strings.TrimSpace(empty.String()) != "" {
		t.Fatal("expected blank canvas without buffers")
	}
}

func TestModel_NavigationKeys(t *testing.T) {
	s := testSession(t)
	m := New(s)
	defer m.Close()

	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	if got := s.View().Viewport.Width; got != 192 {
		t.Fatalf("expected viewport of 192 dots, got %v", got)
	}

	before := s.View().State[panzoom.ViewGenome]
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	after := s.View().State[panzoom.ViewGenome]
	if after.Target[0] <= before.Target[0] {
		t.Fatalf("expected pan right: %v -> %v", before.Target, after.Target)
	}

	m = update(t, m, runes("+"))
	if z := s.View().State[panzoom.ViewGenome].Zoom[0]; z != after.Zoom[0]+zoomStep {
		t.Fatalf("expected zoom %v, got %v", after.Zoom[0]+zoomStep, z)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if !s.View().Locked || m.status != "view locked" {
		t.Fatalf("expected locked view, status %q", m.status)
	}

	m = update(t, m, frameMsg{frame: &coordinator.Frame{Seq: 3, Signature: "1,2"}})
	if m.status != "frame 3: trees [1,2]" {
		t.Fatalf("unexpected status %q", m.status)
	}
	if out := m.View(); !strings.Contains(out, "argview") || !strings.Contains(out, "LOCKED") {
		t.Fatalf("unexpected view:\n%s", out)
	}
}

func TestModel_Search(t *testing.T) {
	s := testSession(t)
	m := New(s)
	defer m.Close()
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 40})

	m = update(t, m, runes("/"))
	if !m.searching {
		t.Fatal("expected search mode")
	}
	m = update(t, m, runes("2,500"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.searching || !m.showMutations {
		t.Fatal("expected search to close and show the table")
	}

	deadline := time.Now().Add(5 * time.Second)
	var st mutations.State
	for time.Now().Before(deadline) {
		st = s.Mutations().State()
		if st.Mode == mutations.ModeSearch && !st.Loading {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.Position != 2500 || st.TotalCount != 1 {
		t.Fatalf("unexpected search state %+v", st)
	}

	m = update(t, m, tickMsg(time.Now()))
	if rows := m.table.Rows(); len(rows) != 1 || rows[0][0] != "7" {
		t.Fatalf("unexpected table rows %v", rows)
	}

	m = update(t, m, runes("/"))
	m = update(t, m, runes("abc"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.searching || !strings.HasPrefix(m.status, "invalid position") {
		t.Fatalf("expected invalid position to keep search open, status %q", m.status)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.searching {
		t.Fatal("expected esc to leave search mode")
	}
}
