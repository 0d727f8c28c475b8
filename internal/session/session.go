// Package session wires the coordinate mapper, pan/zoom controller, layout
// coordinator, lock view and mutation manager for one open tree sequence.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/cache"
	"github.com/argview/server/internal/config"
	"github.com/argview/server/internal/coordinator"
	"github.com/argview/server/internal/coords"
	"github.com/argview/server/internal/layers"
	"github.com/argview/server/internal/lockview"
	"github.com/argview/server/internal/mutations"
	"github.com/argview/server/internal/panzoom"
	"github.com/argview/server/internal/render"
)

// ErrNoFrame is returned when nothing has been rendered yet.
var ErrNoFrame = errors.New("session: no frame rendered yet")

// Backend is what a session needs from the layout backend.
type Backend interface {
	coordinator.LayoutFetcher
	mutations.Source
	QueryFile(ctx context.Context, ref backend.FileRef) (*backend.FileInfo, error)
	On(event string, fn backend.Listener) uint64
	Off(event string, id uint64)
}

// Options contains everything needed to open a session.
type Options struct {
	Ref       backend.FileRef
	Backend   Backend
	Cache     *cache.Manager
	Pool      *render.Pool
	Preview   *render.PreviewRenderer
	Colorer   render.TipColorer
	View      config.ViewConfig
	Mutations config.MutationsConfig
	Width     float64
	Height    float64
}

// View is the derived state for the current view state and viewport.
type View struct {
	State    panzoom.ViewState  `json:"view_state"`
	Window   coords.Window      `json:"window"`
	Grid     coords.Grid        `json:"grid"`
	Bins     []coords.LocalBin  `json:"bins"`
	Viewport lockview.Viewport  `json:"viewport"`
	Snapshot *lockview.Snapshot `json:"lock_snapshot"`
	Locked   bool               `json:"locked"`
	Request  coords.Window      `json:"requested_window"`
}

// Session is one viewer's connection to one tree sequence.
type Session struct {
	id     string
	opts   Options
	info   *backend.FileInfo
	mapper *coords.Mapper
	ctrl   *panzoom.Controller
	coord  *coordinator.Coordinator
	muts   *mutations.Manager
	newick *Cell[string]
	frames *Cell[*coordinator.Frame]

	newickListener uint64

	mu      sync.Mutex
	width   float64
	height  float64
	locked  bool
	lastReq coordinator.WindowRequest

	// prevGenome is the genome axis of the last update, used to tell zoom-only
	// changes from pans.
	prevGenome panzoom.AxisState
	hasPrev    bool

	view    atomic.Pointer[View]
	lastErr atomic.Pointer[string]
}

// Open loads ref on the backend and builds a session around it.
func Open(ctx context.Context, id string, opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, errors.New("session: no backend")
	}
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}

	info, err := opts.Backend.QueryFile(ctx, opts.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", opts.Ref.File, err)
	}

	genomeLength := info.Config.GenomeLength
	breakpoints := info.Config.Breakpoints
	if len(breakpoints) < 2 {
		breakpoints = []float64{0, genomeLength}
	}
	trees, err := coords.NewTreeIndex(breakpoints)
	if err != nil {
		return nil, fmt.Errorf("invalid breakpoints for %s: %w", opts.Ref.File, err)
	}
	if genomeLength <= 0 {
		genomeLength = trees.SequenceLength()
	}

	s := &Session{
		id:     id,
		opts:   opts,
		info:   info,
		width:  opts.Width,
		height: opts.Height,
		newick: NewCell(""),
		frames: NewCell[*coordinator.Frame](nil),
	}

	s.mapper = coords.NewMapper(coords.Config{
		GenomeLength:    genomeLength,
		BaseBinBP:       opts.View.BaseBinBP,
		BaseZoom:        opts.View.BaseZoom,
		GlobalBpPerUnit: opts.View.GlobalBpPerUnit,
		TreeHeight:      opts.View.TreeHeight,
		MinTreePixels:   opts.View.MinTreePixels,
	}, trees)

	s.coord = coordinator.New(coordinator.Config{
		Fetcher: &coordinator.CachedFetcher{Fetcher: opts.Backend, Cache: opts.Cache, Project: opts.Ref.Project, File: opts.Ref.File},
		Pool:    opts.Pool,
		Colorer: opts.Colorer,
		OnError: func(err error) {
			msg := err.Error()
			s.lastErr.Store(&msg)
		},
		OnFrame: func(f *coordinator.Frame) {
			s.lastErr.Store(nil)
			s.frames.Set(f)
		},
	})

	s.muts = mutations.NewManager(mutations.Config{
		Source:      opts.Backend,
		Cache:       opts.Cache,
		Project:     opts.Ref.Project,
		File:        opts.Ref.File,
		Debounce:    opts.Mutations.Debounce(),
		SearchRange: opts.Mutations.SearchRange,
		PageLimit:   opts.Mutations.PageLimit,
		OnError: func(err error) {
			log.Printf("[Session %s] mutation query failed: %v", id, err)
		},
	})

	s.newickListener = opts.Backend.On(backend.EventNewick, func(data json.RawMessage) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			text = string(data)
		}
		s.newick.Set(text)
	})

	s.ctrl = panzoom.NewController(panzoom.Config{
		GenomeLength:    genomeLength,
		GlobalBpPerUnit: s.mapper.GlobalBpPerUnit(),
		BaseStep:        opts.View.PanBaseStep,
		Sensitivity:     opts.View.PanSensitivity,
		PixelsPerUnit:   1,
		MinZoom:         opts.View.MinZoom,
		MaxZoom:         opts.View.MaxZoom,
	}, s.initialState(genomeLength), panzoom.Callbacks{
		OnViewState: func(vs panzoom.ViewState) { s.update(vs) },
	})

	s.update(s.ctrl.State())
	log.Printf("[Session %s] opened %s/%s: %d trees, %.0f bp", id, opts.Ref.Project, opts.Ref.File, trees.Len(), genomeLength)
	return s, nil
}

// initialState fits the whole genome into the viewport width.
func (s *Session) initialState(genomeLength float64) panzoom.ViewState {
	worldW := genomeLength / s.mapper.GlobalBpPerUnit()
	zoomX := 0.0
	if worldW > 0 {
		zoomX = math.Log2(s.width / worldW)
	}
	h := s.opts.View.TreeHeight
	if h <= 0 {
		h = 1
	}
	zoomY := math.Log2(s.height / h)
	target := [2]float64{worldW / 2, h / 2}
	ax := panzoom.AxisState{Target: target, Zoom: [2]float64{zoomX, zoomY}}
	return panzoom.ViewState{
		panzoom.ViewGenome: ax,
		panzoom.ViewOrtho:  ax,
		panzoom.ViewTime:   {Target: [2]float64{0, h / 2}, Zoom: [2]float64{0, zoomY}},
	}
}

// update derives the view for vs and hands the visible window to the
// coordinator and the mutation manager.
func (s *Session) update(vs panzoom.ViewState) {
	g := vs[panzoom.ViewGenome]

	s.mu.Lock()
	width, height, locked := s.width, s.height, s.locked
	prev, hadPrev := s.prevGenome, s.hasPrev
	s.prevGenome, s.hasPrev = g, true
	s.mu.Unlock()
	zoomOnly := hadPrev && prev.Target == g.Target && prev.Zoom != g.Zoom
	bpu := s.mapper.GlobalBpPerUnit()
	span := width / math.Exp2(g.Zoom[0])
	window := coords.Window{
		Start: (g.Target[0] - span/2) * bpu,
		End:   (g.Target[0] + span/2) * bpu,
	}.Clamp(s.mapper.GenomeLength())

	bins, err := s.mapper.LocalBins(window, g.Zoom[0], width)
	if err != nil {
		log.Printf("[Session %s] cannot map window %v: %v", s.id, window, err)
		return
	}

	vp := lockview.Viewport{Width: width, Height: height, Target: g.Target, Zoom: g.Zoom}
	snap := lockview.Build(vp, bins)

	req := coordinator.WindowRequest{Window: window, Bins: bins, ZoomOnly: zoomOnly}
	if locked {
		if tw, ok := snap.TargetWindow(bins); ok {
			req.Window, req.Bins = tw, onlyTree(bins, snap.AdaptiveTarget.TreeIndex)
		}
	}

	s.view.Store(&View{
		State:    vs,
		Window:   window,
		Grid:     s.mapper.GridBins(window, g.Zoom[0]),
		Bins:     bins,
		Viewport: vp,
		Snapshot: snap,
		Locked:   locked,
		Request:  req.Window,
	})

	s.mu.Lock()
	s.lastReq = req
	s.mu.Unlock()

	s.coord.Request(req)
	s.muts.SetWindow(window)
}

func onlyTree(bins []coords.LocalBin, idx int) []coords.LocalBin {
	for _, b := range bins {
		if b.GlobalIndex == idx {
			return []coords.LocalBin{b}
		}
	}
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Info returns the backend's description of the loaded file.
func (s *Session) Info() *backend.FileInfo { return s.info }

// Controller returns the pan/zoom controller.
func (s *Session) Controller() *panzoom.Controller { return s.ctrl }

// Mutations returns the mutation manager.
func (s *Session) Mutations() *mutations.Manager { return s.muts }

// Newick returns the cell holding the latest newick string pushed by the
// backend.
func (s *Session) Newick() *Cell[string] { return s.newick }

// Frames returns the cell updated with every applied frame.
func (s *Session) Frames() *Cell[*coordinator.Frame] { return s.frames }

// View returns the current derived view.
func (s *Session) View() *View { return s.view.Load() }

// Frame returns the last applied layout frame, or nil.
func (s *Session) Frame() *coordinator.Frame { return s.coord.Current() }

// LastError returns the message of the last failed layout fetch, if the
// failure has not been followed by a successful one.
func (s *Session) LastError() string {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Stats returns coordinator counters.
func (s *Session) Stats() coordinator.Stats { return s.coord.Stats() }

// Input feeds a raw input event to the controller.
func (s *Session) Input(ev panzoom.Event) bool {
	return s.ctrl.Handle(ev)
}

// SetViewState replaces the view state.
func (s *Session) SetViewState(vs panzoom.ViewState) {
	s.ctrl.SetState(vs)
}

// SetViewport changes the canvas size in pixels.
func (s *Session) SetViewport(width, height float64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %gx%g", width, height)
	}
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	s.update(s.ctrl.State())
	return nil
}

// SetLocked toggles lock view.
func (s *Session) SetLocked(locked bool) {
	s.mu.Lock()
	s.locked = locked
	s.mu.Unlock()
	s.coord.SetLocked(locked)
	s.update(s.ctrl.State())
}

// Refresh waits for a frame covering the current request.
func (s *Session) Refresh(ctx context.Context) (*coordinator.Frame, error) {
	s.mu.Lock()
	req := s.lastReq
	s.mu.Unlock()
	return s.coord.Fetch(ctx, req)
}

// ClearFrame drops the retained frame.
func (s *Session) ClearFrame() { s.coord.Clear() }

// Layers returns the sublayer descriptors for the current view and frame.
func (s *Session) Layers(ls []layers.Layer) []layers.Descriptor {
	st := layers.State{
		GlobalBpPerUnit: s.mapper.GlobalBpPerUnit(),
		TreeHeight:      s.opts.View.TreeHeight,
		MinTime:         s.info.Config.MinTime,
		MaxTime:         s.info.Config.MaxTime,
	}
	if v := s.View(); v != nil {
		st.Grid = v.Grid
		st.Bins = v.Bins
	}
	if f := s.Frame(); f != nil {
		st.Buffers = f.Buffers
		if f.GlobalMaxTime > f.GlobalMinTime {
			st.MinTime, st.MaxTime = f.GlobalMinTime, f.GlobalMaxTime
		}
	}
	return layers.Render(ls, st)
}

// Preview renders the current frame to PNG over the visible world rectangle.
func (s *Session) Preview() ([]byte, error) {
	f := s.Frame()
	if f == nil {
		return nil, ErrNoFrame
	}
	if s.opts.Preview == nil {
		return nil, errors.New("session: preview rendering disabled")
	}
	bounds, ok := render.BoundsOf(f.Buffers)
	if v := s.View(); v != nil && v.Snapshot != nil && v.Snapshot.BoundingBox != nil {
		bb := v.Snapshot.BoundingBox
		bounds, ok = render.Bounds{bb.MinX, bb.MinY, bb.MaxX, bb.MaxY}, true
	}
	if !ok {
		bounds = render.Bounds{0, 0, 1, 1}
	}
	return s.opts.Preview.Render(f.Buffers, bounds)
}

// Close releases the session's goroutines and backend listeners.
func (s *Session) Close() {
	s.opts.Backend.Off(backend.EventNewick, s.newickListener)
	s.muts.Close()
	s.coord.Close()
}
