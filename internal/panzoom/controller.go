// Package panzoom interprets raw pointer, wheel and touch events into
// axis-constrained zoom and pan updates of a view state.
package panzoom

import (
	"math"
	"sync"
)

// View identifiers used in a ViewState.
const (
	ViewGenome = "genome-positions"
	ViewTime   = "tree-time"
	ViewOrtho  = "ortho"
)

// ZoomAxis latches which axis wheel/pinch zoom applies to.
type ZoomAxis string

const (
	ZoomNone ZoomAxis = ""
	ZoomX    ZoomAxis = "X"
	ZoomY    ZoomAxis = "Y"
	ZoomAll  ZoomAxis = "all"
)

// PanDirection latches a horizontal wheel pan.
type PanDirection string

const (
	PanNone  PanDirection = ""
	PanLeft  PanDirection = "L"
	PanRight PanDirection = "R"
)

// AxisState is the camera of one view. Zoom is log2: +1 halves the visible span.
type AxisState struct {
	Target [2]float64 `json:"target"`
	Zoom   [2]float64 `json:"zoom"`
}

// ViewState holds one AxisState per logical view.
type ViewState map[string]AxisState

// Clone returns a copy safe to hand to callbacks.
func (v ViewState) Clone() ViewState {
	out := make(ViewState, len(v))
	for k, s := range v {
		out[k] = s
	}
	return out
}

// EventKind enumerates the input events the controller understands.
type EventKind string

const (
	EventWheel     EventKind = "wheel"
	EventPinchMove EventKind = "pinchmove"
	EventPanMove   EventKind = "panmove"
	EventDrag      EventKind = "drag"
)

// Event is one raw input event in screen space.
type Event struct {
	Kind    EventKind `json:"kind"`
	DeltaX  float64   `json:"deltaX"`
	DeltaY  float64   `json:"deltaY"`
	CtrlKey bool      `json:"ctrlKey"`
	// Scale is the pinch scale factor relative to the previous pinch event.
	Scale float64 `json:"scale,omitempty"`
}

// Callbacks are injected at construction; any may be nil.
type Callbacks struct {
	OnViewState func(ViewState)
	OnAxis      func(ZoomAxis, PanDirection)
}

// Config contains controller settings.
type Config struct {
	GenomeLength    float64
	GlobalBpPerUnit float64
	BaseStep        float64
	Sensitivity     float64
	// WheelZoomRate converts wheel delta pixels into log2 zoom.
	WheelZoomRate float64
	// PixelsPerUnit converts drag pixels at zoom 0 into world units.
	PixelsPerUnit float64
	// MinZoom and MaxZoom bound every zoom component.
	MinZoom float64
	MaxZoom float64
}

// Default zoom bounds used when Config leaves them unset.
const (
	DefaultMinZoom = -20
	DefaultMaxZoom = 30
)

// Controller owns the view state and the latched axis signals.
type Controller struct {
	cfg Config
	cb  Callbacks

	mu       sync.Mutex
	state    ViewState
	zoomAxis ZoomAxis
	panDir   PanDirection
}

// NewController creates a controller with an initial view state.
func NewController(cfg Config, initial ViewState, cb Callbacks) *Controller {
	if cfg.BaseStep <= 0 {
		cfg.BaseStep = 10
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = 1
	}
	if cfg.WheelZoomRate <= 0 {
		cfg.WheelZoomRate = 1.0 / 100
	}
	if cfg.PixelsPerUnit <= 0 {
		cfg.PixelsPerUnit = 1
	}
	if cfg.MaxZoom <= cfg.MinZoom {
		cfg.MinZoom, cfg.MaxZoom = DefaultMinZoom, DefaultMaxZoom
	}
	if initial == nil {
		initial = ViewState{}
	}
	for _, id := range []string{ViewGenome, ViewTime, ViewOrtho} {
		if _, ok := initial[id]; !ok {
			initial[id] = AxisState{}
		}
	}
	c := &Controller{cfg: cfg, cb: cb}
	c.state = c.clampState(initial)
	return c
}

// State returns a copy of the current view state.
func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Axis returns the latched zoom axis and pan direction.
func (c *Controller) Axis() (ZoomAxis, PanDirection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoomAxis, c.panDir
}

// SetState replaces the view state wholesale. Zoom levels outside the
// configured bounds are clamped.
func (c *Controller) SetState(vs ViewState) {
	c.mu.Lock()
	c.state = c.clampState(vs)
	out := c.state.Clone()
	c.mu.Unlock()
	c.emitState(out)
}

// Handle updates the axis latches for ev and then applies the default
// zoom/pan handling. It returns true when the event was consumed without
// default handling.
func (c *Controller) Handle(ev Event) bool {
	c.mu.Lock()

	prevAxis, prevDir := c.zoomAxis, c.panDir
	consumed := false

	switch ev.Kind {
	case EventPinchMove:
		if c.zoomAxis == ZoomX {
			consumed = true
		}
	case EventPanMove:
		c.zoomAxis = ZoomAll
	case EventWheel:
		switch {
		case ev.CtrlKey:
			c.zoomAxis = ZoomX
			c.panDir = PanNone
		case ev.DeltaY == 0:
			if ev.DeltaX > 0 {
				c.panDir = PanRight
			} else {
				c.panDir = PanLeft
			}
		default:
			c.zoomAxis = ZoomY
			c.panDir = PanNone
		}
	}

	axisChanged := prevAxis != c.zoomAxis || prevDir != c.panDir
	axis, dir := c.zoomAxis, c.panDir

	changed := false
	if !consumed {
		changed = c.applyDefault(ev)
	}
	out := c.state.Clone()
	c.mu.Unlock()

	if axisChanged && c.cb.OnAxis != nil {
		c.cb.OnAxis(axis, dir)
	}
	if changed {
		c.emitState(out)
	}
	return consumed
}

// applyDefault performs viewport-controller zoom/pan for ev. Caller holds mu.
func (c *Controller) applyDefault(ev Event) bool {
	g := c.state[ViewGenome]

	switch ev.Kind {
	case EventWheel:
		if c.panDir != PanNone && !ev.CtrlKey && ev.DeltaY == 0 {
			return c.panLocked(c.panDir)
		}
		dz := -ev.DeltaY * c.cfg.WheelZoomRate
		if ev.CtrlKey && ev.DeltaY == 0 {
			dz = -ev.DeltaX * c.cfg.WheelZoomRate
		}
		return c.zoomLocked(dz)
	case EventPinchMove:
		if ev.Scale <= 0 {
			return false
		}
		return c.zoomLocked(math.Log2(ev.Scale))
	case EventPanMove, EventDrag:
		scaleX := c.cfg.PixelsPerUnit * math.Pow(2, g.Zoom[0])
		scaleY := c.cfg.PixelsPerUnit * math.Pow(2, g.Zoom[1])
		proposed := g.Target
		proposed[0] -= ev.DeltaX / scaleX
		proposed[1] -= ev.DeltaY / scaleY
		return c.moveLocked(proposed)
	}
	return false
}

// zoomLocked applies a log2 zoom delta to the axes selected by zoomAxis,
// clamped to the configured bounds. It reports whether any zoom moved.
func (c *Controller) zoomLocked(dz float64) bool {
	if dz == 0 || math.IsNaN(dz) {
		return false
	}
	zx, zy := true, true
	switch c.zoomAxis {
	case ZoomX:
		zy = false
	case ZoomY:
		zx = false
	}
	changed := false
	for id, s := range c.state {
		prev := s.Zoom
		if zx && id != ViewTime {
			s.Zoom[0] = c.clampZoom(s.Zoom[0] + dz)
		}
		if zy {
			s.Zoom[1] = c.clampZoom(s.Zoom[1] + dz)
		}
		if s.Zoom != prev {
			changed = true
		}
		c.state[id] = s
	}
	return changed
}

func (c *Controller) clampZoom(z float64) float64 {
	if !(z >= c.cfg.MinZoom) {
		return c.cfg.MinZoom
	}
	if z > c.cfg.MaxZoom {
		return c.cfg.MaxZoom
	}
	return z
}

func (c *Controller) clampState(vs ViewState) ViewState {
	out := vs.Clone()
	for id, s := range out {
		s.Zoom[0] = c.clampZoom(s.Zoom[0])
		s.Zoom[1] = c.clampZoom(s.Zoom[1])
		out[id] = s
	}
	return out
}

// PanStep returns the world-unit step for one pan tick at the given X zoom.
// Zoomed out (zoomX < 0) the base step is amplified so a pan covers
// proportionally more genome.
func (c *Controller) PanStep(zoomX float64) float64 {
	return PanStep(c.cfg.BaseStep, c.cfg.Sensitivity, zoomX)
}

// PanStep is the free-function form of Controller.PanStep.
func PanStep(baseStep, sensitivity, zoomX float64) float64 {
	if zoomX < 0 {
		baseStep *= math.Abs(zoomX)/2 + 1
	}
	return baseStep / math.Pow(2, zoomX*sensitivity)
}

// Pan moves the genome view one step in dir, subject to clamping.
func (c *Controller) Pan(dir PanDirection) bool {
	c.mu.Lock()
	changed := c.panLocked(dir)
	out := c.state.Clone()
	c.mu.Unlock()
	if changed {
		c.emitState(out)
	}
	return changed
}

// Zoom changes the zoom of the selected axis by dz (log2).
func (c *Controller) Zoom(axis ZoomAxis, dz float64) bool {
	c.mu.Lock()
	prev := c.zoomAxis
	c.zoomAxis = axis
	changed := c.zoomLocked(dz)
	c.zoomAxis = prev
	out := c.state.Clone()
	c.mu.Unlock()
	if changed {
		c.emitState(out)
	}
	return changed
}

func (c *Controller) panLocked(dir PanDirection) bool {
	g := c.state[ViewGenome]
	step := c.PanStep(g.Zoom[0])
	proposed := g.Target
	switch dir {
	case PanLeft:
		proposed[0] -= step
	case PanRight:
		proposed[0] += step
	default:
		return false
	}
	return c.moveLocked(proposed)
}

// moveLocked applies a clamped target to every view sharing the genome axis.
func (c *Controller) moveLocked(proposed [2]float64) bool {
	g := c.state[ViewGenome]
	next := ClampTarget(g.Target, proposed, c.maxX())
	if next == g.Target {
		return false
	}
	for id, s := range c.state {
		if id == ViewTime {
			s.Target[1] = next[1]
		} else {
			s.Target = next
		}
		c.state[id] = s
	}
	return true
}

func (c *Controller) maxX() float64 {
	if c.cfg.GlobalBpPerUnit <= 0 {
		return math.Inf(1)
	}
	return c.cfg.GenomeLength / c.cfg.GlobalBpPerUnit
}

// ClampTarget returns proposed unless its X is negative or beyond maxX, in
// which case prev is returned unchanged.
func ClampTarget(prev, proposed [2]float64, maxX float64) [2]float64 {
	if proposed[0] < 0 || proposed[0] > maxX {
		return prev
	}
	return proposed
}

func (c *Controller) emitState(vs ViewState) {
	if c.cb.OnViewState != nil {
		c.cb.OnViewState(vs)
	}
}
