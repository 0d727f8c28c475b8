package panzoom

import (
	"math"
	"testing"
)

func newTestController(cb Callbacks) *Controller {
	return NewController(Config{
		GenomeLength:    100000,
		GlobalBpPerUnit: 1000,
		BaseStep:        10,
		Sensitivity:     1,
	}, ViewState{
		ViewGenome: {Target: [2]float64{50, 0.5}},
	}, cb)
}

func TestHandle_AxisTransitions(t *testing.T) {
	c := newTestController(Callbacks{})

	steps := []struct {
		name     string
		ev       Event
		wantAxis ZoomAxis
		wantDir  PanDirection
		consumed bool
	}{
		{"ctrl wheel latches X", Event{Kind: EventWheel, DeltaY: -10, CtrlKey: true}, ZoomX, PanNone, false},
		{"pinch while X is suppressed", Event{Kind: EventPinchMove, Scale: 1.5}, ZoomX, PanNone, true},
		{"horizontal wheel right", Event{Kind: EventWheel, DeltaX: 4}, ZoomX, PanRight, false},
		{"horizontal wheel left", Event{Kind: EventWheel, DeltaX: -4}, ZoomX, PanLeft, false},
		{"vertical wheel latches Y", Event{Kind: EventWheel, DeltaY: 20}, ZoomY, PanNone, false},
		{"panmove frees both axes", Event{Kind: EventPanMove, DeltaX: 1}, ZoomAll, PanNone, false},
		{"pinch after panmove passes through", Event{Kind: EventPinchMove, Scale: 2}, ZoomAll, PanNone, false},
	}
	for _, st := range steps {
		consumed := c.Handle(st.ev)
		axis, dir := c.Axis()
		if axis != st.wantAxis || dir != st.wantDir {
			t.Errorf("%s: got axis=%q dir=%q, want axis=%q dir=%q", st.name, axis, dir, st.wantAxis, st.wantDir)
		}
		if consumed != st.consumed {
			t.Errorf("%s: consumed=%v, want %v", st.name, consumed, st.consumed)
		}
	}
}

func TestHandle_PinchSuppressedLeavesStateUntouched(t *testing.T) {
	var emitted int
	c := newTestController(Callbacks{OnViewState: func(ViewState) { emitted++ }})

	c.Handle(Event{Kind: EventWheel, DeltaY: -100, CtrlKey: true})
	before := c.State()
	emitted = 0

	c.Handle(Event{Kind: EventPinchMove, Scale: 4})
	if emitted != 0 {
		t.Fatalf("expected no view state emission, got %d", emitted)
	}
	if c.State()[ViewGenome] != before[ViewGenome] {
		t.Fatal("suppressed pinch changed the view state")
	}
}

func TestHandle_WheelZoomAxes(t *testing.T) {
	c := newTestController(Callbacks{})

	c.Handle(Event{Kind: EventWheel, DeltaY: -100, CtrlKey: true})
	g := c.State()[ViewGenome]
	if g.Zoom[0] != 1 || g.Zoom[1] != 0 {
		t.Fatalf("ctrl-wheel should zoom X only, got %v", g.Zoom)
	}

	c.Handle(Event{Kind: EventWheel, DeltaY: -100})
	g = c.State()[ViewGenome]
	if g.Zoom[0] != 1 || g.Zoom[1] != 1 {
		t.Fatalf("plain wheel should zoom Y only, got %v", g.Zoom)
	}
}

func TestHandle_HorizontalWheelPans(t *testing.T) {
	var last ViewState
	c := newTestController(Callbacks{OnViewState: func(vs ViewState) { last = vs }})

	c.Handle(Event{Kind: EventWheel, DeltaX: 3})
	if last == nil {
		t.Fatal("expected a view state emission")
	}
	if got := last[ViewGenome].Target[0]; got != 60 {
		t.Fatalf("expected pan right by one step to 60, got %v", got)
	}
}

func TestPanStep(t *testing.T) {
	cases := []struct {
		zoomX float64
		want  float64
	}{
		{0, 10},
		{1, 5},
		{2, 2.5},
		// zoomed out: base amplified by (|z|/2+1) = 2, then divided by 2^-2
		{-2, 80},
	}
	for _, tc := range cases {
		got := PanStep(10, 1, tc.zoomX)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("PanStep(zoom=%v) = %v, want %v", tc.zoomX, got, tc.want)
		}
	}
}

func TestClampTarget(t *testing.T) {
	prev := [2]float64{10, 1}
	maxX := 100000.0 / 1000

	cases := []struct {
		proposed [2]float64
		want     [2]float64
	}{
		{[2]float64{20, 2}, [2]float64{20, 2}},
		{[2]float64{-0.1, 2}, prev},
		{[2]float64{maxX + 0.1, 2}, prev},
		{[2]float64{maxX, 3}, [2]float64{maxX, 3}},
		{[2]float64{0, 3}, [2]float64{0, 3}},
	}
	for _, tc := range cases {
		if got := ClampTarget(prev, tc.proposed, maxX); got != tc.want {
			t.Errorf("ClampTarget(%v) = %v, want %v", tc.proposed, got, tc.want)
		}
	}
}

func TestPan_ClampedAtGenomeStart(t *testing.T) {
	c := NewController(Config{GenomeLength: 1000, GlobalBpPerUnit: 100, BaseStep: 4}, ViewState{
		ViewGenome: {Target: [2]float64{2, 0}},
	}, Callbacks{})

	if c.Pan(PanLeft) {
		t.Fatal("expected pan past genome start to be rejected")
	}
	if got := c.State()[ViewGenome].Target[0]; got != 2 {
		t.Fatalf("expected target unchanged at 2, got %v", got)
	}
	if !c.Pan(PanRight) {
		t.Fatal("expected pan right to succeed")
	}
	if got := c.State()[ViewGenome].Target[0]; got != 6 {
		t.Fatalf("expected target 6, got %v", got)
	}
}

func TestCallbacksAreInstanceScoped(t *testing.T) {
	var a, b int
	ca := newTestController(Callbacks{OnViewState: func(ViewState) { a++ }})
	cb := newTestController(Callbacks{OnViewState: func(ViewState) { b++ }})

	ca.Pan(PanRight)
	if a != 1 || b != 0 {
		t.Fatalf("expected only controller A to fire, got a=%d b=%d", a, b)
	}
	cb.Pan(PanRight)
	if a != 1 || b != 1 {
		t.Fatalf("expected only controller B to fire, got a=%d b=%d", a, b)
	}
}

func TestZoom_ClampedToBounds(t *testing.T) {
	emits := 0
	c := NewController(Config{GenomeLength: 1000, GlobalBpPerUnit: 1, MinZoom: -2, MaxZoom: 3}, nil,
		Callbacks{OnViewState: func(ViewState) { emits++ }})

	for i := 0; i < 10; i++ {
		c.Zoom(ZoomX, 1)
	}
	if z := c.State()[ViewGenome].Zoom[0]; z != 3 {
		t.Fatalf("expected zoom clamped to 3, got %v", z)
	}
	if emits != 3 {
		t.Fatalf("expected zooms past the bound to be no-ops, got %d emissions", emits)
	}

	c.Handle(Event{Kind: EventWheel, DeltaY: 1e6, CtrlKey: true})
	if z := c.State()[ViewGenome].Zoom[0]; z != -2 {
		t.Fatalf("expected zoom clamped to -2, got %v", z)
	}

	c.SetState(ViewState{ViewGenome: {Zoom: [2]float64{70, math.NaN()}}})
	if z := c.State()[ViewGenome].Zoom; z != [2]float64{3, -2} {
		t.Fatalf("expected SetState to clamp zoom, got %v", z)
	}
}

func TestNewController_DefaultZoomBounds(t *testing.T) {
	c := NewController(Config{}, ViewState{ViewGenome: {Zoom: [2]float64{1000, -1000}}}, Callbacks{})
	if z := c.State()[ViewGenome].Zoom; z != [2]float64{DefaultMaxZoom, DefaultMinZoom} {
		t.Fatalf("expected default bounds, got %v", z)
	}
}
