package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/cache"
	"github.com/argview/server/internal/coords"
	"github.com/argview/server/internal/render"
)

// gatedFetcher blocks every query until released and records what it saw.
type gatedFetcher struct {
	mu       sync.Mutex
	calls    []backend.LayoutOptions
	active   int
	maxAct   int
	started  chan struct{}
	release  chan struct{}
	failNext error
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan struct{}, 64), release: make(chan struct{}, 64)}
}

func (f *gatedFetcher) QueryTreeLayout(ctx context.Context, idx []int, opts backend.LayoutOptions) (*backend.LayoutResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.active++
	if f.active > f.maxAct {
		f.maxAct = f.active
	}
	f.mu.Unlock()

	f.started <- struct{}{}
	<-f.release

	f.mu.Lock()
	f.active--
	err := f.failNext
	f.failNext = nil
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	buf := &backend.LayoutBuffer{}
	for _, i := range idx {
		buf.NodeID = append(buf.NodeID, 0)
		buf.ParentID = append(buf.ParentID, -1)
		buf.IsTip = append(buf.IsTip, true)
		buf.TreeIdx = append(buf.TreeIdx, int32(i))
		buf.X = append(buf.X, 0.5)
		buf.Y = append(buf.Y, 1)
		buf.Time = append(buf.Time, 0)
		buf.Name = append(buf.Name, "")
	}
	return &backend.LayoutResult{Buffer: buf, TreeIndices: idx, GlobalMaxTime: 1}, nil
}

func (f *gatedFetcher) snapshot() ([]backend.LayoutOptions, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.LayoutOptions(nil), f.calls...), f.maxAct
}

func waitStarted(t *testing.T, f *gatedFetcher) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch to start")
	}
}

func request(start, end float64, trees ...int) WindowRequest {
	bins := make([]coords.LocalBin, 0, len(trees))
	for _, idx := range trees {
		m := coords.NewMatrix(1, 1, float64(idx), 0)
		bins = append(bins, coords.LocalBin{GlobalIndex: idx, ModelMatrix: &m, Visible: true})
	}
	return WindowRequest{Window: coords.Window{Start: start, End: end}, Bins: bins}
}

func TestCoordinator_Coalesces(t *testing.T) {
	f := newGatedFetcher()
	frames := make(chan *Frame, 8)
	c := New(Config{Fetcher: f, OnFrame: func(fr *Frame) { frames <- fr }})
	defer c.Close()

	c.Request(request(0, 100, 0))
	waitStarted(t, f)

	for i := 1; i <= 5; i++ {
		c.Request(request(float64(i*100), float64(i*100+100), i))
	}

	f.release <- struct{}{}
	waitStarted(t, f)
	f.release <- struct{}{}

	var got *Frame
	select {
	case got = <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	calls, maxActive := f.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(calls))
	}
	if maxActive != 1 {
		t.Fatalf("expected at most 1 fetch in flight, got %d", maxActive)
	}
	if calls[1].GenomicWindow != [2]float64{500, 600} {
		t.Fatalf("expected second fetch for the latest window, got %v", calls[1].GenomicWindow)
	}
	if got.Window.Start != 500 || got.Signature != "5" {
		t.Fatalf("expected frame for latest window, got %+v", got.Window)
	}
	if c.Current() != got {
		t.Fatal("expected current frame to be the applied one")
	}
	select {
	case extra := <-frames:
		t.Fatalf("stale frame applied: %+v", extra.Window)
	case <-time.After(50 * time.Millisecond):
	}
	if st := c.Stats(); st.Fetches != 2 || st.Dropped != 5 || st.Builds != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestCoordinator_LockSuppression(t *testing.T) {
	f := newGatedFetcher()
	c := New(Config{Fetcher: f})
	defer c.Close()

	fetch := func(req WindowRequest) {
		t.Helper()
		done := make(chan error, 1)
		go func() {
			_, err := c.Fetch(context.Background(), req)
			done <- err
		}()
		waitStarted(t, f)
		f.release <- struct{}{}
		if err := <-done; err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}

	fetch(request(1000, 2000, 1))
	c.SetLocked(true)

	// Zoom in and out within the locked span.
	for _, w := range [][2]float64{{1200, 1800}, {1400, 1600}, {1000, 2000}} {
		if c.Request(request(w[0], w[1], 1)) {
			t.Fatalf("expected window %v to be suppressed", w)
		}
	}

	// Zoom out past the span without panning.
	zoomOut := request(0, 4000, 0, 1, 2, 3)
	zoomOut.ZoomOnly = true
	if c.Request(zoomOut) {
		t.Fatal("expected zoom-only window outside the span to be suppressed")
	}
	if calls, _ := f.snapshot(); len(calls) != 1 {
		t.Fatalf("expected no fetch while locked, got %d", len(calls))
	}

	// Pan outside the span.
	fetch(request(1800, 2800, 1, 2))
	if calls, _ := f.snapshot(); len(calls) != 2 {
		t.Fatalf("expected exactly one new fetch, got %d", len(calls))
	}

	// Same window again is inside the rebased span.
	if c.Request(request(1800, 2800, 1, 2)) {
		t.Fatal("expected repeat to be suppressed")
	}

	c.SetLocked(false)
	fetch(request(1800, 2800, 1, 2))
	if calls, _ := f.snapshot(); len(calls) != 3 {
		t.Fatalf("expected fetch after unlock, got %d", len(calls))
	}
	if st := c.Stats(); st.Suppressed != 5 {
		t.Fatalf("expected 5 suppressed requests, got %+v", st)
	}
}

func TestCoordinator_ErrorKeepsPreviousFrame(t *testing.T) {
	f := newGatedFetcher()
	errs := make(chan error, 1)
	c := New(Config{Fetcher: f, OnError: func(err error) { errs <- err }})
	defer c.Close()

	go c.Fetch(context.Background(), request(0, 10, 0))
	waitStarted(t, f)
	f.release <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for c.Current() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	prev := c.Current()
	if prev == nil {
		t.Fatal("expected first frame")
	}

	boom := &backend.ServerError{Method: backend.MethodQueryTreeLayout, Code: backend.CodeInternal, Message: "boom"}
	f.mu.Lock()
	f.failNext = boom
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), request(10, 20, 1))
		done <- err
	}()
	waitStarted(t, f)
	f.release <- struct{}{}

	if err := <-done; !errors.Is(err, boom) {
		t.Fatalf("expected server error, got %v", err)
	}
	if err := <-errs; !errors.Is(err, boom) {
		t.Fatalf("expected OnError with server error, got %v", err)
	}
	if c.Current() != prev {
		t.Fatal("expected previous frame to stay visible")
	}

	c.Clear()
	if c.Current() != nil {
		t.Fatal("expected Clear to drop the frame")
	}
}

func TestCoordinator_LastNotifiedFrameIsCurrent(t *testing.T) {
	for round := 0; round < 50; round++ {
		var mu sync.Mutex
		var last *Frame
		c := New(Config{Fetcher: newGatedFetcher(), OnFrame: func(f *Frame) {
			mu.Lock()
			last = f
			mu.Unlock()
		}})

		var wg sync.WaitGroup
		for seq := uint64(1); seq <= 16; seq++ {
			wg.Add(1)
			go func(seq uint64) {
				defer wg.Done()
				c.settle(seq, &Frame{Seq: seq}, nil)
			}(seq)
		}
		wg.Wait()
		c.Close()

		mu.Lock()
		got := last
		mu.Unlock()
		if cur := c.Current(); cur == nil || cur.Seq != 16 || got != cur {
			t.Fatalf("round %d: current %+v, last notified %+v", round, cur, got)
		}
	}
}

func TestCoordinator_EmptyDisplaySkipsBackend(t *testing.T) {
	f := newGatedFetcher()
	pool := render.NewPool(render.PoolConfig{Workers: 1})
	defer pool.Stop()
	c := New(Config{Fetcher: f, Pool: pool})
	defer c.Close()

	frame, err := c.Fetch(context.Background(), WindowRequest{Window: coords.Window{Start: 0, End: 1}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if frame.Buffers == nil || frame.Buffers.TipCount() != 0 {
		t.Fatalf("expected empty buffers, got %+v", frame.Buffers)
	}
	if calls, _ := f.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no backend calls, got %d", len(calls))
	}
}

type countingFetcher struct{ n int }

func (f *countingFetcher) QueryTreeLayout(ctx context.Context, idx []int, opts backend.LayoutOptions) (*backend.LayoutResult, error) {
	f.n++
	return &backend.LayoutResult{
		Buffer: &backend.LayoutBuffer{
			NodeID: []int32{0}, ParentID: []int32{-1}, IsTip: []bool{true}, TreeIdx: []int32{int32(idx[0])},
			X: []float32{0}, Y: []float32{0}, Time: []float32{0}, Name: []string{"t"},
		},
		TreeIndices:   idx,
		GlobalMaxTime: 42,
	}, nil
}

func TestCachedFetcher(t *testing.T) {
	m, err := cache.NewManager(cache.Config{LayoutCacheSizeMB: 8, LayoutTTL: time.Minute, QueryCacheSize: 8})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	inner := &countingFetcher{}
	f := &CachedFetcher{Fetcher: inner, Cache: m, Project: "alpha", File: "a.trees"}
	opts := backend.LayoutOptions{GenomicWindow: [2]float64{0, 10}, ActualDisplayArray: []int{3}}

	first, err := f.QueryTreeLayout(context.Background(), []int{3}, opts)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := f.QueryTreeLayout(context.Background(), []int{3}, opts)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if inner.n != 1 {
		t.Fatalf("expected one backend call, got %d", inner.n)
	}
	if second.GlobalMaxTime != 42 || second.Buffer.Name[0] != first.Buffer.Name[0] {
		t.Fatalf("unexpected cached result %+v", second)
	}

	opts.GenomicWindow = [2]float64{0, 20}
	if _, err := f.QueryTreeLayout(context.Background(), []int{3}, opts); err != nil {
		t.Fatalf("third query: %v", err)
	}
	if inner.n != 2 {
		t.Fatalf("expected a new window to miss the cache, got %d calls", inner.n)
	}

	other := &CachedFetcher{Fetcher: inner, Cache: m, Project: "beta", File: "a.trees"}
	if _, err := other.QueryTreeLayout(context.Background(), []int{3}, opts); err != nil {
		t.Fatalf("other project query: %v", err)
	}
	if inner.n != 3 {
		t.Fatalf("expected the same file in another project to miss the cache, got %d calls", inner.n)
	}
}
