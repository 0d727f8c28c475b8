// Package coordinator fetches layout data for the visible trees, keeping at
// most one backend request in flight and converging on the latest window.
package coordinator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/coords"
	"github.com/argview/server/internal/render"
)

// LayoutFetcher is the backend layout query.
type LayoutFetcher interface {
	QueryTreeLayout(ctx context.Context, treeIndices []int, opts backend.LayoutOptions) (*backend.LayoutResult, error)
}

// WindowRequest is one visible-window computation.
type WindowRequest struct {
	Window coords.Window
	Bins   []coords.LocalBin
	// ZoomOnly marks a recomputation caused by a zoom change at an unchanged
	// pan position. Lock mode suppresses these regardless of the window.
	ZoomOnly bool
}

// Frame is the render state produced for one window.
type Frame struct {
	Seq           uint64                `json:"seq"`
	Window        coords.Window         `json:"window"`
	Bins          []coords.LocalBin     `json:"bins"`
	DisplayArray  []int                 `json:"display_array"`
	Signature     string                `json:"signature"`
	TreeIndices   []int                 `json:"tree_indices"`
	GlobalMinTime float64               `json:"global_min_time"`
	GlobalMaxTime float64               `json:"global_max_time"`
	Layout        *backend.LayoutBuffer `json:"-"`
	Buffers       *render.Buffers       `json:"buffers"`
	FetchedAt     time.Time             `json:"fetched_at"`
}

// Matrices returns the model matrices of the frame's visible trees.
func (f *Frame) Matrices() map[int]coords.Matrix {
	return coords.VisibleMatrices(f.Bins)
}

// Config contains coordinator configuration.
type Config struct {
	Fetcher LayoutFetcher
	// Pool flattens layouts off the caller's goroutine. When nil, builds run
	// inline on the fetch goroutine.
	Pool    *render.Pool
	Colorer render.TipColorer

	OnFrame func(*Frame)
	OnError func(error)
}

// Stats counts coordinator activity.
type Stats struct {
	Requests   int64 `json:"requests"`
	Fetches    int64 `json:"fetches"`
	Suppressed int64 `json:"suppressed"`
	Dropped    int64 `json:"dropped"`
	Builds     int64 `json:"builds"`
	Errors     int64 `json:"errors"`
}

type outcome struct {
	frame *Frame
	err   error
}

type waiter struct {
	seq uint64
	ch  chan outcome
}

// Coordinator coalesces window requests into layout fetches.
type Coordinator struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	seq        uint64
	inFlight   bool
	pending    *queued
	locked     bool
	lockedSpan *coords.Window
	lastWindow *coords.Window
	waiters    []waiter

	current atomic.Pointer[Frame]
	// notifyMu orders OnFrame calls so observers end on the current frame.
	notifyMu sync.Mutex

	requests   atomic.Int64
	fetches    atomic.Int64
	suppressed atomic.Int64
	dropped    atomic.Int64
	builds     atomic.Int64
	failures   atomic.Int64
}

type queued struct {
	seq uint64
	req WindowRequest
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Close stops accepting work and waits for the running fetch loop.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Current returns the last successfully applied frame, or nil.
func (c *Coordinator) Current() *Frame {
	return c.current.Load()
}

// Clear drops the retained frame.
func (c *Coordinator) Clear() {
	c.current.Store(nil)
}

// Locked reports whether lock mode is on.
func (c *Coordinator) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// SetLocked toggles lock mode. Locking freezes the span of the most recently
// requested window; unlocking forgets it. While locked, zoom-only requests
// and windows inside the span are suppressed, and a window leaving the span
// is fetched and becomes the new span.
func (c *Coordinator) SetLocked(locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = locked
	c.lockedSpan = nil
	if locked && c.lastWindow != nil {
		w := *c.lastWindow
		c.lockedSpan = &w
	}
}

// Stats returns activity counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Requests:   c.requests.Load(),
		Fetches:    c.fetches.Load(),
		Suppressed: c.suppressed.Load(),
		Dropped:    c.dropped.Load(),
		Builds:     c.builds.Load(),
		Errors:     c.failures.Load(),
	}
}

// Request submits a window without blocking. It returns false when lock mode
// suppressed the request.
func (c *Coordinator) Request(req WindowRequest) bool {
	_, ok := c.submit(req, nil)
	return ok
}

// Fetch submits a window and waits until it, or a newer window, settles. A
// request suppressed by lock mode waits for the fetch already in flight, or
// returns the current frame when there is none.
func (c *Coordinator) Fetch(ctx context.Context, req WindowRequest) (*Frame, error) {
	ch := make(chan outcome, 1)
	seq, ok := c.submit(req, ch)
	if !ok && seq == 0 {
		return c.Current(), nil
	}
	select {
	case out := <-ch:
		return out.frame, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) submit(req WindowRequest, wait chan outcome) (uint64, bool) {
	c.requests.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		if req.ZoomOnly || (c.lockedSpan != nil && c.lockedSpan.Contains(req.Window)) {
			c.suppressed.Add(1)
			if wait != nil && c.inFlight {
				c.waiters = append(c.waiters, waiter{seq: c.seq, ch: wait})
				return c.seq, false
			}
			return 0, false
		}
		w := req.Window
		c.lockedSpan = &w
	}
	w := req.Window
	c.lastWindow = &w

	c.seq++
	seq := c.seq
	if wait != nil {
		c.waiters = append(c.waiters, waiter{seq: seq, ch: wait})
	}

	if c.inFlight {
		if c.pending != nil {
			c.dropped.Add(1)
		}
		c.pending = &queued{seq: seq, req: req}
		return seq, true
	}
	c.inFlight = true
	c.wg.Add(1)
	go c.loop(queued{seq: seq, req: req})
	return seq, true
}

func (c *Coordinator) loop(q queued) {
	defer c.wg.Done()
	for {
		frame, err := c.load(q)

		c.mu.Lock()
		next := c.pending
		c.pending = nil
		if next == nil {
			c.inFlight = false
		}
		c.mu.Unlock()

		if next != nil {
			c.dropped.Add(1)
			q = *next
			continue
		}
		c.settle(q.seq, frame, err)
		return
	}
}

func (c *Coordinator) load(q queued) (*Frame, error) {
	display := coords.DisplayArray(q.req.Bins)
	frame := &Frame{
		Seq:          q.seq,
		Window:       q.req.Window,
		Bins:         q.req.Bins,
		DisplayArray: display,
		Signature:    coords.Signature(q.req.Bins),
	}

	layout := &backend.LayoutBuffer{}
	if len(display) > 0 {
		c.fetches.Add(1)
		res, err := c.cfg.Fetcher.QueryTreeLayout(c.ctx, display, backend.LayoutOptions{
			GenomicWindow:      [2]float64{q.req.Window.Start, q.req.Window.End},
			ActualDisplayArray: display,
		})
		if err != nil {
			return nil, err
		}
		if res.Buffer != nil {
			layout = res.Buffer
		}
		frame.TreeIndices = res.TreeIndices
		frame.GlobalMinTime = res.GlobalMinTime
		frame.GlobalMaxTime = res.GlobalMaxTime
	}
	frame.Layout = layout

	// A newer window is queued: the loop will discard this result, so skip
	// flattening it.
	c.mu.Lock()
	superseded := c.pending != nil
	c.mu.Unlock()
	if superseded {
		return nil, nil
	}

	c.builds.Add(1)
	breq := render.Request{Layout: layout, Matrices: frame.Matrices(), Colorer: c.cfg.Colorer}
	if c.cfg.Pool != nil {
		buffers, err := c.cfg.Pool.Build(c.ctx, breq)
		if err != nil {
			return nil, err
		}
		frame.Buffers = buffers
	} else {
		frame.Buffers = render.Build(breq.Layout, breq.Matrices, breq.Colorer)
	}
	frame.FetchedAt = time.Now()
	return frame, nil
}

// settle applies the outcome of seq and wakes every waiter it answers.
func (c *Coordinator) settle(seq uint64, frame *Frame, err error) {
	applied := false
	if err != nil {
		c.failures.Add(1)
		log.Printf("[Coordinator] layout fetch failed: %v", err)
	} else {
		for {
			cur := c.current.Load()
			if cur != nil && cur.Seq > seq {
				break
			}
			if c.current.CompareAndSwap(cur, frame) {
				applied = true
				break
			}
		}
	}

	c.mu.Lock()
	var ready []waiter
	rest := c.waiters[:0]
	for _, w := range c.waiters {
		if w.seq <= seq {
			ready = append(ready, w)
		} else {
			rest = append(rest, w)
		}
	}
	c.waiters = rest
	c.mu.Unlock()

	for _, w := range ready {
		w.ch <- outcome{frame: frame, err: err}
	}

	if err != nil {
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
		return
	}
	if !applied || c.cfg.OnFrame == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.current.Load() == frame {
		c.cfg.OnFrame(frame)
	}
}
