package render

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/coords"
)

// ErrPoolStopped is returned when the pool no longer accepts work.
var ErrPoolStopped = errors.New("render: worker pool stopped")

// Request is an immutable snapshot of build inputs.
type Request struct {
	Layout   *backend.LayoutBuffer
	Matrices map[int]coords.Matrix
	Colorer  TipColorer
}

type task struct {
	req   Request
	reply chan *Buffers
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool runs builds on a fixed set of worker goroutines. Requests and results
// are passed by message; workers keep no state between builds.
type Pool struct {
	cfg      PoolConfig
	queue    chan task
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewPool creates and starts a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	p := &Pool{
		cfg:    cfg,
		queue:  make(chan task, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Stop stops all workers after draining queued builds.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.stopCh)
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		t.reply <- p.run(t.req)
	}
}

func (p *Pool) run(req Request) (out *Buffers) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[RenderPool] build panicked: %v", r)
			out = nil
		}
	}()
	return Build(req.Layout, req.Matrices, req.Colorer)
}

// Build queues req and waits for its buffers.
func (p *Pool) Build(ctx context.Context, req Request) (*Buffers, error) {
	t := task{req: req, reply: make(chan *Buffers, 1)}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, ErrPoolStopped
	}
	select {
	case p.queue <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case out := <-t.reply:
		if out == nil {
			return nil, errors.New("render: build failed")
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
