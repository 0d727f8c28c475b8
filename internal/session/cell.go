package session

import "sync"

// Cell is a single-owner value with change notifications. Writers call Set;
// readers either Get or Subscribe to receive each new value.
type Cell[T any] struct {
	mu      sync.Mutex
	val     T
	version uint64
	nextID  uint64
	subs    map[uint64]chan T
}

// NewCell creates a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{val: initial, subs: make(map[uint64]chan T)}
}

// Get returns the current value and how many times it has been set.
func (c *Cell[T]) Get() (T, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.version
}

// Set stores v and notifies subscribers. A slow subscriber only ever sees the
// latest value.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
	c.version++
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Subscribe returns a channel of new values and a cancel func that closes it.
func (c *Cell[T]) Subscribe() (<-chan T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	ch := make(chan T, 1)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Cell[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
