package backend

import (
	"encoding/json"
	"sync"
)

// Listener receives the raw payload of a pushed event.
type Listener func(data json.RawMessage)

// Events emitted by the client.
const (
	EventDisconnect   = "disconnect"
	EventConnect      = "connect"
	EventNewick       = "newick"
	EventLayoutResult = "layout-result"
)

type listenerEntry struct {
	id   uint64
	fn   Listener
	once bool
}

// Emitter is a small on/off/once event registry. Listeners are identified by
// the id returned from On/Once so the same function can be removed reliably.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listenerEntry
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]listenerEntry)}
}

// On registers fn for event and returns its id.
func (e *Emitter) On(event string, fn Listener) uint64 {
	return e.add(event, fn, false)
}

// Once registers fn to fire at most once.
func (e *Emitter) Once(event string, fn Listener) uint64 {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Listener, once bool) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: e.nextID, fn: fn, once: once})
	return e.nextID
}

// Off removes the listener with id from event.
func (e *Emitter) Off(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(event, id)
}

func (e *Emitter) removeLocked(event string, id uint64) {
	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = ls
}

// Emit calls every listener of event outside the lock.
func (e *Emitter) Emit(event string, data json.RawMessage) {
	e.mu.Lock()
	ls := append([]listenerEntry(nil), e.listeners[event]...)
	for _, l := range ls {
		if l.once {
			e.removeLocked(event, l.id)
		}
	}
	e.mu.Unlock()

	for _, l := range ls {
		l.fn(data)
	}
}

// ListenerCount returns the number of listeners for event, or for all events
// when event is empty.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if event != "" {
		return len(e.listeners[event])
	}
	n := 0
	for _, ls := range e.listeners {
		n += len(ls)
	}
	return n
}
