package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/config"
)

// Info contains information about a session for the API response.
type Info struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	File    string `json:"file"`
}

// Registry holds the open sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	title    string
	defaults Options
}

// NewRegistry creates an empty registry. defaults supplies the shared
// backend, caches and settings for sessions it opens.
func NewRegistry(defaults Options, title string) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		title:    title,
		defaults: defaults,
	}
}

// Open creates and registers a session for ref. width and height override the
// default viewport when positive.
func (r *Registry) Open(ctx context.Context, ref backend.FileRef, width, height float64) (*Session, error) {
	r.mu.RLock()
	opts := r.defaults
	r.mu.RUnlock()
	project := opts.Ref.Project
	opts.Ref = ref
	if ref.Project == "" {
		opts.Ref.Project = project
	}
	if width > 0 {
		opts.Width = width
	}
	if height > 0 {
		opts.Height = height
	}
	s, err := Open(ctx, newID(), opts)
	if err != nil {
		return nil, err
	}
	r.Register(s)
	return s, nil
}

// Reconfigure changes the view and mutation settings of sessions opened from
// now on. Open sessions keep theirs.
func (r *Registry) Reconfigure(view config.ViewConfig, muts config.MutationsConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults.View = view
	r.defaults.Mutations = muts
}

// Register adds a session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; !ok {
		r.order = append(r.order, s.ID())
	}
	r.sessions[s.ID()] = s
}

// Get returns the session with id, or nil if not found.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove closes and forgets a session. It reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		for i, sid := range r.order {
			if sid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Title returns the configured site title.
func (r *Registry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "argview"
}

// Sessions returns session info in creation order.
func (r *Registry) Sessions() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		infos = append(infos, Info{ID: id, Project: s.opts.Ref.Project, File: s.opts.Ref.File})
	}
	return infos
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()
	for _, id := range ids {
		r.Remove(id)
	}
}

func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
