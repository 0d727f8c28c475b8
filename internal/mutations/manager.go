// Package mutations pages mutation records for the visible genomic window or
// around a searched position.
package mutations

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/cache"
	"github.com/argview/server/internal/coords"
)

// Defaults.
const (
	DefaultDebounce    = 300 * time.Millisecond
	DefaultSearchRange = 5000
	DefaultPageLimit   = 500
)

// Mode selects what drives fetching.
type Mode string

const (
	ModeViewport Mode = "viewport"
	ModeSearch   Mode = "search"
)

// Source is the backend mutation query surface.
type Source interface {
	QueryMutationsWindow(ctx context.Context, start, end float64, offset, limit int) (*backend.MutationPage, error)
	SearchMutations(ctx context.Context, position, rng float64, offset, limit int) (*backend.MutationPage, error)
}

// State is the current mutation list and its pagination cursor.
type State struct {
	Mode       Mode               `json:"mode"`
	Window     coords.Window      `json:"window"`
	Position   float64            `json:"position,omitempty"`
	Range      float64            `json:"range,omitempty"`
	Mutations  []backend.Mutation `json:"mutations"`
	TotalCount int                `json:"total_count"`
	HasMore    bool               `json:"has_more"`
	Offset     int                `json:"offset"`
	Loading    bool               `json:"loading"`
	Error      string             `json:"error,omitempty"`
	RequestID  uint64             `json:"request_id"`
}

// Config contains manager configuration.
type Config struct {
	Source      Source
	Cache       *cache.Manager
	Project     string
	File        string
	Debounce    time.Duration
	SearchRange float64
	PageLimit   int

	OnState func(State)
	OnError func(error)
}

type query struct {
	mode     Mode
	window   coords.Window
	position float64
	rng      float64
}

// Manager owns the mutation list.
type Manager struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timer  *time.Timer
	reqID  uint64
	active query
	state  State
}

// NewManager creates a manager in viewport mode.
func NewManager(cfg Config) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SearchRange <= 0 {
		cfg.SearchRange = DefaultSearchRange
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		active: query{mode: ModeViewport},
		state:  State{Mode: ModeViewport, Mutations: []backend.Mutation{}},
	}
}

// Close stops any pending debounce and abandons outstanding fetches.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	m.cancel()
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyState()
}

func (m *Manager) copyState() State {
	s := m.state
	s.Mutations = append([]backend.Mutation(nil), m.state.Mutations...)
	return s
}

// SetWindow schedules a debounced viewport fetch. It is ignored in search
// mode.
func (m *Manager) SetWindow(w coords.Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active.mode == ModeSearch {
		return
	}
	m.active = query{mode: ModeViewport, window: w}
	m.state.Window = w
	// Results for the previous window are stale from here on.
	m.reqID++
	m.scheduleLocked()
}

func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	q := m.active
	m.timer = time.AfterFunc(m.cfg.Debounce, func() {
		m.mu.Lock()
		if m.active != q {
			m.mu.Unlock()
			return
		}
		id := m.beginLocked(q, false)
		m.mu.Unlock()
		go m.fetch(id, q, 0, false)
	})
}

// Search switches to search mode and fetches immediately around position.
// A non-positive rng uses the configured default.
func (m *Manager) Search(position, rng float64) {
	if rng <= 0 {
		rng = m.cfg.SearchRange
	}
	q := query{mode: ModeSearch, position: position, rng: rng}

	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.active = q
	id := m.beginLocked(q, false)
	m.mu.Unlock()

	go m.fetch(id, q, 0, false)
}

// ClearSearch returns to viewport mode and refetches the last window.
func (m *Manager) ClearSearch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active.mode != ModeSearch {
		return
	}
	m.active = query{mode: ModeViewport, window: m.state.Window}
	m.reqID++
	m.state = State{Mode: ModeViewport, Window: m.state.Window, Mutations: []backend.Mutation{}, RequestID: m.reqID}
	if m.state.Window.Width() > 0 {
		m.scheduleLocked()
	}
}

// LoadMore fetches the next page of the active query and appends it. It
// returns false when there is nothing more to load.
func (m *Manager) LoadMore() bool {
	m.mu.Lock()
	if !m.state.HasMore || m.state.Loading {
		m.mu.Unlock()
		return false
	}
	q := m.active
	offset := m.state.Offset
	id := m.beginLocked(q, true)
	m.mu.Unlock()

	go m.fetch(id, q, offset, true)
	return true
}

func (m *Manager) beginLocked(q query, appendPage bool) uint64 {
	m.reqID++
	if !appendPage {
		m.state = State{
			Mode:      q.mode,
			Window:    m.state.Window,
			Position:  q.position,
			Range:     q.rng,
			Mutations: []backend.Mutation{},
		}
	}
	m.state.Loading = true
	m.state.Error = ""
	m.state.RequestID = m.reqID
	return m.reqID
}

func (m *Manager) fetch(id uint64, q query, offset int, appendPage bool) {
	page, err := m.page(q, offset)

	m.mu.Lock()
	if id != m.reqID {
		m.mu.Unlock()
		return
	}
	m.state.Loading = false
	if err != nil {
		m.state.Error = err.Error()
		snap := m.copyState()
		m.mu.Unlock()

		if backend.IsRecoverable(err) {
			log.Printf("[Mutations] recoverable error for request %d: %v", id, err)
		} else if m.cfg.OnError != nil {
			m.cfg.OnError(err)
		}
		m.notify(snap)
		return
	}

	if appendPage {
		m.state.Mutations = append(m.state.Mutations, page.Mutations...)
	} else {
		m.state.Mutations = append([]backend.Mutation{}, page.Mutations...)
	}
	m.state.TotalCount = page.TotalCount
	m.state.HasMore = page.HasMore
	m.state.Offset = offset + len(page.Mutations)
	snap := m.copyState()
	m.mu.Unlock()

	m.notify(snap)
}

func (m *Manager) notify(s State) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}

// page runs one query through the query cache.
func (m *Manager) page(q query, offset int) (*backend.MutationPage, error) {
	limit := m.cfg.PageLimit
	var key string
	if q.mode == ModeSearch {
		key = cache.MutationSearchKey(m.cfg.Project, m.cfg.File, q.position, q.rng, offset, limit)
	} else {
		key = cache.MutationWindowKey(m.cfg.Project, m.cfg.File, q.window.Start, q.window.End, offset, limit)
	}

	if m.cfg.Cache != nil {
		if data, ok := m.cfg.Cache.GetQuery(key); ok {
			var page backend.MutationPage
			if err := json.Unmarshal(data, &page); err == nil {
				return &page, nil
			}
		}
	}

	var page *backend.MutationPage
	var err error
	if q.mode == ModeSearch {
		page, err = m.cfg.Source.SearchMutations(m.ctx, q.position, q.rng, offset, limit)
	} else {
		page, err = m.cfg.Source.QueryMutationsWindow(m.ctx, q.window.Start, q.window.End, offset, limit)
	}
	if err != nil {
		return nil, err
	}

	if m.cfg.Cache != nil {
		if data, err := json.Marshal(page); err == nil {
			m.cfg.Cache.SetQuery(key, data)
		}
	}
	return page, nil
}
