// Package api provides HTTP handlers for the argview server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/layers"
	"github.com/argview/server/internal/panzoom"
	"github.com/argview/server/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *session.Registry
	CORSOrigins []string
	// Layers renders /layers; nil means layers.Default().
	Layers []layers.Layer
	// FrameWait bounds how long ?wait=1 blocks on a fetch.
	FrameWait time.Duration
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Layers == nil {
		cfg.Layers = layers.Default()
	}
	if cfg.FrameWait <= 0 {
		cfg.FrameWait = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/sessions", sessionsHandler(cfg.Registry))
	r.Post("/api/sessions", openSessionHandler(cfg.Registry))

	// Session-scoped routes: /d/{session}/...
	r.Route("/d/{session}", func(r chi.Router) {
		r.Use(sessionMiddleware(cfg.Registry))

		r.Get("/", sessionInfoHandler)
		r.Delete("/", closeSessionHandler(cfg.Registry))

		r.Get("/view", viewHandler)
		r.Put("/view", setViewHandler)
		r.Post("/input", inputHandler)
		r.Post("/pan", panHandler)
		r.Post("/zoom", zoomHandler)
		r.Post("/lock", lockHandler)
		r.Get("/snapshot", snapshotHandler)

		r.Get("/frame", frameHandler(cfg.FrameWait))
		r.Delete("/frame", clearFrameHandler)
		r.Get("/layers", layersHandler(cfg.Layers))
		r.Get("/preview.png", previewHandler)
		r.Get("/newick", newickHandler)
		r.Get("/events", eventsHandler)

		r.Route("/mutations", func(r chi.Router) {
			r.Get("/", mutationsHandler)
			r.Post("/search", mutationSearchHandler)
			r.Delete("/search", mutationClearSearchHandler)
			r.Post("/more", mutationMoreHandler)
		})
	})

	return r
}

// Context key for the session
type ctxKey string

const sessionKey ctxKey = "session"

// sessionMiddleware resolves the session from the URL and injects it into context.
func sessionMiddleware(registry *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "session")
			s := registry.Get(id)
			if s == nil {
				http.Error(w, "session not found: "+id, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getSession(r *http.Request) *session.Session {
	if s, ok := r.Context().Value(sessionKey).(*session.Session); ok {
		return s
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a backend error to an HTTP status.
func statusFor(err error) int {
	var se *backend.ServerError
	switch {
	case errors.As(err, &se) && se.Code == backend.CodeFileNotFound:
		return http.StatusNotFound
	case errors.As(err, &se) && se.Code == backend.CodeInvalidFile:
		return http.StatusUnprocessableEntity
	case backend.IsTransportError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// sessionsHandler returns the list of open sessions.
func sessionsHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":    registry.Title(),
			"sessions": registry.Sessions(),
		})
	}
}

type openSessionRequest struct {
	Project string  `json:"project"`
	File    string  `json:"file"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func openSessionHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		req.File = strings.TrimSpace(req.File)
		if req.File == "" {
			http.Error(w, "file is required", http.StatusBadRequest)
			return
		}

		s, err := registry.Open(r.Context(), backend.FileRef{Project: req.Project, File: req.File}, req.Width, req.Height)
		if err != nil {
			http.Error(w, "failed to open session: "+err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":   s.ID(),
			"info": s.Info(),
			"view": s.View(),
		})
	}
}

func sessionInfoHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         s.ID(),
		"info":       s.Info(),
		"stats":      s.Stats(),
		"last_error": s.LastError(),
	})
}

func closeSessionHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry.Remove(chi.URLParam(r, "session"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func viewHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getSession(r).View())
}

type setViewRequest struct {
	ViewState panzoom.ViewState `json:"view_state"`
	Width     float64           `json:"width"`
	Height    float64           `json:"height"`
}

func setViewHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	var req setViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Width != 0 || req.Height != 0 {
		if err := s.SetViewport(req.Width, req.Height); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if len(req.ViewState) > 0 {
		vs := s.Controller().State()
		for id, ax := range req.ViewState {
			vs[id] = ax
		}
		s.SetViewState(vs)
	}
	writeJSON(w, http.StatusOK, s.View())
}

func inputHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	var ev panzoom.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch ev.Kind {
	case panzoom.EventWheel, panzoom.EventPinchMove, panzoom.EventPanMove, panzoom.EventDrag:
	default:
		http.Error(w, "unknown event kind: "+string(ev.Kind), http.StatusBadRequest)
		return
	}
	consumed := s.Input(ev)
	axis, dir := s.Controller().Axis()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consumed":  consumed,
		"zoom_axis": axis,
		"pan_dir":   dir,
		"view":      s.View(),
	})
}

func panHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	var req struct {
		Direction panzoom.PanDirection `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Direction != panzoom.PanLeft && req.Direction != panzoom.PanRight {
		http.Error(w, "direction must be L or R", http.StatusBadRequest)
		return
	}
	changed := s.Controller().Pan(req.Direction)
	writeJSON(w, http.StatusOK, map[string]interface{}{"changed": changed, "view": s.View()})
}

func zoomHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	var req struct {
		Axis  panzoom.ZoomAxis `json:"axis"`
		Delta float64          `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Axis {
	case panzoom.ZoomX, panzoom.ZoomY, panzoom.ZoomAll:
	default:
		http.Error(w, "axis must be X, Y or all", http.StatusBadRequest)
		return
	}
	changed := s.Controller().Zoom(req.Axis, req.Delta)
	writeJSON(w, http.StatusOK, map[string]interface{}{"changed": changed, "view": s.View()})
}

func lockHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	var req struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.SetLocked(req.Locked)
	writeJSON(w, http.StatusOK, s.View())
}

func snapshotHandler(w http.ResponseWriter, r *http.Request) {
	v := getSession(r).View()
	if v == nil {
		http.Error(w, "no view", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot)
}

// frameHandler returns the current frame. With ?wait=1 it first waits for a
// frame covering the current view.
func frameHandler(maxWait time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := getSession(r)
		if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
			ctx, cancel := context.WithTimeout(r.Context(), maxWait)
			defer cancel()
			if _, err := s.Refresh(ctx); err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
		}
		f := s.Frame()
		if f == nil {
			http.Error(w, session.ErrNoFrame.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

func clearFrameHandler(w http.ResponseWriter, r *http.Request) {
	getSession(r).ClearFrame()
	w.WriteHeader(http.StatusNoContent)
}

func layersHandler(ls []layers.Layer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"layers": getSession(r).Layers(ls),
		})
	}
}

func previewHandler(w http.ResponseWriter, r *http.Request) {
	png, err := getSession(r).Preview()
	if errors.Is(err, session.ErrNoFrame) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func newickHandler(w http.ResponseWriter, r *http.Request) {
	text, version := getSession(r).Newick().Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"newick":  text,
		"version": version,
	})
}

func mutationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getSession(r).Mutations().State())
}

func mutationSearchHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	var req struct {
		Position *float64 `json:"position"`
		Range    float64  `json:"range"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Position == nil {
		http.Error(w, "position is required", http.StatusBadRequest)
		return
	}
	s.Mutations().Search(*req.Position, req.Range)
	writeJSON(w, http.StatusAccepted, s.Mutations().State())
}

func mutationClearSearchHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	s.Mutations().ClearSearch()
	writeJSON(w, http.StatusAccepted, s.Mutations().State())
}

func mutationMoreHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	if !s.Mutations().LoadMore() {
		writeJSON(w, http.StatusOK, s.Mutations().State())
		return
	}
	writeJSON(w, http.StatusAccepted, s.Mutations().State())
}
