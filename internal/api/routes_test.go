package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/backend/backendtest"
	"github.com/argview/server/internal/cache"
	"github.com/argview/server/internal/config"
	"github.com/argview/server/internal/mutations"
	"github.com/argview/server/internal/render"
	"github.com/argview/server/internal/session"
	"github.com/gorilla/websocket"
)

// testServer holds the test server and its dependencies
type testServer struct {
	server   *httptest.Server
	backend  *backendtest.Server
	client   *backend.Client
	cache    *cache.Manager
	pool     *render.Pool
	registry *session.Registry
}

// setupTestServer wires a fake tree-sequence backend through the full stack
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	bp := make([]float64, 11)
	for i := range bp {
		bp[i] = float64(i * 1000)
	}
	ts := &backendtest.TreeSequence{
		Files:       []string{"ten.trees"},
		Breakpoints: bp,
		MaxTime:     100,
		Mutations: []backend.Mutation{
			{ID: 1, Position: 150, TreeIndex: 0},
			{ID: 2, Position: 4500, TreeIndex: 4},
			{ID: 3, Position: 4600, TreeIndex: 4},
		},
	}
	fake := backendtest.NewServer(ts.Handler())

	client := backend.NewClient(backend.Config{URL: fake.URL(), AckTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		fake.Close()
		t.Fatalf("Failed to connect to backend: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		LayoutCacheSizeMB: 16,
		LayoutTTL:         time.Minute,
		QueryCacheSize:    100,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}

	pool := render.NewPool(render.PoolConfig{Workers: 2, QueueSize: 8})
	cfg := config.DefaultConfig()
	cfg.Mutations.DebounceMS = 10

	registry := session.NewRegistry(session.Options{
		Ref:       backend.FileRef{Project: "demo"},
		Backend:   client,
		Cache:     cacheManager,
		Pool:      pool,
		Preview:   render.NewPreviewRenderer(render.PreviewConfig{Size: 64}),
		View:      cfg.View,
		Mutations: cfg.Mutations,
		Width:     1000,
		Height:    500,
	}, "test viewer")

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		FrameWait:   5 * time.Second,
	})

	return &testServer{
		server:   httptest.NewServer(router),
		backend:  fake,
		client:   client,
		cache:    cacheManager,
		pool:     pool,
		registry: registry,
	}
}

// close cleans up test server resources
func (ts *testServer) close() {
	ts.server.Close()
	ts.registry.CloseAll()
	ts.pool.Stop()
	ts.client.Disconnect()
	ts.backend.Close()
	ts.cache.Close()
}

// --- Helper Functions ---

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("Failed to encode body: %v", err)
			}
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, ts.server.URL+path, r)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, data
}

func (ts *testServer) openSession(t *testing.T) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{"file": "ten.trees"})
	assertStatusCode(t, resp, http.StatusCreated)
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		t.Fatalf("Failed to parse session id from %s: %v", body, err)
	}
	return out.ID
}

// assertStatusCode verifies the HTTP status code
func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// assertPNG verifies the response body is a valid PNG image
func assertPNG(t *testing.T, body []byte) {
	t.Helper()
	pngMagic := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if len(body) < 8 || !bytes.Equal(body[:8], pngMagic) {
		t.Errorf("Response is not a PNG (%d bytes)", len(body))
	}
}

// assertJSONFields verifies the response contains expected JSON fields
func assertJSONFields(t *testing.T, body []byte, expectedFields []string) {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Errorf("Failed to parse JSON response: %v", err)
		return
	}
	for _, field := range expectedFields {
		if _, ok := result[field]; !ok {
			t.Errorf("Expected JSON field %q not found in response", field)
		}
	}
}

// --- Test Cases ---

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %q", string(body))
	}
}

func TestOpenSessionErrors(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"missing file", map[string]string{"project": "demo"}, http.StatusBadRequest},
		{"unknown file", map[string]string{"file": "nope.trees"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodPost, "/api/sessions", tt.body)
			assertStatusCode(t, resp, tt.expectedStatus)
		})
	}

	resp, _ := ts.do(t, http.MethodGet, "/d/missing/view", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	id := ts.openSession(t)

	resp, body := ts.do(t, http.MethodGet, "/api/sessions", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var list struct {
		Title    string         `json:"title"`
		Sessions []session.Info `json:"sessions"`
	}
	json.Unmarshal(body, &list)
	if list.Title != "test viewer" || len(list.Sessions) != 1 || list.Sessions[0].ID != id {
		t.Fatalf("unexpected sessions list %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/d/"+id+"/view", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertJSONFields(t, body, []string{"view_state", "window", "grid", "bins", "lock_snapshot", "locked"})

	resp, body = ts.do(t, http.MethodGet, "/d/"+id+"/frame?wait=1", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertJSONFields(t, body, []string{"seq", "signature", "display_array", "buffers"})

	resp, body = ts.do(t, http.MethodGet, "/d/"+id+"/preview.png", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	assertPNG(t, body)

	resp, body = ts.do(t, http.MethodGet, "/d/"+id+"/layers", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var ls struct {
		Layers []struct {
			ID string `json:"id"`
		} `json:"layers"`
	}
	json.Unmarshal(body, &ls)
	if len(ls.Layers) == 0 {
		t.Errorf("expected layer descriptors, got %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/d/"+id+"/", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertJSONFields(t, body, []string{"id", "info", "stats", "last_error"})

	resp, _ = ts.do(t, http.MethodDelete, "/d/"+id+"/frame", nil)
	assertStatusCode(t, resp, http.StatusNoContent)
	resp, _ = ts.do(t, http.MethodGet, "/d/"+id+"/preview.png", nil)
	assertStatusCode(t, resp, http.StatusNotFound)

	resp, _ = ts.do(t, http.MethodDelete, "/d/"+id+"/", nil)
	assertStatusCode(t, resp, http.StatusNoContent)
	resp, _ = ts.do(t, http.MethodGet, "/d/"+id+"/view", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestViewControls(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()
	id := ts.openSession(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{"unknown input kind", http.MethodPost, "/input", map[string]interface{}{"kind": "tap"}, http.StatusBadRequest},
		{"drag", http.MethodPost, "/input", map[string]interface{}{"kind": "drag", "deltaX": -20}, http.StatusOK},
		{"ctrl wheel", http.MethodPost, "/input", map[string]interface{}{"kind": "wheel", "deltaX": -50, "ctrlKey": true}, http.StatusOK},
		{"bad pan direction", http.MethodPost, "/pan", map[string]string{"direction": "up"}, http.StatusBadRequest},
		{"pan right", http.MethodPost, "/pan", map[string]string{"direction": "R"}, http.StatusOK},
		{"bad zoom axis", http.MethodPost, "/zoom", map[string]interface{}{"axis": "Z", "delta": 1}, http.StatusBadRequest},
		{"zoom x", http.MethodPost, "/zoom", map[string]interface{}{"axis": "X", "delta": 1}, http.StatusOK},
		{"invalid viewport", http.MethodPut, "/view", map[string]interface{}{"width": -1, "height": 10}, http.StatusBadRequest},
		{"resize", http.MethodPut, "/view", map[string]interface{}{"width": 800, "height": 400}, http.StatusOK},
		{"lock", http.MethodPost, "/lock", map[string]bool{"locked": true}, http.StatusOK},
		{"snapshot", http.MethodGet, "/snapshot", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, tt.method, "/d/"+id+tt.path, tt.body)
			assertStatusCode(t, resp, tt.expectedStatus)
		})
	}

	resp, body := ts.do(t, http.MethodGet, "/d/"+id+"/view", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var v struct {
		Locked   bool `json:"locked"`
		Viewport struct {
			Width float64 `json:"width"`
		} `json:"viewport"`
	}
	json.Unmarshal(body, &v)
	if !v.Locked || v.Viewport.Width != 800 {
		t.Fatalf("expected locked 800px view, got %s", body)
	}
}

func TestMutationEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()
	id := ts.openSession(t)

	resp, _ := ts.do(t, http.MethodPost, "/d/"+id+"/mutations/search", map[string]float64{"range": 10})
	assertStatusCode(t, resp, http.StatusBadRequest)

	resp, _ = ts.do(t, http.MethodPost, "/d/"+id+"/mutations/search", map[string]float64{"position": 4550, "range": 100})
	assertStatusCode(t, resp, http.StatusAccepted)

	var st mutations.State
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, body := ts.do(t, http.MethodGet, "/d/"+id+"/mutations", nil)
		json.Unmarshal(body, &st)
		if !st.Loading && st.Mode == mutations.ModeSearch {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.TotalCount != 2 || len(st.Mutations) != 2 || st.HasMore {
		t.Fatalf("unexpected search result %+v", st)
	}

	resp, _ = ts.do(t, http.MethodPost, "/d/"+id+"/mutations/more", nil)
	assertStatusCode(t, resp, http.StatusOK)

	resp, body := ts.do(t, http.MethodDelete, "/d/"+id+"/mutations/search", nil)
	assertStatusCode(t, resp, http.StatusAccepted)
	json.Unmarshal(body, &st)
	if st.Mode != mutations.ModeViewport {
		t.Fatalf("expected viewport mode after clearing search, got %q", st.Mode)
	}
}

func TestEventsStream(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()
	id := ts.openSession(t)

	resp, _ := ts.do(t, http.MethodGet, "/d/"+id+"/frame?wait=1", nil)
	assertStatusCode(t, resp, http.StatusOK)

	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/d/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial events: %v", err)
	}
	defer conn.Close()

	read := func() pushMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		return pushMessage{Event: msg.Event, Data: msg.Data}
	}

	if msg := read(); msg.Event != "frame" {
		t.Fatalf("expected current frame first, got %q", msg.Event)
	}

	ts.backend.Push(backend.EventNewick, "((a,b),c);")
	for {
		msg := read()
		if msg.Event != "newick" {
			continue
		}
		var text string
		json.Unmarshal(msg.Data.(json.RawMessage), &text)
		if text != "((a,b),c);" {
			t.Fatalf("unexpected newick %q", text)
		}
		break
	}
}
