// Package backendtest provides an in-process websocket backend for tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Request is a decoded client request.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Reply is what a Handler returns for a request. A nil *Reply means no
// acknowledgment is sent.
type Reply struct {
	OK          bool
	Code        string
	Message     string
	Recoverable bool
	Result      any
	// AsLayoutEvent sends the acknowledgment wrapped in a layout-result event.
	AsLayoutEvent bool
}

// Handler answers a request.
type Handler func(req Request) *Reply

// Server is a fake backend.
type Server struct {
	*httptest.Server

	handler  Handler
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	reqs  []Request
}

// NewServer starts a fake backend answering with h.
func NewServer(h Handler) *Server {
	s := &Server{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.reqs...)
}

// Push sends an event to every connected client.
func (s *Server) Push(event string, data any) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(raw)})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.WriteMessage(websocket.TextMessage, frame)
	}
}

// DropAll closes every client connection abruptly.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()

		reply := s.handler(req)
		if reply == nil {
			continue
		}
		ack := map[string]any{
			"id":          req.ID,
			"ok":          reply.OK,
			"code":        reply.Code,
			"message":     reply.Message,
			"recoverable": reply.Recoverable,
		}
		if reply.Result != nil {
			ack["result"] = reply.Result
		}
		var frame []byte
		if reply.AsLayoutEvent {
			frame, _ = json.Marshal(map[string]any{"event": "layout-result", "data": ack})
		} else {
			frame, _ = json.Marshal(ack)
		}
		s.mu.Lock()
		conn.WriteMessage(websocket.TextMessage, frame)
		s.mu.Unlock()
	}
}
