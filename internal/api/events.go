package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/argview/server/internal/coordinator"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// frameEvent is the push summary of an applied frame; clients fetch the
// buffers from /frame.
type frameEvent struct {
	Seq         uint64 `json:"seq"`
	Signature   string `json:"signature"`
	TreeIndices []int  `json:"tree_indices"`
	Edges       int    `json:"edges"`
	Tips        int    `json:"tips"`
	Mutations   int    `json:"mutations"`
}

type pushMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// eventsHandler streams frame and newick updates over a websocket until the
// client goes away.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Events %s] Failed to upgrade connection: %v", s.ID(), err)
		return
	}
	defer conn.Close()

	frames, cancelFrames := s.Frames().Subscribe()
	defer cancelFrames()
	newick, cancelNewick := s.Newick().Subscribe()
	defer cancelNewick()

	// The reader only exists to notice the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg pushMessage) bool {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[Events %s] Failed to encode %s: %v", s.ID(), msg.Event, err)
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[Events %s] Failed to write %s: %v", s.ID(), msg.Event, err)
			return false
		}
		return true
	}

	if f := s.Frame(); f != nil {
		if !send(pushMessage{Event: "frame", Data: summarize(f)}) {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if f == nil {
				continue
			}
			if !send(pushMessage{Event: "frame", Data: summarize(f)}) {
				return
			}
		case text, ok := <-newick:
			if !ok {
				newick = nil
				continue
			}
			if !send(pushMessage{Event: "newick", Data: text}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func summarize(f *coordinator.Frame) frameEvent {
	ev := frameEvent{Seq: f.Seq, Signature: f.Signature, TreeIndices: f.TreeIndices}
	if f.Buffers != nil {
		ev.Edges = f.Buffers.EdgeCount()
		ev.Tips = f.Buffers.TipCount()
		ev.Mutations = f.Buffers.MutationCount()
	}
	return ev
}
