package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultAckTimeout is how long a request waits for its acknowledgment.
const DefaultAckTimeout = 2 * time.Minute

// Config contains client configuration.
type Config struct {
	URL        string
	AckTimeout time.Duration
	Dialer     *websocket.Dialer
}

// Client is a request/acknowledgment RPC client over a single websocket.
type Client struct {
	cfg    Config
	events *Emitter
	nextID atomic.Uint64

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{cfg: cfg, events: NewEmitter()}
}

// Connect dials the backend and starts the read loop. It is a no-op when
// already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to backend %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	log.Printf("[Backend] connected to %s", c.cfg.URL)
	go c.readLoop(conn)
	c.events.Emit(EventConnect, nil)
	return nil
}

// Disconnect closes the connection. Outstanding requests are rejected with
// ErrDisconnected by the read loop.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// On subscribes to a pushed backend event.
func (c *Client) On(event string, fn Listener) uint64 { return c.events.On(event, fn) }

// Once subscribes to the next occurrence of a pushed backend event.
func (c *Client) Once(event string, fn Listener) uint64 { return c.events.Once(event, fn) }

// Off removes a subscription.
func (c *Client) Off(event string, id uint64) { c.events.Off(event, id) }

// ListenerCount reports the number of registered listeners (all events when
// event is empty).
func (c *Client) ListenerCount(event string) int { return c.events.ListenerCount(event) }

func ackEvent(id uint64) string { return "ack:" + strconv.FormatUint(id, 10) }

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		log.Printf("[Backend] disconnected from %s", c.cfg.URL)
		c.events.Emit(EventDisconnect, nil)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Backend] read error: %v", err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Backend] dropping malformed frame: %v", err)
			continue
		}

		switch {
		case msg.Event == EventLayoutResult:
			// Older backends answer layout queries with a result event
			// carrying the acknowledgment instead of a direct reply.
			var ack message
			if err := json.Unmarshal(msg.Data, &ack); err == nil && ack.ID != 0 {
				c.events.Emit(ackEvent(ack.ID), msg.Data)
				continue
			}
			c.events.Emit(msg.Event, msg.Data)
		case msg.Event != "":
			c.events.Emit(msg.Event, msg.Data)
		case msg.ID != 0:
			c.events.Emit(ackEvent(msg.ID), data)
		}
	}
}

type callResult struct {
	msg message
	err error
}

// call sends one request and waits for its acknowledgment, the client-side
// timeout, a disconnect, or ctx cancellation, whichever comes first. All
// listeners registered for the call are removed before it returns.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	id := c.nextID.Add(1)
	done := make(chan callResult, 2)

	ackName := ackEvent(id)
	ackID := c.events.Once(ackName, func(data json.RawMessage) {
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			done <- callResult{err: fmt.Errorf("backend %s: malformed acknowledgment: %w", method, err)}
			return
		}
		done <- callResult{msg: m}
	})
	discID := c.events.Once(EventDisconnect, func(json.RawMessage) {
		done <- callResult{err: ErrDisconnected}
	})
	defer c.events.Off(ackName, ackID)
	defer c.events.Off(EventDisconnect, discID)

	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("backend %s: failed to encode request: %w", method, err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("backend %s: %w: %v", method, ErrDisconnected, err)
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		if !r.msg.OK {
			return &ServerError{
				Method:      method,
				Code:        r.msg.Code,
				Message:     r.msg.Message,
				Recoverable: r.msg.Recoverable,
			}
		}
		if out == nil || len(r.msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.msg.Result, out); err != nil {
			return fmt.Errorf("backend %s: failed to decode result: %w", method, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v (%s)", ErrTimeout, c.cfg.AckTimeout, method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueryTreeLayout fetches the layout of the given trees.
func (c *Client) QueryTreeLayout(ctx context.Context, treeIndices []int, opts LayoutOptions) (*LayoutResult, error) {
	var wire layoutWire
	if err := c.call(ctx, MethodQueryTreeLayout, layoutParams{TreeIndices: treeIndices, Options: opts}, &wire); err != nil {
		return nil, err
	}
	buf, err := DecodeLayout(wire.Buffer)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", MethodQueryTreeLayout, err)
	}
	return &LayoutResult{
		Buffer:        buf,
		TreeIndices:   wire.TreeIndices,
		GlobalMinTime: wire.GlobalMinTime,
		GlobalMaxTime: wire.GlobalMaxTime,
	}, nil
}

// QueryMutationsWindow pages through mutations in [start, end].
func (c *Client) QueryMutationsWindow(ctx context.Context, start, end float64, offset, limit int) (*MutationPage, error) {
	var page MutationPage
	err := c.call(ctx, MethodQueryMutationsWindow, mutationWindowParams{Start: start, End: end, Offset: offset, Limit: limit}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchMutations pages through mutations within rng of position.
func (c *Client) SearchMutations(ctx context.Context, position, rng float64, offset, limit int) (*MutationPage, error) {
	var page MutationPage
	err := c.call(ctx, MethodSearchMutations, mutationSearchParams{Position: position, Range: rng, Offset: offset, Limit: limit}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// QueryFile loads a tree-sequence file on the backend and returns its config.
func (c *Client) QueryFile(ctx context.Context, ref FileRef) (*FileInfo, error) {
	var info FileInfo
	if err := c.call(ctx, MethodQueryFile, ref, &info); err != nil {
		return nil, err
	}
	if !info.OK {
		return nil, &ServerError{Method: MethodQueryFile, Code: CodeInvalidFile, Message: "backend rejected file " + ref.File}
	}
	return &info, nil
}

// IsTransportError reports whether err came from the transport rather than
// the backend itself.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrDisconnected) || errors.Is(err, ErrNotConnected)
}
