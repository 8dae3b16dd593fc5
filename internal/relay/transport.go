package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// probeDeadline bounds how long a liveness probe waits for the
// underlying write to complete.
const probeDeadline = 2 * time.Second

// wsConn wraps one gorilla/websocket connection with a single writer
// goroutine: one writer, everything else can run in parallel, the same
// concurrency shape the controller uses for its single PTY writer,
// applied here to the relay side of the same duplex link.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	outbox chan any
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func newWSConn(id string, conn *websocket.Conn, log zerolog.Logger) *wsConn {
	c := &wsConn{id: id, conn: conn, outbox: make(chan any, 64), done: make(chan struct{}), log: log}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			b, err := json.Marshal(frame)
			if err != nil {
				c.log.Error().Err(err).Msg("marshal outbound frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug().Err(err).Str("conn", c.id).Msg("write failed, closing")
				c.closeOnce()
				return
			}
		}
	}
}

func (c *wsConn) closeOnce() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WSTransport implements Transport over a registry of live
// gorilla/websocket connections.
type WSTransport struct {
	mu    sync.RWMutex
	conns map[string]*wsConn
	log   zerolog.Logger
}

func NewWSTransport(log zerolog.Logger) *WSTransport {
	return &WSTransport{conns: make(map[string]*wsConn), log: log}
}

func (t *WSTransport) Register(id string, conn *websocket.Conn) *wsConn {
	c := newWSConn(id, conn, t.log)
	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()
	return c
}

func (t *WSTransport) Unregister(id string) {
	t.mu.Lock()
	c, ok := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()
	if ok {
		c.closeOnce()
	}
}

func (t *WSTransport) get(id string) (*wsConn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

func (t *WSTransport) Send(connectionID string, frame any) error {
	c, ok := t.get(connectionID)
	if !ok {
		return nil // connection already gone; caller treats this as best-effort
	}
	select {
	case c.outbox <- frame:
		return nil
	default:
		t.log.Warn().Str("conn", connectionID).Msg("outbox full, dropping frame")
		return nil
	}
}

// Probe sends a websocket ping so a synchronous write failure is
// observable as "gone" within this single call. WriteControl is safe
// to call concurrently with writeLoop's WriteMessage calls — gorilla
// only forbids concurrent calls among the message-write methods
// themselves — so this does not need to go through the outbox.
func (t *WSTransport) Probe(connectionID string) bool {
	c, ok := t.get(connectionID)
	if !ok {
		return false
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(probeDeadline)); err != nil {
		return false
	}
	return true
}

func (t *WSTransport) Close(connectionID string) {
	t.Unregister(connectionID)
}
