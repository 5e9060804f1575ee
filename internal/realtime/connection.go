// ABOUTME: WebSocket connection with a buffered outbound queue, write deadlines and keepalive pings
// ABOUTME: One Connection per live socket; Send never blocks and Close is idempotent

package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Close codes sent to clients
const (
	CloseSessionReplaced = 4001
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseGoingAway       = websocket.CloseGoingAway
	CloseNormal          = websocket.CloseNormalClosure
)

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Options tunes a Connection. Zero fields take defaults.
type Options struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 128
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	return o
}

// Connection wraps a websocket and serializes outbound writes through a
// single writer goroutine. Safe for concurrent use.
type Connection struct {
	id   string
	ws   *websocket.Conn
	opts Options

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

// NewConnection wraps ws. Call Start to begin writing.
func NewConnection(ws *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:     uuid.NewString(),
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		closed: make(chan struct{}),
	}
}

// ID uniquely identifies this connection
func (c *Connection) ID() string { return c.id }

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Start launches the write loop. Extra calls are no-ops.
func (c *Connection) Start() {
	c.startOnce.Do(func() { go c.writeLoop() })
}

// Send enqueues payload for delivery. A client too slow to drain its buffer
// is disconnected rather than allowed to stall the sender.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close sends a close frame with code and reason and tears down the socket
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// ReadLoop reads text frames and hands each to handle, in order, until the
// peer disconnects, a pong is missed or the connection is closed. It returns
// nil for a normal close.
func (c *Connection) ReadLoop(handle func(frame []byte)) error {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(msgType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(msgType, payload)
}
