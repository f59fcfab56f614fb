package ws

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 64 * 1024
)

// Conn is the subset of a websocket connection the hub needs. Satisfied by
// *websocket.Conn from gofiber/websocket.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Frame type constants matching RFC 6455 / gorilla numbering, so this package
// does not import the websocket library for tests.
const (
	textMessage  = 1
	closeMessage = 8
	pingMessage  = 9
)

// Client is one open push-channel connection for one authenticated user. A
// user may hold any number of clients at once (tabs, devices).
type Client struct {
	ID     string
	UserID string

	conn    Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	closed  int32
}

func NewClient(conn Conn, userID string, sendBuffer, ratePerSec int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// TrySend queues payload without blocking. A full buffer means the consumer
// is too slow to matter; the caller evicts it.
func (c *Client) TrySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close is idempotent and safe from any goroutine.
func (c *Client) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.done)
		_ = c.conn.Close()
	}
}

// ReadPump blocks on the connection until it drops. Inbound traffic is not
// authoritative for anything; frames only refresh presence and are rate
// limited so a hostile client cannot spin the loop for free.
func (c *Client) ReadPump(onFrame func(), onClose func()) {
	defer func() {
		onClose()
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onFrame != nil {
			onFrame()
		}
	}
}

// WritePump drains the send channel onto the wire and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(closeMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(textMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(pingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
