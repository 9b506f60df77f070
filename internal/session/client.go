package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 1 * time.Second
	sendBufferSize = 64
)

// Client is one upgraded WebSocket connection. All writes go through the
// send channel and a single write pump, since the underlying connection
// supports only one concurrent writer.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, log *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		log:  log.With("connection_id", id),
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// ID is the connection identity used in room membership, pub/sub channel
// names, and every peer-facing payload.
func (c *Client) ID() string { return c.id }

// Send queues a payload for delivery. When the buffer is full the payload is
// dropped rather than blocking the caller on a slow consumer.
func (c *Client) Send(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.log.Warn("send buffer full, dropping payload")
	}
}

func (c *Client) writePump() {
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close sends a close frame and tears the socket down. Safe to call more
// than once; later calls are no-ops.
func (c *Client) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}
