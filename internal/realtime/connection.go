package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eduforum/forum/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	sendBufferSize = 128
)

var errConnClosed = errors.New("connection closed")

// Connection wraps one websocket. All outbound writes go through a
// buffered channel drained by a single write loop, so callers on any
// goroutine can Send without racing on the socket.
type Connection struct {
	ID   string
	User models.User

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func NewConnection(user models.User, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:    uuid.NewString(),
		User:  user,
		ws:    ws,
		send:  make(chan []byte, sendBufferSize),
		close: make(chan struct{}),
	}
}

// Start arms the read deadline and pong handler, then launches the
// write loop. It must run on the goroutine that will read the socket,
// before the first ReadFrame: the deadline and handler are read-side
// state under gorilla's one-reader contract, so touching them from the
// write loop would race with ReadMessage. Call exactly once per
// connection.
func (c *Connection) Start() {
	c.setupRead()
	go c.writeLoop()
}

// Send enqueues a payload for delivery, preserving enqueue order. A
// client too slow to drain its buffer is disconnected rather than
// allowed to block the broadcast path.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close terminates the connection and stops the write loop. Safe to call
// more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// ReadFrame blocks for the next client frame. The read deadline is
// refreshed by pongs, so a silent peer times out within pongWait.
func (c *Connection) ReadFrame() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	return payload, err
}

func (c *Connection) setupRead() {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
