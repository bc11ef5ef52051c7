package relay

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/models"
)

// Conn is the websocket-backed Peer. Outbound envelopes go through a bounded
// queue drained by a single writer goroutine; a full queue means the envelope
// is dropped, never queued elsewhere.
type Conn struct {
	id          string
	ws          *websocket.Conn
	send        chan models.Envelope
	closed      chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	writeWait   time.Duration
}

func NewConn(ws *websocket.Conn, queueSize int, writeWait time.Duration) *Conn {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Conn{
		id:          uuid.NewString(),
		ws:          ws,
		send:        make(chan models.Envelope, queueSize),
		closed:      make(chan struct{}),
		connectedAt: time.Now(),
		writeWait:   writeWait,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// TrySend enqueues without blocking. Returns false when the queue is full or
// the connection is closed.
func (c *Conn) TrySend(env models.Envelope) bool {
	select {
	case <-c.closed:
		return false
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// WritePump drains the send queue onto the wire. It owns all writes; it exits
// when the connection closes.
func (c *Conn) WritePump() {
	log := logrus.WithField("prefix", "Conn.WritePump")

	for {
		select {
		case <-c.closed:
			return
		case env := <-c.send:
			data, err := sonic.Marshal(env)
			if err != nil {
				log.Errorf("failed to marshal envelope: %v", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debugf("write to %v failed: %v", c.id, err)
				c.Close()
				return
			}
		}
	}
}

// ReadPump decodes inbound envelopes and hands them to the hub. It blocks
// until the connection drops and returns the close reason.
func (c *Conn) ReadPump(hub *Hub) string {
	log := logrus.WithField("prefix", "Conn.ReadPump")

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "client disconnect"
			}
			return "transport error"
		}
		var env models.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			log.Warnf("malformed envelope from %v: %v", c.id, err)
			continue
		}
		hub.HandleEnvelope(c, env)
	}
}
