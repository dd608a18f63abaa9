package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 4096

// client is one live websocket connection. The read and write paths run in
// their own goroutines so a slow or dead peer never blocks anyone else; all
// outbound frames go through the buffered send channel.
type client struct {
	id       string
	userID   string
	deviceID string
	conn     *websocket.Conn
	b        *Broadcaster
	send     chan []byte

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// enqueue queues a frame for delivery. Returns false when the client's
// buffer is full, which the caller treats as a dead connection.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with protocol pings. Exits when the send channel closes (normal
// teardown) or a write fails (dead peer).
func (c *client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.b.RemoveClient(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.b.RemoveClient(c)
				return
			}
		}
	}
}

// readPump consumes inbound frames until the connection dies. Whatever kills
// the connection, teardown runs through RemoveClient exactly once.
func (c *client) readPump() {
	defer func() {
		c.b.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("ws: ignoring unparseable frame from session %s: %v", c.id, err)
			continue
		}
		if msg.Type == MsgPing {
			pong, _ := json.Marshal(Message{Type: MsgPong})
			c.enqueue(pong)
		}
	}
}
