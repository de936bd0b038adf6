package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// client is one websocket connection attached to a conversation group.
type client struct {
	conn           *websocket.Conn
	conversationID string
	server         *Server

	out      chan []byte
	closeOne sync.Once
	done     chan struct{}
}

func newClient(conn *websocket.Conn, conversationID string, s *Server) *client {
	return &client{
		conn:           conn,
		conversationID: conversationID,
		server:         s,
		out:            make(chan []byte, 64),
		done:           make(chan struct{}),
	}
}

// send queues a frame for delivery. A slow client gets dropped rather than
// blocking the push path.
func (c *client) send(data []byte) {
	select {
	case c.out <- data:
	case <-c.done:
	default:
		slog.Warn("gateway.client_slow", "conversation_id", c.conversationID)
		c.close()
	}
}

func (c *client) close() {
	c.closeOne.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// run pumps frames both ways until the connection drops.
func (c *client) run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump accepts inbound chat messages: {"text": "..."} feeds the
// conversation the client is attached to.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.close()
			return
		}

		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &in); err != nil || in.Text == "" {
			continue
		}
		c.server.mgr.HandleMessage(ctx, c.conversationID, in.Text)
	}
}
