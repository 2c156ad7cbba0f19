package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 4096
)

type outbound struct {
	data   []byte
	queued time.Time
}

// Client represents a single WebSocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan outbound
	hub  *Hub
	seq  atomic.Int64

	// ctx is cancelled when the connection goes away, aborting an
	// in-flight initial compute.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(h *Hub, id string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan outbound, h.sendBuffer),
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// enqueue wraps data in an envelope and queues it without blocking. The
// caller must hold the hub read lock. seq advances even when the message is
// dropped so the client can detect the gap.
func (c *Client) enqueue(channel string, data []byte, now time.Time) bool {
	seq := c.seq.Add(1)
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = appendEnvelope(buf, channel, data, now, seq)
	select {
	case c.send <- outbound{data: buf, queued: now}:
		return true
	default:
		return false
	}
}

// reply queues a control message (ACK, ERROR, pong) outside the envelope
// sequence.
func (c *Client) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c.id] != c {
		return
	}
	select {
	case c.send <- outbound{data: b, queued: time.Now()}:
	default:
		c.hub.dropped(c.id, "control")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Write coalescing: batch queued messages into a single frame
			// with newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg.data)
			c.hub.Latency.Record(time.Since(msg.queued))

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next.data)
				c.hub.Latency.Record(time.Since(next.queued))
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles requests one at a time, so a client's SUBSCRIBE and a
// following UNSUBSCRIBE are applied in order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws read error", "conn", c.id, "err", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}
