// Package gateway is the WebSocket transport: it accepts connections,
// forwards subscription requests to a Handler and delivers payloads to
// individual connections in {"channel","data","ts","seq"} envelopes.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trading-indstream/internal/model"
)

var (
	// ErrUnknownClient is returned by Send for ids that are not connected.
	ErrUnknownClient = errors.New("gateway: unknown client")

	// ErrSlowClient is returned by Send when the client's queue is full.
	ErrSlowClient = errors.New("gateway: client send queue full")
)

// Handler receives connection lifecycle events and subscription requests.
// subscription.Registry implements it.
type Handler interface {
	OnConnect(connID string) error
	OnDisconnect(connID string)
	// Subscribe calls accepted once the subscription is registered and
	// before any value for it is sent.
	Subscribe(ctx context.Context, connID, symbol string, spec model.IndicatorSpec, accepted func()) error
	Unsubscribe(connID, symbol string, spec model.IndicatorSpec) error
	SubscribePrice(connID, symbol string) error
	UnsubscribePrice(connID, symbol string) error
}

// HubConfig configures a Hub.
type HubConfig struct {
	Logger     *slog.Logger
	SendBuffer int // per-client queue length; default 256
	// Resolve, when set, canonicalizes specs for ACK keys.
	Resolve func(model.IndicatorSpec) (model.IndicatorSpec, error)
}

// Hub manages WebSocket clients. It implements model.Transport.
type Hub struct {
	log        *slog.Logger
	sendBuffer int
	resolve    func(model.IndicatorSpec) (model.IndicatorSpec, error)
	handler    Handler

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	// Queue-to-write latency of delivered messages.
	Latency *LatencyTracker

	// Optional hooks, set before serving.
	OnDropped func(connID, channel string)
}

var _ model.Transport = (*Hub)(nil)

// NewHub creates an empty hub. Bind a Handler before serving connections.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		log:        cfg.Logger.With("component", "gateway"),
		sendBuffer: cfg.SendBuffer,
		resolve:    cfg.Resolve,
		clients:    make(map[string]*Client),
		Latency:    NewLatencyTracker(10000),
	}
}

// Bind sets the handler for lifecycle and subscription events. The hub and
// the handler reference each other, so binding happens after both exist.
func (h *Hub) Bind(handler Handler) { h.handler = handler }

// Send delivers payload to one connection.
func (h *Hub) Send(connID, channel string, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return ErrUnknownClient
	}
	if !c.enqueue(channel, data, time.Now().UTC()) {
		h.dropped(connID, channel)
		return ErrSlowClient
	}
	return nil
}

func (h *Hub) dropped(connID, channel string) {
	h.log.Debug("client queue full, message dropped", "conn", connID, "channel", channel)
	if h.OnDropped != nil {
		h.OnDropped(connID, channel)
	}
}

// register adds c and announces it to the handler. A handler error rejects
// the connection.
func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("gateway: hub closed")
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	if h.handler != nil {
		if err := h.handler.OnConnect(c.id); err != nil {
			h.remove(c)
			return err
		}
	}
	h.log.Info("ws client connected", "conn", c.id, "total", count)
	return nil
}

// unregister removes c everywhere. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	if !h.remove(c) {
		return
	}
	if h.handler != nil {
		h.handler.OnDisconnect(c.id)
	}
	h.log.Info("ws client disconnected", "conn", c.id, "total", h.ClientCount())
}

func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.id)
	h.mu.Unlock()
	// senders hold the read lock, so nobody can be writing to c.send now
	close(c.send)
	return true
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
