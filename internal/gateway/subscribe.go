package gateway

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"trading-indstream/internal/model"
)

var errNoHandler = errors.New("gateway: no subscription handler bound")

// handleMessage parses one client request and applies it through the hub's
// handler. Every request gets an ACK or an ERROR carrying its reqId.
func (c *Client) handleMessage(raw []byte) {
	var msg ClientMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.replyError("", "invalid message: "+err.Error())
		return
	}
	if msg.Type == "" && msg.Ping > 0 {
		c.reply(PongMsg{Type: MsgPong, Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
		return
	}

	h := c.hub.handler
	if h == nil {
		c.replyError(msg.ReqID, errNoHandler.Error())
		return
	}

	typ := strings.ToUpper(msg.Type)
	switch typ {
	case MsgSubscribe, MsgUnsubscribe:
		if msg.Indicator == nil {
			c.replyError(msg.ReqID, typ+": indicator is required")
			return
		}
		spec, err := msg.Indicator.Spec()
		if err != nil {
			c.replyError(msg.ReqID, err.Error())
			return
		}
		ack := AckMsg{Type: MsgAck, ReqID: msg.ReqID, Op: typ, Symbol: normSymbol(msg.Symbol), Key: c.hub.specKey(spec)}
		acked := false
		if typ == MsgSubscribe {
			// the ACK is queued ahead of the initial value
			err = h.Subscribe(c.ctx, c.id, msg.Symbol, spec, func() {
				acked = true
				c.reply(ack)
			})
		} else {
			err = h.Unsubscribe(c.id, msg.Symbol, spec)
		}
		if err != nil {
			c.replyError(msg.ReqID, err.Error())
			return
		}
		c.hub.log.Debug("indicator request applied", "conn", c.id, "op", typ, "symbol", msg.Symbol, "spec", spec.Key())
		if !acked {
			c.reply(ack)
		}

	case MsgSubscribePrice, MsgUnsubscribePrice:
		var err error
		if typ == MsgSubscribePrice {
			err = h.SubscribePrice(c.id, msg.Symbol)
		} else {
			err = h.UnsubscribePrice(c.id, msg.Symbol)
		}
		if err != nil {
			c.replyError(msg.ReqID, err.Error())
			return
		}
		c.reply(AckMsg{Type: MsgAck, ReqID: msg.ReqID, Op: typ, Symbol: normSymbol(msg.Symbol)})

	default:
		c.replyError(msg.ReqID, "unknown message type "+strconv.Quote(msg.Type))
	}
}

func (c *Client) replyError(reqID, text string) {
	c.reply(ErrorMsg{Type: MsgError, ReqID: reqID, Error: text})
}

// specKey is the key clients see in ACKs, canonicalized when a resolver is
// configured.
func (h *Hub) specKey(spec model.IndicatorSpec) string {
	if h.resolve != nil {
		if resolved, err := h.resolve(spec); err == nil {
			return resolved.Key()
		}
	}
	return spec.Normalize().Key()
}

func normSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
