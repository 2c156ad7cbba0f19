package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// appendEnvelope writes {"channel":...,"data":...,"ts":...,"seq":N} to buf.
// Hand-crafted instead of json.Marshal since it runs once per recipient.
// data must already be valid JSON and channel must not need escaping.
func appendEnvelope(buf []byte, channel string, data []byte, ts time.Time, seq int64) []byte {
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// encodePayload marshals a payload once so fan-out only copies bytes.
func encodePayload(payload any) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// Broadcast sends payload on channel to every connected client. Each client
// gets its own seq; a client whose queue is full misses the message, which
// shows up as a seq gap on its side.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodePayload(payload)
	if err != nil {
		h.log.Error("broadcast encode failed", "channel", channel, "err", err)
		return
	}
	now := time.Now().UTC()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.enqueue(channel, data, now) {
			h.dropped(c.id, channel)
		}
	}
}
