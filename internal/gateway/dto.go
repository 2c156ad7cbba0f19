package gateway

import "trading-indstream/internal/model"

// ── WS Protocol Message Types ──

// Client → server message types.
const (
	MsgSubscribe        = "SUBSCRIBE"
	MsgUnsubscribe      = "UNSUBSCRIBE"
	MsgSubscribePrice   = "SUBSCRIBE_PRICE"
	MsgUnsubscribePrice = "UNSUBSCRIBE_PRICE"
)

// Server → client control message types. Data arrives in envelopes.
const (
	MsgAck   = "ACK"
	MsgError = "ERROR"
	MsgPong  = "pong"
)

// ClientMsg is any client → server request. Indicator is required for
// SUBSCRIBE and UNSUBSCRIBE only.
type ClientMsg struct {
	Type      string         `json:"type"`
	ReqID     string         `json:"reqId,omitempty"` // client-generated request ID, echoed back
	Symbol    string         `json:"symbol"`          // e.g. "AAPL"
	Indicator *IndicatorWire `json:"indicator,omitempty"`
	Ping      int64          `json:"ping,omitempty"`
}

// IndicatorWire is an indicator spec as clients send it. Type accepts the
// aliases model.ParseIndicatorType understands, e.g. "bollinger".
type IndicatorWire struct {
	Type      string          `json:"type"`
	Period    int             `json:"period"`
	Fast      int             `json:"fast,omitempty"`
	Slow      int             `json:"slow,omitempty"`
	Signal    int             `json:"signal,omitempty"`
	Timeframe model.Timeframe `json:"timeframe,omitempty"` // "5m", "1h"; empty = native
}

// Spec converts the wire form to a model spec.
func (w *IndicatorWire) Spec() (model.IndicatorSpec, error) {
	typ, err := model.ParseIndicatorType(w.Type)
	if err != nil {
		return model.IndicatorSpec{}, err
	}
	return model.IndicatorSpec{
		Type:      typ,
		Period:    w.Period,
		Fast:      w.Fast,
		Slow:      w.Slow,
		Signal:    w.Signal,
		Timeframe: w.Timeframe,
	}, nil
}

// AckMsg confirms a request was applied.
type AckMsg struct {
	Type   string `json:"type"` // "ACK"
	ReqID  string `json:"reqId,omitempty"`
	Op     string `json:"op"`
	Symbol string `json:"symbol,omitempty"`
	Key    string `json:"key,omitempty"` // resolved spec key for indicator ops
}

// ErrorMsg reports a rejected request to the requesting client only.
type ErrorMsg struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// PongMsg answers a keepalive ping.
type PongMsg struct {
	Type     string `json:"type"` // "pong"
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}
