package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

// TestAppendEnvelopeFormat verifies the hand-crafted JSON envelope
// matches the expected structure: {"channel":"...","data":...,"ts":"...","seq":N}
func TestAppendEnvelopeFormat(t *testing.T) {
	data := []byte(`{"symbol":"AAPL","indicatorType":"SMA","key":"SMA:20@1m","value":103.5}`)
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	buf := appendEnvelope(nil, "indicator", data, now, 42)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != "indicator" {
		t.Errorf("channel: got %q, want indicator", env.Channel)
	}
	if env.Seq != 42 {
		t.Errorf("seq: got %d, want 42", env.Seq)
	}

	var ind struct {
		Symbol string  `json:"symbol"`
		Value  float64 `json:"value"`
	}
	if err := json.Unmarshal(env.Data, &ind); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if ind.Symbol != "AAPL" || ind.Value != 103.5 {
		t.Errorf("data: got %+v", ind)
	}

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil {
		t.Errorf("ts is not valid RFC3339Nano: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("ts: got %v, want %v", parsed, now)
	}
}

// TestAppendEnvelopeNestedData tests envelope with nested/complex data payload.
func TestAppendEnvelopeNestedData(t *testing.T) {
	data := []byte(`{"note":"test","nested":{"a":1},"arr":[1,2,3]}`)
	buf := appendEnvelope(make([]byte, 0, 8), "price", data, time.Now().UTC(), 999)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Seq != 999 {
		t.Errorf("seq: got %d, want 999", env.Seq)
	}
}

func TestEncodePayload(t *testing.T) {
	raw := json.RawMessage(`{"x":1}`)
	got, err := encodePayload(raw)
	if err != nil || string(got) != `{"x":1}` {
		t.Errorf("raw passthrough: got %s, %v", got, err)
	}
	if _, err := encodePayload(func() {}); err == nil {
		t.Error("expected error for unencodable payload")
	}
}

// TestClientEnqueue_SeqMonotonicAndGapOnDrop verifies per-client sequence
// numbers advance even when the queue is full.
func TestClientEnqueue_SeqMonotonicAndGapOnDrop(t *testing.T) {
	h := NewHub(HubConfig{SendBuffer: 2})
	c := &Client{id: "c1", send: make(chan outbound, 2), hub: h}
	now := time.Now().UTC()

	results := []bool{
		c.enqueue("price", []byte(`{}`), now),
		c.enqueue("price", []byte(`{}`), now),
		c.enqueue("price", []byte(`{}`), now), // dropped
	}
	if !results[0] || !results[1] || results[2] {
		t.Fatalf("enqueue results = %v, want [true true false]", results)
	}

	for want := int64(1); want <= 2; want++ {
		var env envelope
		if err := json.Unmarshal((<-c.send).data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Seq != want {
			t.Errorf("seq: got %d, want %d", env.Seq, want)
		}
	}

	c.enqueue("price", []byte(`{}`), now)
	var env envelope
	if err := json.Unmarshal((<-c.send).data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Seq != 4 {
		t.Errorf("seq after drop: got %d, want 4 (gap at 3)", env.Seq)
	}
}
