// Package wstransport implements realtimefanout.Transport over a JSON-
// framed WebSocket connection, per the specification's §6 RealtimeSource
// contract: outgoing frames are {"subscribe":[symbols]} /
// {"unsubscribe":[symbols]}, incoming frames are
// {"message":"<base64 tick payload>"}. Grounded on
// internal/binance/websocket.go's WSClient (gorilla/websocket dial,
// read-loop-owns-the-connection shape); realtimefanout itself owns
// reconnect/backoff, so this adapter only owns the wire framing.
package wstransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type subscribeFrame struct {
	Subscribe []string `json:"subscribe,omitempty"`
	Unsubscribe []string `json:"unsubscribe,omitempty"`
}

type incomingFrame struct {
	Message string `json:"message"`
}

// Transport implements realtimefanout.Transport against a single
// WebSocket URL.
type Transport struct {
	URL        string
	DialTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTransport builds a Transport targeting url.
func NewTransport(url string) *Transport {
	return &Transport{URL: url, DialTimeout: 10 * time.Second}
}

// Connect dials the WebSocket endpoint, replacing any prior connection.
func (t *Transport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return fmt.Errorf("wstransport: dial %s: %w", t.URL, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SendSubscribe writes an outgoing {"subscribe":[...]} frame.
func (t *Transport) SendSubscribe(symbols []string) error {
	return t.sendFrame(subscribeFrame{Subscribe: symbols})
}

// SendUnsubscribe writes an outgoing {"unsubscribe":[...]} frame.
func (t *Transport) SendUnsubscribe(symbols []string) error {
	return t.sendFrame(subscribeFrame{Unsubscribe: symbols})
}

func (t *Transport) sendFrame(frame subscribeFrame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("wstransport: not connected")
	}
	return conn.WriteJSON(frame)
}

// ReadFrame blocks for the next incoming frame, unwraps its JSON
// envelope, and returns the base64-decoded tick payload bytes ready for
// tickdecoder.Decode.
func (t *Transport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("wstransport: not connected")
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("wstransport: read message: %w", err)
	}

	var frame incomingFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("wstransport: unmarshal envelope: %w", err)
	}

	payload, err := base64.StdEncoding.DecodeString(frame.Message)
	if err != nil {
		return nil, fmt.Errorf("wstransport: decode base64 payload: %w", err)
	}

	return payload, nil
}
