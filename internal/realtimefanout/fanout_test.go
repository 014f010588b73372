package realtimefanout

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// fakeTransport simulates a framed connection that fails its first
// ReadFrame after a forced disconnect, then recovers on the next Connect.
// A forced disconnect also fails a ReadFrame that is already blocked.
type fakeTransport struct {
	mu              sync.Mutex
	connectCount    int
	subscribeCalls  [][]string
	failNextRead    bool
	disconnect      chan struct{}
	frames          chan []byte
	closed          bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 16), disconnect: make(chan struct{}, 1)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) SendSubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]string(nil), symbols...)
	f.subscribeCalls = append(f.subscribeCalls, cp)
	return nil
}

func (f *fakeTransport) SendUnsubscribe(symbols []string) error {
	return nil
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	shouldFail := f.failNextRead
	f.failNextRead = false
	f.mu.Unlock()

	if shouldFail {
		return nil, errors.New("simulated disconnect")
	}

	select {
	case frame := <-f.frames:
		return frame, nil
	case <-f.disconnect:
		f.mu.Lock()
		f.failNextRead = false
		f.mu.Unlock()
		return nil, errors.New("simulated disconnect")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) triggerDisconnect() {
	f.mu.Lock()
	f.failNextRead = true
	f.mu.Unlock()
	select {
	case f.disconnect <- struct{}{}:
	default:
	}
}

func (f *fakeTransport) subscribeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribeCalls)
}

func encodeSymbolPriceFrame(symbol string, price float32) []byte {
	var buf []byte
	buf = appendTagHelper(buf, 1, 2)
	buf = appendVarintHelper(buf, uint64(len(symbol)))
	buf = append(buf, symbol...)
	buf = appendTagHelper(buf, 2, 5)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(price))
	buf = append(buf, b[:]...)
	return buf
}

func appendVarintHelper(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			break
		}
	}
	return buf
}

func appendTagHelper(buf []byte, field, wireType int) []byte {
	return appendVarintHelper(buf, uint64(field<<3|wireType))
}

type recordingSink struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (s *recordingSink) OnTick(t model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func TestSubscribeDispatchesOnlyToSubscribedSymbol(t *testing.T) {
	transport := newFakeTransport()
	f := New(transport, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Close()

	sink := &recordingSink{}
	if err := f.Subscribe([]model.Symbol{"AAPL"}, sink); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	transport.frames <- encodeSymbolPriceFrame("AAPL", 150.0)
	transport.frames <- encodeSymbolPriceFrame("MSFT", 300.0)

	deadline := time.After(time.Second)
	for sink.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for dispatched tick")
		case <-time.After(time.Millisecond):
		}
	}

	time.Sleep(20 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("expected exactly 1 tick delivered to AAPL sink, got %d", sink.count())
	}
}

func TestReconnectResubscribesAllSymbols(t *testing.T) {
	transport := newFakeTransport()
	f := New(transport, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Close()

	sink := &recordingSink{}
	f.Subscribe([]model.Symbol{"AAPL", "MSFT"}, sink)

	if got := transport.subscribeCallCount(); got != 1 {
		t.Fatalf("expected 1 initial subscribe call batching both newly-subscribed symbols, got %d", got)
	}
	if got := transport.subscribeCalls[0]; len(got) != 2 {
		t.Fatalf("expected the initial subscribe frame to carry both symbols, got %v", got)
	}

	transport.triggerDisconnect()

	deadline := time.After(2 * time.Second)
	for transport.subscribeCallCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for resubscribe after reconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	last := transport.subscribeCalls[len(transport.subscribeCalls)-1]
	if len(last) != 2 {
		t.Fatalf("expected resubscribe-after-reconnect frame to carry both symbols (order-insensitive), got %v", last)
	}
}

func TestUnsubscribeOnlyRemovesGivenSink(t *testing.T) {
	transport := newFakeTransport()
	f := New(transport, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	f.Subscribe([]model.Symbol{"AAPL"}, sinkA)
	f.Subscribe([]model.Symbol{"AAPL"}, sinkB)

	if err := f.Unsubscribe([]model.Symbol{"AAPL"}, sinkA); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	f.mu.Lock()
	sinks := f.subscriptions["AAPL"]
	_, stillHasB := sinks[sinkB]
	_, hasA := sinks[sinkA]
	f.mu.Unlock()

	if hasA {
		t.Error("sinkA should have been removed")
	}
	if !stillHasB {
		t.Error("sinkB should still be subscribed")
	}
}
