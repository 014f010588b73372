// Package realtimefanout maintains a binary-framed streaming subscription
// to a realtime quote source, demultiplexes decoded ticks to per-symbol
// subscriber sets, and transparently reconnects with exponential backoff
// while preserving subscription state. Adapted from the teacher's
// internal/orchestrator/broadcaster.go subscriber-registry pattern
// (single mutex, snapshot-then-dispatch-outside-lock) and from
// internal/binance/websocket.go's reconnect/backoff driver, generalized
// from a flat subscriber list to a per-symbol registry.
package realtimefanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sessiontrader/earnings-session-trader/internal/model"
	"github.com/sessiontrader/earnings-session-trader/internal/tickdecoder"
)

// Sink receives ticks for the symbols it is subscribed to. Implemented
// as an interface (not a channel) so a subscriber can be removed from
// the registry by identity without closing a shared channel.
type Sink interface {
	OnTick(model.Tick)
}

// Transport is the underlying framed connection. RealtimeFanout treats
// it as an opaque capability so production code can wire a real
// WebSocket client and tests can wire a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	SendSubscribe(symbols []string) error
	SendUnsubscribe(symbols []string) error
	// ReadFrame blocks until a frame is available or the connection
	// drops; it returns the tick payload bytes that Fanout passes to
	// tickdecoder.Decode.
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Config controls reconnect backoff.
type Config struct {
	BaseDelay     time.Duration
	MaxAttempts   int
}

func DefaultConfig() Config {
	return Config{BaseDelay: time.Second, MaxAttempts: 5}
}

// Fanout is the connection-managed publish/subscribe registry.
type Fanout struct {
	transport Transport
	cfg       Config

	mu            sync.Mutex
	subscriptions map[model.Symbol]map[Sink]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

// New creates a Fanout over the given transport.
func New(transport Transport, cfg Config) *Fanout {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Fanout{
		transport:     transport,
		cfg:           cfg,
		subscriptions: make(map[model.Symbol]map[Sink]struct{}),
	}
}

// Start connects and begins the read loop. The reconnect driver runs
// for the lifetime of ctx; Close cancels it.
func (f *Fanout) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.transport.Connect(f.ctx); err != nil {
		return fmt.Errorf("realtimefanout: initial connect: %w", err)
	}

	f.wg.Add(1)
	go f.readLoop()

	return nil
}

// Subscribe registers sink for each symbol. The first registration for a
// symbol sends an upstream subscribe frame; subsequent registrations for
// the same symbol do not re-send. Idempotent per (symbol, sink) pair.
func (f *Fanout) Subscribe(symbols []model.Symbol, sink Sink) error {
	var newlySubscribed []string

	f.mu.Lock()
	for _, sym := range symbols {
		sinks, exists := f.subscriptions[sym]
		if !exists {
			sinks = make(map[Sink]struct{})
			f.subscriptions[sym] = sinks
			newlySubscribed = append(newlySubscribed, string(sym))
		}
		sinks[sink] = struct{}{}
	}
	f.mu.Unlock()

	if len(newlySubscribed) == 0 {
		return nil
	}
	return f.transport.SendSubscribe(newlySubscribed)
}

// Unsubscribe removes only the given sink from each symbol's set. An
// upstream unsubscribe frame is sent for a symbol only when its sink set
// becomes empty. This resolves the legacy "remove all sinks" behavior in
// favor of per-sink removal.
func (f *Fanout) Unsubscribe(symbols []model.Symbol, sink Sink) error {
	var fullyUnsubscribed []string

	f.mu.Lock()
	for _, sym := range symbols {
		sinks, exists := f.subscriptions[sym]
		if !exists {
			continue
		}
		delete(sinks, sink)
		if len(sinks) == 0 {
			delete(f.subscriptions, sym)
			fullyUnsubscribed = append(fullyUnsubscribed, string(sym))
		}
	}
	f.mu.Unlock()

	if len(fullyUnsubscribed) == 0 {
		return nil
	}
	return f.transport.SendUnsubscribe(fullyUnsubscribed)
}

// Close disables reconnect, cancels the reader, closes the connection,
// and drops all subscriptions.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.subscriptions = make(map[model.Symbol]map[Sink]struct{})
	f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()

	return f.transport.Close()
}

// readLoop reads frames, decodes them, and dispatches to subscribers. On
// read error it hands off to the reconnect driver.
func (f *Fanout) readLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		frame, err := f.transport.ReadFrame(f.ctx)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("realtimefanout: read error, entering reconnect")
			if !f.reconnect() {
				log.Error().Msg("realtimefanout: reconnect attempts exhausted, giving up")
				return
			}
			continue
		}

		tick, err := tickdecoder.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("realtimefanout: failed to decode tick frame")
			continue
		}

		f.dispatch(tick)
	}
}

// dispatch delivers a tick to all sinks subscribed to its symbol. The
// sink set is snapshotted under the mutex, then invoked outside it, so a
// sink that calls back into Subscribe/Unsubscribe cannot deadlock.
func (f *Fanout) dispatch(tick model.Tick) {
	sym := model.NormalizeSymbol(tick.Symbol)

	f.mu.Lock()
	sinks, exists := f.subscriptions[sym]
	snapshot := make([]Sink, 0, len(sinks))
	if exists {
		for sink := range sinks {
			snapshot = append(snapshot, sink)
		}
	}
	f.mu.Unlock()

	for _, sink := range snapshot {
		deliverSafely(sink, tick)
	}
}

// deliverSafely invokes a sink, recovering from a panic so one
// misbehaving subscriber cannot interrupt delivery to others or crash
// the reader.
func deliverSafely(sink Sink, tick model.Tick) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("realtimefanout: sink panicked during dispatch")
		}
	}()
	sink.OnTick(tick)
}

// reconnect drives the DISCONNECTED -> CONNECTED -> STREAMING state
// machine with exponential backoff capped at MaxAttempts. On success it
// resubscribes the entire current subscription set atomically with
// respect to concurrent Subscribe/Unsubscribe calls.
func (f *Fanout) reconnect() bool {
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		select {
		case <-f.ctx.Done():
			return false
		default:
		}

		delay := f.cfg.BaseDelay * time.Duration(1<<uint(attempt))
		log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("realtimefanout: reconnecting")

		select {
		case <-time.After(delay):
		case <-f.ctx.Done():
			return false
		}

		if err := f.transport.Connect(f.ctx); err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("realtimefanout: reconnect attempt failed")
			continue
		}

		if err := f.resubscribeAll(); err != nil {
			log.Warn().Err(err).Msg("realtimefanout: resubscribe after reconnect failed")
			continue
		}

		log.Info().Msg("realtimefanout: reconnected")
		return true
	}

	return false
}

func (f *Fanout) resubscribeAll() error {
	f.mu.Lock()
	symbols := make([]string, 0, len(f.subscriptions))
	for sym := range f.subscriptions {
		symbols = append(symbols, string(sym))
	}
	f.mu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return f.transport.SendSubscribe(symbols)
}
