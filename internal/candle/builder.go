// Package candle aggregates a per-symbol tick stream into fixed-period
// OHLCV bars. Aggregation is tick-arrival-driven, not wall-clock-driven:
// a bar's window opens on the first tick seen for a symbol and closes
// (emitting the bar and seeding the next one) on the first subsequent
// tick whose arrival is at or past the period boundary. Grounded on the
// teacher's indicator pipeline's incremental-update style in
// internal/indicators, adapted here from a rolling-window computation to
// a period-bounded aggregate.
package candle

import (
	"sync"
	"time"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// Sink receives a completed candle as soon as its window closes.
type Sink interface {
	OnCandle(model.Symbol, model.Candle)
}

type buildState struct {
	open      float64
	high      float64
	low       float64
	close     float64
	volume    float64
	startTime time.Time
}

// Builder aggregates ticks into candles per symbol.
type Builder struct {
	period time.Duration
	sink   Sink

	mu    sync.Mutex
	state map[model.Symbol]*buildState
}

// New creates a Builder with the given bar period. Every completed
// candle is delivered to sink.
func New(period time.Duration, sink Sink) *Builder {
	return &Builder{
		period: period,
		sink:   sink,
		state:  make(map[model.Symbol]*buildState),
	}
}

// OnTick folds one tick into its symbol's in-progress candle, emitting
// and reseeding when the tick's timestamp has reached the period
// boundary of the current window.
func (b *Builder) OnTick(tick model.Tick) {
	sym := model.NormalizeSymbol(tick.Symbol)

	b.mu.Lock()
	st, exists := b.state[sym]
	if !exists {
		b.state[sym] = seedState(tick)
		b.mu.Unlock()
		return
	}

	if tick.Timestamp.Sub(st.startTime) >= b.period {
		completed := toCandle(st, b.period)
		b.state[sym] = seedState(tick)
		b.mu.Unlock()
		b.sink.OnCandle(sym, completed)
		return
	}

	st.high = max(st.high, tick.Price)
	st.low = min(st.low, tick.Price)
	st.close = tick.Price
	st.volume += float64(tick.LastSize)
	b.mu.Unlock()
}

// Flush force-closes any in-progress candle for sym, useful at session
// end so the last partial bar isn't silently dropped.
func (b *Builder) Flush(sym model.Symbol) (model.Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, exists := b.state[sym]
	if !exists {
		return model.Candle{}, false
	}
	delete(b.state, sym)
	return toCandle(st, b.period), true
}

func seedState(tick model.Tick) *buildState {
	return &buildState{
		open:      tick.Price,
		high:      tick.Price,
		low:       tick.Price,
		close:     tick.Price,
		volume:    float64(tick.LastSize),
		startTime: tick.Timestamp,
	}
}

func toCandle(st *buildState, period time.Duration) model.Candle {
	return model.Candle{
		Open:      st.open,
		High:      st.high,
		Low:       st.low,
		Close:     st.close,
		Volume:    st.volume,
		StartTime: st.startTime,
		Period:    period,
	}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
