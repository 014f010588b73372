// Package earningsstrategy implements the specification's single
// earnings/AI-consensus strategy: subscribe to the day's consensus
// watchlist, aggregate ticks into candles, and place one bracketed
// limit order per symbol on its first eligible closed candle after a
// warm-up window. Grounded on the teacher's internal/strategy package
// for the Strategy/lifecycle shape (Name/IsEnabled/enabled-flag fields
// on a struct) and on internal/orchestrator.go's mutex-guarded state
// struct for the ordered-set bookkeeping, generalized from a multi-
// strategy technical-indicator scorer to the single catalyst strategy
// the specification names.
package earningsstrategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sessiontrader/earnings-session-trader/internal/candle"
	"github.com/sessiontrader/earnings-session-trader/internal/gateway"
	"github.com/sessiontrader/earnings-session-trader/internal/model"
	"github.com/sessiontrader/earnings-session-trader/internal/realtimefanout"
)

// Selector is the subset of selection.Pipeline the strategy depends on.
type Selector interface {
	Select(ctx context.Context, day time.Time) ([]model.Symbol, error)
}

// Fanout is the subset of *realtimefanout.Fanout the strategy depends
// on; *Strategy satisfies realtimefanout.Sink (it implements OnTick) and
// is passed as the sink argument.
type Fanout interface {
	Subscribe(symbols []model.Symbol, sink realtimefanout.Sink) error
	Unsubscribe(symbols []model.Symbol, sink realtimefanout.Sink) error
}

// Default bracket fractions from the specification's §4.7 contract:
// entry sits 1% below the candle low, stop-loss 4% below entry,
// take-profit 8% above entry. Config overrides these per the strategy
// YAML section's entry_offset_pct/stop_loss_pct/take_profit_pct keys.
const (
	defaultEntryDiscount    = 0.01
	defaultStopLossFraction = 0.04
	defaultTakeProfitFrac   = 0.08
)

// Config fixes the strategy's tunables.
type Config struct {
	CandlePeriod time.Duration // fixed aggregation window, e.g. 1m
	WarmupHour   int           // local hour after which candles are acted on, default 9
	WarmupMinute int           // local minute, default 35
	Location     *time.Location

	EntryOffsetPct float64 // default 0.01
	StopLossPct    float64 // default 0.04
	TakeProfitPct  float64 // default 0.08
}

func (c Config) warmupTime(day time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.WarmupHour, c.WarmupMinute, 0, 0, loc)
}

// Strategy is the earnings/AI-consensus strategy described in §4.7.
type Strategy struct {
	selector Selector
	gateway  gateway.OrderGateway
	fanout   Fanout
	cfg      Config

	mu            sync.Mutex
	initialized   bool
	watchlist     []model.WatchlistEntry
	perSymbol     map[model.Symbol]decimal.Decimal
	builder       *candle.Builder
	ordered       map[model.Symbol]struct{}
	warmupAt      time.Time
}

// New builds a Strategy over its three external collaborators.
func New(selector Selector, gw gateway.OrderGateway, fanout Fanout, cfg Config) *Strategy {
	if cfg.CandlePeriod <= 0 {
		cfg.CandlePeriod = time.Minute
	}
	if cfg.WarmupHour == 0 && cfg.WarmupMinute == 0 {
		cfg.WarmupHour, cfg.WarmupMinute = 9, 35
	}
	if cfg.EntryOffsetPct == 0 {
		cfg.EntryOffsetPct = defaultEntryDiscount
	}
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = defaultStopLossFraction
	}
	if cfg.TakeProfitPct == 0 {
		cfg.TakeProfitPct = defaultTakeProfitFrac
	}
	return &Strategy{
		selector: selector,
		gateway:  gw,
		fanout:   fanout,
		cfg:      cfg,
	}
}

func (s *Strategy) Name() string { return "earnings-consensus" }

// IsInitialized reports whether the strategy is currently active, for
// the supervisor's liveness check.
func (s *Strategy) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Initialize selects today's watchlist, freezes a uniform per-symbol
// capital allocation from the gateway's reported buying power, and
// subscribes to the fan-out for every watchlist symbol.
func (s *Strategy) Initialize(ctx context.Context) error {
	today := time.Now()
	watchSymbols, err := s.selector.Select(ctx, today)
	if err != nil {
		return fmt.Errorf("earningsstrategy: selection failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(watchSymbols) == 0 {
		log.Warn().Msg("earningsstrategy: empty watchlist, session will place no orders")
		s.watchlist = nil
		s.perSymbol = map[model.Symbol]decimal.Decimal{}
		s.builder = candle.New(s.cfg.CandlePeriod, candleSink{s})
		s.ordered = make(map[model.Symbol]struct{})
		s.warmupAt = s.cfg.warmupTime(today)
		s.initialized = true
		return nil
	}

	buyingPower, err := s.gateway.GetBuyingPower(ctx)
	if err != nil {
		return fmt.Errorf("earningsstrategy: get buying power: %w", err)
	}

	n := decimal.NewFromInt(int64(len(watchSymbols)))
	perSymbolAlloc := buyingPower.Div(n)

	s.watchlist = make([]model.WatchlistEntry, len(watchSymbols))
	s.perSymbol = make(map[model.Symbol]decimal.Decimal, len(watchSymbols))
	for i, sym := range watchSymbols {
		s.watchlist[i] = model.WatchlistEntry{Symbol: sym, AllocatedCapital: perSymbolAlloc}
		s.perSymbol[sym] = perSymbolAlloc
	}

	s.builder = candle.New(s.cfg.CandlePeriod, candleSink{s})
	s.ordered = make(map[model.Symbol]struct{})
	s.warmupAt = s.cfg.warmupTime(today)

	if err := s.fanout.Subscribe(watchSymbols, s); err != nil {
		return fmt.Errorf("earningsstrategy: subscribe: %w", err)
	}

	s.initialized = true
	log.Info().Int("watchlist_size", len(watchSymbols)).Str("per_symbol", perSymbolAlloc.String()).Msg("earningsstrategy: initialized")
	return nil
}

// OnTick feeds the candle builder; closed candles are routed to
// onCandle via the candleSink adapter below.
func (s *Strategy) OnTick(t model.Tick) {
	s.mu.Lock()
	builder := s.builder
	s.mu.Unlock()
	if builder == nil {
		return
	}
	builder.OnTick(t)
}

// candleSink adapts candle.Sink to the strategy's unexported onCandle
// method so Strategy itself doesn't need to export an OnCandle method.
type candleSink struct{ s *Strategy }

func (c candleSink) OnCandle(sym model.Symbol, cdl model.Candle) { c.s.onCandle(sym, cdl) }

// onCandle is gated by the warm-up clock and the per-symbol ordered
// set. The ordered set is the sole truth source for the one-order-per-
// symbol guarantee: a symbol enters it only after a confirmed
// PlaceOrder success.
func (s *Strategy) onCandle(sym model.Symbol, c model.Candle) {
	if c.StartTime.Before(s.warmupTimeSnapshot()) {
		return
	}

	s.mu.Lock()
	if _, done := s.ordered[sym]; done {
		s.mu.Unlock()
		return
	}
	perSymbol, ok := s.perSymbol[sym]
	s.mu.Unlock()
	if !ok {
		return
	}

	entry := roundCents(c.Low * (1 - s.cfg.EntryOffsetPct))
	stop := roundCents(entry * (1 - s.cfg.StopLossPct))
	take := roundCents(entry * (1 + s.cfg.TakeProfitPct))

	entryDec := decimal.NewFromFloat(entry)
	qty := perSymbol.Div(entryDec).IntPart()
	if qty < 1 {
		log.Debug().Str("symbol", string(sym)).Float64("entry", entry).Str("per_symbol", perSymbol.String()).
			Msg("earningsstrategy: allocation below one share at entry price, skipping this candle")
		return
	}

	intent := model.OrderIntent{
		Symbol:     sym,
		Side:       model.OrderSideBuy,
		Type:       model.OrderTypeLimit,
		Entry:      entryDec,
		StopLoss:   decimal.NewFromFloat(stop),
		TakeProfit: decimal.NewFromFloat(take),
		Quantity:   qty,
	}

	ack, err := s.gateway.PlaceOrder(context.Background(), intent)
	if err != nil {
		log.Error().Err(err).Str("symbol", string(sym)).Msg("earningsstrategy: order placement failed, symbol remains untagged")
		return
	}

	s.mu.Lock()
	s.ordered[sym] = struct{}{}
	s.mu.Unlock()

	log.Info().Str("symbol", string(sym)).Str("order_id", ack.OrderID).Int64("qty", qty).
		Float64("entry", entry).Float64("stop", stop).Float64("take", take).
		Msg("earningsstrategy: bracket order placed")
}

func (s *Strategy) warmupTimeSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warmupAt
}

// Shutdown unsubscribes from the fan-out, drops all per-symbol state,
// and clears the initialized flag.
func (s *Strategy) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	symbols := make([]model.Symbol, len(s.watchlist))
	for i, w := range s.watchlist {
		symbols[i] = w.Symbol
	}
	s.mu.Unlock()

	var unsubErr error
	if len(symbols) > 0 {
		unsubErr = s.fanout.Unsubscribe(symbols, s)
	}

	s.mu.Lock()
	s.watchlist = nil
	s.perSymbol = nil
	s.builder = nil
	s.ordered = nil
	s.initialized = false
	s.mu.Unlock()

	if unsubErr != nil {
		return fmt.Errorf("earningsstrategy: unsubscribe during shutdown: %w", unsubErr)
	}
	return nil
}

// roundCents rounds to the nearest cent, matching the specification's
// example (entry=99.00 from low=100.00).
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
