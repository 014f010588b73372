// Package model holds the shared domain types that flow between the
// selection pipeline, realtime fan-out, candle builder, strategy, and
// order gateway. Keeping them in one leaf package avoids import cycles
// between those components.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sessiontrader/earnings-session-trader/internal/tickdecoder"
)

// Symbol is an opaque uppercase ticker, 1-5 letters plus an optional
// ".XX" suffix. NormalizeSymbol folds case on ingress.
type Symbol string

// NormalizeSymbol upper-cases and trims a raw symbol string.
func NormalizeSymbol(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

// Tick is the decoded realtime quote, re-exported from tickdecoder so
// downstream packages depend on model, not on the wire-format package.
type Tick = tickdecoder.Tick

// Candle is a closed (immutable once emitted) OHLCV aggregate over a
// fixed time window.
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	StartTime time.Time
	Period    time.Duration
}

// WatchlistEntry pairs a symbol with its frozen per-symbol capital
// allocation for the session.
type WatchlistEntry struct {
	Symbol            Symbol
	AllocatedCapital decimal.Decimal
}

// OrderIntent is a bracket order request: an entry limit plus a
// stop-loss and take-profit, both OCO children of the entry.
type OrderIntent struct {
	Symbol     Symbol
	Side       OrderSide
	Type       OrderType
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Quantity   int64
}

type OrderSide int

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

type OrderType int

const (
	OrderTypeLimit OrderType = iota
)

// OrderAck is returned on successful order placement.
type OrderAck struct {
	OrderID    string
	ParentID   string
	StopID     string
	TakeID     string
	AcceptedAt time.Time
}

type OrderStatus int

const (
	OrderStatusNew OrderStatus = iota
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
)

// OrderState reports the current lifecycle status of a placed order.
type OrderState struct {
	OrderID       string
	Status        OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
}

// Position is one open holding within a Portfolio.
type Position struct {
	Symbol         Symbol
	Qty            decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	CurrentPrice   decimal.Decimal
	UnrealizedPnL  decimal.Decimal
}

// Portfolio is the broker-reported account snapshot.
type Portfolio struct {
	Equity      decimal.Decimal
	Cash        decimal.Decimal
	BuyingPower decimal.Decimal
	Positions   []Position
}
