// Package gateway defines the OrderGateway capability the strategy
// layer places bracket orders through, plus the concrete adapters that
// implement it. The broker wire protocol itself is out of scope for the
// core (per the specification's deliberately-external-collaborators
// list); this package only owns the narrow contract and a couple of
// adapters grounded on the teacher's execution package and on the
// pack's Alpaca-specific equities adapter.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// OrderGateway is the broker capability the strategy depends on. A
// concrete adapter owns whatever wire protocol the venue speaks; bracket
// semantics (entry + OCO stop-loss/take-profit) are installed atomically
// from the caller's point of view.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) (model.OrderState, error)
	GetOrder(ctx context.Context, orderID string) (model.OrderState, error)
	GetPortfolio(ctx context.Context) (model.Portfolio, error)
	GetBuyingPower(ctx context.Context) (decimal.Decimal, error)
}
