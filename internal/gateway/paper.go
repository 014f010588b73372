package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// PaperGateway simulates bracket-order fills against a fixed buying
// power pool, in the teacher's paper-executor idiom: a mutex-guarded
// in-memory order/position map with immediate fills at the requested
// entry price. Grounded on internal/execution/paper.go's account-state
// map and ID generation, adapted from a flat crypto balance to a
// per-session equities buying-power pool and from single-order fills to
// bracket (entry + stop + take) triplets.
type PaperGateway struct {
	mu sync.Mutex

	buyingPower decimal.Decimal
	orders      map[string]*paperOrder
}

type paperOrder struct {
	intent model.OrderIntent
	state  model.OrderState
}

// NewPaperGateway creates a paper gateway seeded with startingBuyingPower.
func NewPaperGateway(startingBuyingPower decimal.Decimal) *PaperGateway {
	return &PaperGateway{
		buyingPower: startingBuyingPower,
		orders:      make(map[string]*paperOrder),
	}
}

var _ OrderGateway = (*PaperGateway)(nil)

// PlaceOrder installs the bracket as three synthetic order IDs (parent,
// stop, take) and immediately fills the parent at its entry price,
// deducting the notional from the simulated buying power.
func (g *PaperGateway) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	notional := intent.Entry.Mul(decimal.NewFromInt(intent.Quantity))
	if notional.GreaterThan(g.buyingPower) {
		return model.OrderAck{}, fmt.Errorf("paper gateway: insufficient buying power for %s: need %s, have %s",
			intent.Symbol, notional, g.buyingPower)
	}

	parentID := uuid.NewString()
	ack := model.OrderAck{
		OrderID:    parentID,
		ParentID:   parentID,
		StopID:     uuid.NewString(),
		TakeID:     uuid.NewString(),
		AcceptedAt: time.Now(),
	}

	g.orders[parentID] = &paperOrder{
		intent: intent,
		state: model.OrderState{
			OrderID:      parentID,
			Status:       model.OrderStatusFilled,
			FilledQty:    decimal.NewFromInt(intent.Quantity),
			AvgFillPrice: intent.Entry,
		},
	}
	g.buyingPower = g.buyingPower.Sub(notional)

	return ack, nil
}

// CancelOrder marks a known order canceled; unknown order IDs error.
func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) (model.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return model.OrderState{}, fmt.Errorf("paper gateway: unknown order %s", orderID)
	}
	o.state.Status = model.OrderStatusCanceled
	return o.state, nil
}

// GetOrder returns the current simulated state of a previously placed order.
func (g *PaperGateway) GetOrder(ctx context.Context, orderID string) (model.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return model.OrderState{}, fmt.Errorf("paper gateway: unknown order %s", orderID)
	}
	return o.state, nil
}

// GetPortfolio returns a snapshot built from every filled paper order.
func (g *PaperGateway) GetPortfolio(ctx context.Context) (model.Portfolio, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var positions []model.Position
	for _, o := range g.orders {
		if o.state.Status != model.OrderStatusFilled {
			continue
		}
		positions = append(positions, model.Position{
			Symbol:        o.intent.Symbol,
			Qty:           o.state.FilledQty,
			AvgEntryPrice: o.state.AvgFillPrice,
			CurrentPrice:  o.state.AvgFillPrice,
		})
	}

	return model.Portfolio{
		Cash:        g.buyingPower,
		BuyingPower: g.buyingPower,
		Positions:   positions,
	}, nil
}

// GetBuyingPower returns the remaining simulated buying power.
func (g *PaperGateway) GetBuyingPower(ctx context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buyingPower, nil
}
