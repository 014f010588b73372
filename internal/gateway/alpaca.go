package gateway

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// AlpacaGateway adapts OrderGateway onto Alpaca's trading REST API.
// Grounded on billygk-alpha-trading/internal/market/alpaca/provider.go's
// PlaceOrder (bracket order class with TakeProfit/StopLoss sub-requests)
// and GetAccount/GetBuyingPower call shapes; generalized here from a
// market-order-with-optional-bracket wrapper to the strategy's always-
// bracketed limit entry.
type AlpacaGateway struct {
	client *alpaca.Client
}

// NewAlpacaGateway wraps an already-configured Alpaca trading client.
func NewAlpacaGateway(client *alpaca.Client) *AlpacaGateway {
	return &AlpacaGateway{client: client}
}

var _ OrderGateway = (*AlpacaGateway)(nil)

// PlaceOrder submits a limit-entry bracket order: OrderClass=Bracket
// with TakeProfit/StopLoss children, exactly as the teacher's adapter
// does for its market-order bracket path, but with a Limit entry type
// per the specification's OrderIntent.
func (g *AlpacaGateway) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderAck, error) {
	qty := decimal.NewFromInt(intent.Quantity)
	entry := intent.Entry
	stop := intent.StopLoss
	take := intent.TakeProfit

	req := alpaca.PlaceOrderRequest{
		Symbol:      string(intent.Symbol),
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Limit,
		LimitPrice:  &entry,
		TimeInForce: alpaca.Day,
		OrderClass:  alpaca.Bracket,
		TakeProfit: &alpaca.TakeProfit{
			LimitPrice: &take,
		},
		StopLoss: &alpaca.StopLoss{
			StopPrice: &stop,
		},
	}

	o, err := g.client.PlaceOrder(req)
	if err != nil {
		return model.OrderAck{}, fmt.Errorf("alpaca gateway: place order: %w", err)
	}

	ack := model.OrderAck{
		OrderID:    o.ID,
		ParentID:   o.ID,
		AcceptedAt: o.SubmittedAt,
	}
	for _, leg := range o.Legs {
		if leg.Type == alpaca.StopLimit || leg.Type == alpaca.Stop {
			ack.StopID = leg.ID
		}
		if leg.Type == alpaca.Limit {
			ack.TakeID = leg.ID
		}
	}

	return ack, nil
}

// CancelOrder cancels a previously-placed order by ID.
func (g *AlpacaGateway) CancelOrder(ctx context.Context, orderID string) (model.OrderState, error) {
	if err := g.client.CancelOrder(orderID); err != nil {
		return model.OrderState{}, fmt.Errorf("alpaca gateway: cancel order: %w", err)
	}
	return g.GetOrder(ctx, orderID)
}

// GetOrder fetches the current state of an order from Alpaca.
func (g *AlpacaGateway) GetOrder(ctx context.Context, orderID string) (model.OrderState, error) {
	o, err := g.client.GetOrder(orderID)
	if err != nil {
		return model.OrderState{}, fmt.Errorf("alpaca gateway: get order: %w", err)
	}
	return mapOrderState(o), nil
}

// GetPortfolio fetches the account's current open positions and equity.
func (g *AlpacaGateway) GetPortfolio(ctx context.Context) (model.Portfolio, error) {
	acct, err := g.client.GetAccount()
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("alpaca gateway: get account: %w", err)
	}
	positions, err := g.client.GetPositions()
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("alpaca gateway: get positions: %w", err)
	}

	out := model.Portfolio{
		Equity:      acct.Equity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
	}
	for _, p := range positions {
		current := decimal.Zero
		if p.CurrentPrice != nil {
			current = *p.CurrentPrice
		}
		unrealized := decimal.Zero
		if p.UnrealizedPL != nil {
			unrealized = *p.UnrealizedPL
		}
		out.Positions = append(out.Positions, model.Position{
			Symbol:        model.Symbol(p.Symbol),
			Qty:           p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  current,
			UnrealizedPnL: unrealized,
		})
	}

	return out, nil
}

// GetBuyingPower returns the account's current buying power.
func (g *AlpacaGateway) GetBuyingPower(ctx context.Context) (decimal.Decimal, error) {
	acct, err := g.client.GetAccount()
	if err != nil {
		return decimal.Zero, fmt.Errorf("alpaca gateway: get account: %w", err)
	}
	return acct.BuyingPower, nil
}

func mapOrderState(o *alpaca.Order) model.OrderState {
	filledQty := decimal.Zero
	if o.FilledQty != nil {
		filledQty = *o.FilledQty
	}
	return model.OrderState{
		OrderID:      o.ID,
		Status:       mapStatus(o.Status),
		FilledQty:    filledQty,
		AvgFillPrice: derefOrZero(o.FilledAvgPrice),
	}
}

func derefOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func mapStatus(s string) model.OrderStatus {
	switch s {
	case "filled":
		return model.OrderStatusFilled
	case "partially_filled":
		return model.OrderStatusPartiallyFilled
	case "canceled", "expired":
		return model.OrderStatusCanceled
	case "rejected":
		return model.OrderStatusRejected
	default:
		return model.OrderStatusNew
	}
}
