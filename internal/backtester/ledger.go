package backtester

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
)

// Ledger tracks cash and open positions for a single backtest run.
// It is owned by one engine and is not safe for concurrent use.
type Ledger struct {
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*position
}

type position struct {
	quantity decimal.Decimal
	avgEntry decimal.Decimal
	realized decimal.Decimal
}

func NewLedger(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*position),
	}
}

func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

func (l *Ledger) InitialCash() decimal.Decimal {
	return l.initialCash
}

// Position returns a snapshot of the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return types.Position{
		Symbol:       symbol,
		Quantity:     p.quantity,
		AverageEntry: p.avgEntry,
		RealizedPnL:  p.realized,
	}, true
}

// Positions returns snapshots of all open positions, sorted by symbol.
func (l *Ledger) Positions() []types.Position {
	out := make([]types.Position, 0, len(l.positions))
	for sym := range l.positions {
		snap, _ := l.Position(sym)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ApplyFill commits an executed trade to the ledger and returns the realized
// PnL, which is zero for buys. The trade is assumed to have passed fill-model
// validation; the same checks are repeated here so a bug upstream cannot drive
// cash or quantity negative.
func (l *Ledger) ApplyFill(t *types.Trade) (decimal.Decimal, error) {
	cost := t.ExecutedPrice.Mul(t.Quantity)

	switch t.Side {
	case types.OrderSideBuy:
		total := cost.Add(t.Commission)
		if l.cash.LessThan(total) {
			return decimal.Zero, ErrInsufficientFunds
		}
		l.cash = l.cash.Sub(total)

		p, ok := l.positions[t.Symbol]
		if !ok {
			l.positions[t.Symbol] = &position{
				quantity: t.Quantity,
				avgEntry: t.ExecutedPrice,
			}
			return decimal.Zero, nil
		}
		newQty := p.quantity.Add(t.Quantity)
		p.avgEntry = p.avgEntry.Mul(p.quantity).Add(cost).Div(newQty)
		p.quantity = newQty
		return decimal.Zero, nil

	case types.OrderSideSell:
		p, ok := l.positions[t.Symbol]
		if !ok || p.quantity.LessThan(t.Quantity) {
			return decimal.Zero, ErrInsufficientPosition
		}
		l.cash = l.cash.Add(cost).Sub(t.Commission)

		pnl := t.ExecutedPrice.Sub(p.avgEntry).Mul(t.Quantity)
		p.realized = p.realized.Add(pnl)
		p.quantity = p.quantity.Sub(t.Quantity)
		if p.quantity.IsZero() {
			delete(l.positions, t.Symbol)
		}
		return pnl, nil

	default:
		return decimal.Zero, errors.New("unknown order side: " + string(t.Side))
	}
}

// MarkToMarket returns the unrealized PnL of the open position in symbol at
// the given price. It never mutates the position.
func (l *Ledger) MarkToMarket(symbol string, price decimal.Decimal) (decimal.Decimal, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return price.Sub(p.avgEntry).Mul(p.quantity), true
}

// TotalEquity values the ledger as cash plus the mark value of every open
// position. priceOf supplies the latest price per symbol; when it has no
// price for a symbol the position is valued at its average entry.
func (l *Ledger) TotalEquity(priceOf func(symbol string) (decimal.Decimal, bool)) decimal.Decimal {
	equity := l.cash
	for sym, p := range l.positions {
		price := p.avgEntry
		if priceOf != nil {
			if last, ok := priceOf(sym); ok {
				price = last
			}
		}
		equity = equity.Add(price.Mul(p.quantity))
	}
	return equity
}
