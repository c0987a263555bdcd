package backtester

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

// RejectReason explains why a signal could not be filled. An empty reason
// means the fill succeeded.
type RejectReason string

const (
	RejectNone                 RejectReason = ""
	RejectInsufficientFunds    RejectReason = "insufficient_funds"
	RejectInsufficientPosition RejectReason = "insufficient_position"
	RejectMalformedSignal      RejectReason = "malformed_signal"
)

// FillModel converts strategy signals into executed trades, applying
// slippage against the signal price and charging commission on the
// executed notional.
type FillModel struct {
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal
}

func NewFillModel(commissionRate, slippageRate decimal.Decimal) *FillModel {
	return &FillModel{
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
	}
}

// Fill validates sig against the ledger and, if it can execute, returns the
// resulting trade. The trade is not applied to the ledger; the caller commits
// it with ApplyFill. On rejection the trade is nil and the reason is set.
func (f *FillModel) Fill(sig types.Signal, ts time.Time, ledger *Ledger) (*types.Trade, RejectReason) {
	if sig.Symbol == "" || !sig.Quantity.IsPositive() || !sig.Price.IsPositive() {
		return nil, RejectMalformedSignal
	}

	var executed decimal.Decimal
	switch sig.Kind {
	case types.OrderSideBuy:
		executed = sig.Price.Mul(decimal.NewFromInt(1).Add(f.slippageRate))
	case types.OrderSideSell:
		executed = sig.Price.Mul(decimal.NewFromInt(1).Sub(f.slippageRate))
	default:
		return nil, RejectMalformedSignal
	}

	cost := executed.Mul(sig.Quantity)
	commission := cost.Mul(f.commissionRate)

	switch sig.Kind {
	case types.OrderSideBuy:
		if ledger.Cash().LessThan(cost.Add(commission)) {
			return nil, RejectInsufficientFunds
		}
	case types.OrderSideSell:
		pos, ok := ledger.Position(sig.Symbol)
		if !ok || pos.Quantity.LessThan(sig.Quantity) {
			return nil, RejectInsufficientPosition
		}
	}

	return &types.Trade{
		ID:            uuid.New().String(),
		Symbol:        sig.Symbol,
		Side:          sig.Kind,
		Quantity:      sig.Quantity,
		ExecutedPrice: executed,
		Commission:    commission,
		SlippageCost:  executed.Sub(sig.Price).Abs().Mul(sig.Quantity),
		Reason:        sig.Reason,
		Timestamp:     ts,
	}, RejectNone
}
