// Package types provides configuration and result types for the backtest service.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig is the immutable input of one backtest run.
type BacktestConfig struct {
	InitialCapital decimal.Decimal `json:"initialCapital"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	SlippageRate   decimal.Decimal `json:"slippageRate"`
	Leverage       int             `json:"leverage"`
	Symbols        []string        `json:"symbols"`
	Timeframe      Timeframe       `json:"timeframe"`
}

// Validation errors returned before a simulation is allowed to start.
var (
	ErrNonPositiveCapital = errors.New("initial capital must be positive")
	ErrUnknownTimeframe   = errors.New("unknown timeframe")
	ErrNoSymbols          = errors.New("at least one symbol is required")
)

var one = decimal.NewFromInt(1)

// Validate rejects fatal configuration errors before the simulation loop
// starts. A config failing here never produces a running job.
func (c *BacktestConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return ErrNonPositiveCapital
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(one) {
		return fmt.Errorf("commission rate must be in [0,1], got %s", c.CommissionRate)
	}
	if c.SlippageRate.IsNegative() || c.SlippageRate.GreaterThan(one) {
		return fmt.Errorf("slippage rate must be in [0,1], got %s", c.SlippageRate)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1, got %d", c.Leverage)
	}
	if len(c.Symbols) == 0 {
		return ErrNoSymbols
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTimeframe, c.Timeframe)
	}
	return nil
}

// HasSymbol reports whether the config covers the given symbol.
func (c *BacktestConfig) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// BacktestResult holds everything derived from a completed run. It is
// immutable once computed.
type BacktestResult struct {
	Trades           []Trade         `json:"trades"`
	EquityCurve      []EquityPoint   `json:"equityCurve"`
	InitialCapital   decimal.Decimal `json:"initialCapital"`
	FinalCapital     decimal.Decimal `json:"finalCapital"`
	TotalReturn      decimal.Decimal `json:"totalReturn"`
	AnnualizedReturn decimal.Decimal `json:"annualizedReturn"`
	SharpeRatio      decimal.Decimal `json:"sharpeRatio"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	WinRate          decimal.Decimal `json:"winRate"`
	ProfitFactor     decimal.Decimal `json:"profitFactor"`
	TotalCommission  decimal.Decimal `json:"totalCommission"`
	TotalSlippage    decimal.Decimal `json:"totalSlippage"`
	StartDate        time.Time       `json:"startDate"`
	EndDate          time.Time       `json:"endDate"`
}
