package backtester

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

// tradingDaysPerYear annualizes per-bar return volatility for the Sharpe
// ratio.
const tradingDaysPerYear = 252

// Metrics holds the performance summary computed from a finished run.
// Every field degrades to zero on degenerate input rather than NaN or Inf.
type Metrics struct {
	TotalReturn      decimal.Decimal
	AnnualizedReturn decimal.Decimal
	SharpeRatio      decimal.Decimal
	MaxDrawdown      decimal.Decimal
	WinRate          decimal.Decimal
	ProfitFactor     decimal.Decimal
	TotalCommission  decimal.Decimal
	TotalSlippage    decimal.Decimal
}

// MetricsCalculator derives performance statistics from an equity curve and
// trade log. It holds no state and never mutates its inputs.
type MetricsCalculator struct{}

func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

func (mc *MetricsCalculator) Calculate(
	equity []types.EquityPoint,
	trades []types.Trade,
	initialCapital decimal.Decimal,
	start, end time.Time,
) Metrics {
	var m Metrics

	finalEquity := initialCapital
	if len(equity) > 0 {
		finalEquity = equity[len(equity)-1].TotalEquity
	}
	if initialCapital.IsPositive() {
		m.TotalReturn = finalEquity.Sub(initialCapital).Div(initialCapital)
	}
	m.AnnualizedReturn = mc.annualize(m.TotalReturn, start, end)
	m.SharpeRatio = mc.sharpe(equity)
	m.MaxDrawdown = mc.maxDrawdown(equity)

	var (
		wins, closes int
		grossProfit  decimal.Decimal
		grossLoss    decimal.Decimal
	)
	for i := range trades {
		t := &trades[i]
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		m.TotalSlippage = m.TotalSlippage.Add(t.SlippageCost)
		if t.Side != types.OrderSideSell {
			continue
		}
		closes++
		if t.RealizedPnL.IsPositive() {
			wins++
			grossProfit = grossProfit.Add(t.RealizedPnL)
		} else {
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
		}
	}
	if closes > 0 {
		m.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(closes)))
	}
	if grossLoss.IsPositive() {
		m.ProfitFactor = grossProfit.Div(grossLoss)
	}

	return m
}

func (mc *MetricsCalculator) annualize(totalReturn decimal.Decimal, start, end time.Time) decimal.Decimal {
	days := end.Sub(start).Hours() / 24
	if days <= 0 {
		return decimal.Zero
	}
	base := 1 + totalReturn.InexactFloat64()
	if base <= 0 {
		return decimal.NewFromInt(-1)
	}
	ann := math.Pow(base, 365.25/days) - 1
	if math.IsNaN(ann) || math.IsInf(ann, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(ann)
}

// sharpe computes the annualized Sharpe ratio from per-bar equity returns,
// assuming a zero risk-free rate.
func (mc *MetricsCalculator) sharpe(equity []types.EquityPoint) decimal.Decimal {
	if len(equity) < 3 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].TotalEquity
		if !prev.IsPositive() {
			continue
		}
		r := equity[i].TotalEquity.Sub(prev).Div(prev).InexactFloat64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return decimal.Zero
	}

	sharpe := mean / stddev * math.Sqrt(tradingDaysPerYear)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(sharpe)
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction of
// the running peak.
func (mc *MetricsCalculator) maxDrawdown(equity []types.EquityPoint) decimal.Decimal {
	if len(equity) == 0 {
		return decimal.Zero
	}
	peak := equity[0].TotalEquity
	maxDD := decimal.Zero
	for _, p := range equity {
		if p.TotalEquity.GreaterThan(peak) {
			peak = p.TotalEquity
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(p.TotalEquity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}
