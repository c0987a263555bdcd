package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/cokepoppy/my-quant-sub002/internal/backtester"
	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

// closesFor extracts close prices from history for one symbol, oldest first.
func closesFor(history []types.Bar, symbol string) []decimal.Decimal {
	closes := make([]decimal.Decimal, 0, len(history))
	for i := range history {
		if history[i].Symbol == symbol {
			closes = append(closes, history[i].Close)
		}
	}
	return closes
}

func sma(closes []decimal.Decimal, period int) decimal.Decimal {
	sum := decimal.Zero
	for i := len(closes) - period; i < len(closes); i++ {
		sum = sum.Add(closes[i])
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// Momentum buys when the return over the lookback window exceeds the
// threshold and sells when it falls below the negative threshold.
type Momentum struct {
	lookback  int
	threshold decimal.Decimal
	quantity  decimal.Decimal
}

func NewMomentum(params map[string]interface{}) (backtester.Strategy, error) {
	lookback, err := intParam(params, "lookback", 14)
	if err != nil {
		return nil, err
	}
	threshold, err := decimalParam(params, "threshold", decimal.NewFromFloat(0.02))
	if err != nil {
		return nil, err
	}
	quantity, err := decimalParam(params, "quantity", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	return &Momentum{lookback: lookback, threshold: threshold, quantity: quantity}, nil
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error) {
	closes := closesFor(history, bar.Symbol)
	if len(closes) <= s.lookback {
		return nil, nil
	}

	past := closes[len(closes)-1-s.lookback]
	if past.IsZero() {
		return nil, nil
	}
	momentum := bar.Close.Sub(past).Div(past)

	switch {
	case momentum.GreaterThan(s.threshold):
		return []types.Signal{{
			Kind:     types.OrderSideBuy,
			Symbol:   bar.Symbol,
			Quantity: s.quantity,
			Price:    bar.Close,
			Reason:   "momentum above threshold",
		}}, nil
	case momentum.LessThan(s.threshold.Neg()):
		return []types.Signal{{
			Kind:     types.OrderSideSell,
			Symbol:   bar.Symbol,
			Quantity: s.quantity,
			Price:    bar.Close,
			Reason:   "momentum below threshold",
		}}, nil
	}
	return nil, nil
}

// SMACross trades moving average crossovers: buy when the fast average
// crosses above the slow one, sell on the opposite cross.
type SMACross struct {
	fast     int
	slow     int
	quantity decimal.Decimal
}

func NewSMACross(params map[string]interface{}) (backtester.Strategy, error) {
	fast, err := intParam(params, "fast", 10)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow", 30)
	if err != nil {
		return nil, err
	}
	quantity, err := decimalParam(params, "quantity", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	return &SMACross{fast: fast, slow: slow, quantity: quantity}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error) {
	closes := closesFor(history, bar.Symbol)
	if len(closes) <= s.slow {
		return nil, nil
	}

	fastNow := sma(closes, s.fast)
	slowNow := sma(closes, s.slow)
	prev := closes[:len(closes)-1]
	fastPrev := sma(prev, s.fast)
	slowPrev := sma(prev, s.slow)

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)

	switch {
	case crossedUp:
		return []types.Signal{{
			Kind:     types.OrderSideBuy,
			Symbol:   bar.Symbol,
			Quantity: s.quantity,
			Price:    bar.Close,
			Reason:   "fast sma crossed above slow",
		}}, nil
	case crossedDown:
		return []types.Signal{{
			Kind:     types.OrderSideSell,
			Symbol:   bar.Symbol,
			Quantity: s.quantity,
			Price:    bar.Close,
			Reason:   "fast sma crossed below slow",
		}}, nil
	}
	return nil, nil
}

// BuyAndHold buys once per symbol at its first bar and holds until the run
// liquidates at the end of the period.
type BuyAndHold struct {
	quantity decimal.Decimal
	bought   map[string]bool
}

func NewBuyAndHold(params map[string]interface{}) (backtester.Strategy, error) {
	quantity, err := decimalParam(params, "quantity", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	return &BuyAndHold{quantity: quantity, bought: make(map[string]bool)}, nil
}

func (s *BuyAndHold) Name() string { return "buy_and_hold" }

func (s *BuyAndHold) OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error) {
	if s.bought[bar.Symbol] {
		return nil, nil
	}
	s.bought[bar.Symbol] = true
	return []types.Signal{{
		Kind:     types.OrderSideBuy,
		Symbol:   bar.Symbol,
		Quantity: s.quantity,
		Price:    bar.Close,
		Reason:   "initial entry",
	}}, nil
}

// MeanReversion buys below the lower Bollinger band and sells above the
// upper one.
type MeanReversion struct {
	period     int
	stdDevMult decimal.Decimal
	quantity   decimal.Decimal
}

func NewMeanReversion(params map[string]interface{}) (backtester.Strategy, error) {
	period, err := intParam(params, "period", 20)
	if err != nil {
		return nil, err
	}
	stdDevMult, err := decimalParam(params, "std_dev_mult", decimal.NewFromFloat(2.0))
	if err != nil {
		return nil, err
	}
	quantity, err := decimalParam(params, "quantity", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	return &MeanReversion{period: period, stdDevMult: stdDevMult, quantity: quantity}, nil
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error) {
	closes := closesFor(history, bar.Symbol)
	if len(closes) < s.period {
		return nil, nil
	}

	avg := sma(closes, s.period)
	variance := decimal.Zero
	for i := len(closes) - s.period; i < len(closes); i++ {
		diff := closes[i].Sub(avg)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(s.period)))
	stdDev := sqrtDecimal(variance)
	if stdDev.IsZero() {
		return nil, nil
	}

	upper := avg.Add(stdDev.Mul(s.stdDevMult))
	lower := avg.Sub(stdDev.Mul(s.stdDevMult))

	switch {
	case bar.Close.LessThan(lower):
		return []types.Signal{{
			Kind:     types.OrderSideBuy,
			Symbol:   bar.Symbol,
			Quantity: s.quantity,
			Price:    bar.Close,
			Reason:   "price below lower band",
		}}, nil
	case bar.Close.GreaterThan(upper):
		return []types.Signal{{
			Kind:     types.OrderSideSell,
			Symbol:   bar.Symbol,
			Quantity: s.quantity,
			Price:    bar.Close,
			Reason:   "price above upper band",
		}}, nil
	}
	return nil, nil
}

// sqrtDecimal approximates the square root with Newton's method, which is
// plenty for band widths.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	x := d.Div(decimal.NewFromInt(2))
	two := decimal.NewFromInt(2)
	for i := 0; i < 10; i++ {
		if x.IsZero() {
			return decimal.Zero
		}
		x = x.Add(d.Div(x)).Div(two)
	}
	return x
}
