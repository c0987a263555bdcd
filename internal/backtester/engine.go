package backtester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

var (
	// ErrCancelled is returned by Run when the context is cancelled between
	// bars. The accompanying result carries all state accumulated so far.
	ErrCancelled = errors.New("backtest cancelled")

	ErrNoBars = errors.New("no bars to process")
)

// ProgressFunc receives progress in [0,1] and a human-readable step
// description. It is invoked from the run goroutine and must not block.
type ProgressFunc func(progress float64, step string)

// LogFunc receives run-scoped log lines for forwarding to job listeners.
type LogFunc func(level, message string)

// Strategy produces signals from bars. OnBar sees history up to and
// including the current bar and must not retain or mutate the slice.
type Strategy interface {
	Name() string
	OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error)
}

// Engine replays bars chronologically through a strategy, fills the
// resulting signals against its ledger, and produces a performance summary.
// Each engine serves exactly one run.
type Engine struct {
	logger *zap.Logger
	config *types.BacktestConfig

	fill    *FillModel
	ledger  *Ledger
	calc    *MetricsCalculator
	onProg  ProgressFunc
	onLog   LogFunc

	trades      []types.Trade
	equityCurve []types.EquityPoint
	lastPrices  map[string]decimal.Decimal
	rejections  map[RejectReason]int
}

func NewEngine(logger *zap.Logger, config *types.BacktestConfig) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	return &Engine{
		logger:     logger,
		config:     config,
		fill:       NewFillModel(config.CommissionRate, config.SlippageRate),
		ledger:     NewLedger(config.InitialCapital),
		calc:       NewMetricsCalculator(),
		lastPrices: make(map[string]decimal.Decimal),
		rejections: make(map[RejectReason]int),
	}, nil
}

// SetProgressFunc registers a progress callback. Must be called before Run.
func (e *Engine) SetProgressFunc(fn ProgressFunc) { e.onProg = fn }

// SetLogFunc registers a log callback. Must be called before Run.
func (e *Engine) SetLogFunc(fn LogFunc) { e.onLog = fn }

// Run replays bars through strat. Bars must be sorted by timestamp. On
// cancellation it returns the partial result together with ErrCancelled;
// open positions are left as they stand and no liquidation is performed.
func (e *Engine) Run(ctx context.Context, bars []types.Bar, strat Strategy) (*types.BacktestResult, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}

	n := len(bars)
	every := n / 200
	if every < 1 {
		every = 1
	}

	e.logf("info", fmt.Sprintf("starting backtest: strategy=%s bars=%d capital=%s",
		strat.Name(), n, e.config.InitialCapital.String()))

	e.equityCurve = append(e.equityCurve, types.EquityPoint{
		Timestamp:   bars[0].Timestamp,
		TotalEquity: e.config.InitialCapital,
	})

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			e.logf("warn", fmt.Sprintf("cancelled at bar %d/%d", i, n))
			return e.buildResult(bars[0].Timestamp, bars[i].Timestamp), ErrCancelled
		default:
		}

		bar := bars[i]
		e.lastPrices[bar.Symbol] = bar.Close

		for _, sig := range e.invokeStrategy(strat, bar, i, bars[:i+1]) {
			e.processSignal(sig, bar)
		}

		e.equityCurve = append(e.equityCurve, types.EquityPoint{
			Timestamp:   bar.Timestamp,
			TotalEquity: e.ledger.TotalEquity(e.priceOf),
		})

		if (i+1)%every == 0 || i == n-1 {
			e.report(float64(i+1)/float64(n), fmt.Sprintf("processing bar %d/%d", i+1, n))
		}
	}

	e.liquidate(bars[n-1])

	result := e.buildResult(bars[0].Timestamp, bars[n-1].Timestamp)
	rejected := 0
	for _, c := range e.rejections {
		rejected += c
	}
	e.logf("info", fmt.Sprintf("backtest finished: trades=%d rejected=%d finalCapital=%s",
		len(result.Trades), rejected, result.FinalCapital.String()))
	return result, nil
}

// invokeStrategy shields the run from a panicking strategy: the panic is
// logged and the bar contributes no signals.
func (e *Engine) invokeStrategy(strat Strategy, bar types.Bar, i int, history []types.Bar) (signals []types.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("strategy panicked",
				zap.String("strategy", strat.Name()),
				zap.Int("bar", i),
				zap.Any("panic", r))
			e.logf("warn", fmt.Sprintf("strategy panicked at bar %d: %v", i, r))
			signals = nil
		}
	}()

	signals, err := strat.OnBar(bar, i, history)
	if err != nil {
		e.logf("warn", fmt.Sprintf("strategy error at bar %d: %v", i, err))
		return nil
	}

	kept := signals[:0]
	for _, sig := range signals {
		if sig.Kind != types.OrderSideBuy && sig.Kind != types.OrderSideSell {
			continue
		}
		if !e.config.HasSymbol(sig.Symbol) {
			e.logger.Debug("dropping signal for symbol outside run universe",
				zap.String("symbol", sig.Symbol))
			continue
		}
		kept = append(kept, sig)
	}
	return kept
}

func (e *Engine) processSignal(sig types.Signal, bar types.Bar) {
	trade, reject := e.fill.Fill(sig, bar.Timestamp, e.ledger)
	if reject != RejectNone {
		e.rejections[reject]++
		e.logf("warn", fmt.Sprintf("signal rejected: %s %s %s qty=%s",
			reject, sig.Kind, sig.Symbol, sig.Quantity.String()))
		return
	}

	pnl, err := e.ledger.ApplyFill(trade)
	if err != nil {
		e.logf("warn", fmt.Sprintf("fill could not be applied: %v", err))
		return
	}
	trade.RealizedPnL = pnl
	e.trades = append(e.trades, *trade)
}

// liquidate closes every open position at its last observed price so the
// final capital is fully realized in cash.
func (e *Engine) liquidate(lastBar types.Bar) {
	for _, pos := range e.ledger.Positions() {
		price, ok := e.lastPrices[pos.Symbol]
		if !ok {
			price = pos.AverageEntry
		}
		e.processSignal(types.Signal{
			Kind:     types.OrderSideSell,
			Symbol:   pos.Symbol,
			Quantity: pos.Quantity,
			Price:    price,
			Reason:   "end of period liquidation",
		}, lastBar)
	}

	if len(e.equityCurve) > 0 {
		e.equityCurve[len(e.equityCurve)-1].TotalEquity = e.ledger.TotalEquity(e.priceOf)
	}
}

func (e *Engine) buildResult(start, end time.Time) *types.BacktestResult {
	final := e.ledger.TotalEquity(e.priceOf)
	m := e.calc.Calculate(e.equityCurve, e.trades, e.config.InitialCapital, start, end)

	return &types.BacktestResult{
		Trades:           append([]types.Trade(nil), e.trades...),
		EquityCurve:      append([]types.EquityPoint(nil), e.equityCurve...),
		InitialCapital:   e.config.InitialCapital,
		FinalCapital:     final,
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		SharpeRatio:      m.SharpeRatio,
		MaxDrawdown:      m.MaxDrawdown,
		WinRate:          m.WinRate,
		ProfitFactor:     m.ProfitFactor,
		TotalCommission:  m.TotalCommission,
		TotalSlippage:    m.TotalSlippage,
		StartDate:        start,
		EndDate:          end,
	}
}

func (e *Engine) priceOf(symbol string) (decimal.Decimal, bool) {
	p, ok := e.lastPrices[symbol]
	return p, ok
}

func (e *Engine) report(progress float64, step string) {
	if e.onProg != nil {
		e.onProg(progress, step)
	}
}

func (e *Engine) logf(level, message string) {
	if e.onLog != nil {
		e.onLog(level, message)
	}
}
