// Package types provides shared type definitions for the backtest service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Timeframe represents the bar interval of a data feed
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	}
	return false
}

// Duration returns the bar interval. Unknown timeframes map to one minute.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Bar represents a single OHLCV observation for a symbol.
// Timestamps are strictly increasing per symbol across a feed.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is a strategy's request to buy or sell a quantity at a reference
// price. Signals are produced and consumed within one bar's processing.
type Signal struct {
	Kind     OrderSide       `json:"kind"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Reason   string          `json:"reason,omitempty"`
}

// Trade is the immutable record of one executed fill.
type Trade struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	Commission    decimal.Decimal `json:"commission"`
	SlippageCost  decimal.Decimal `json:"slippageCost"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Position is a read-only snapshot of one per-symbol holding.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageEntry decimal.Decimal `json:"averageEntryPrice"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
}

// EquityPoint represents one point on the equity curve.
type EquityPoint struct {
	Timestamp   time.Time       `json:"timestamp"`
	TotalEquity decimal.Decimal `json:"totalEquity"`
}

// JobStatus represents the lifecycle state of a backtest job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a snapshot of one asynchronous backtest execution.
type Job struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Progress     float64         `json:"progress"` // 0-1
	CurrentStep  string          `json:"currentStep"`
	Result       *BacktestResult `json:"result,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	SubmittedAt  time.Time       `json:"submittedAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}
