// Package strategy provides the built-in trading strategies and the registry
// that backtest jobs resolve them from.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cokepoppy/my-quant-sub002/internal/backtester"
)

// ErrUnknownStrategy is returned by Create for unregistered names.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Factory builds a fresh strategy instance from user-supplied parameters.
// Unknown parameter keys are ignored; invalid values are an error.
type Factory func(params map[string]interface{}) (backtester.Strategy, error)

// Registry maps strategy names to factories. Each Create call returns a new
// instance so concurrent jobs never share strategy state.
type Registry struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}

	r.Register("momentum", NewMomentum)
	r.Register("sma_cross", NewSMACross)
	r.Register("buy_and_hold", NewBuyAndHold)
	r.Register("mean_reversion", NewMeanReversion)

	return r
}

// Register adds or replaces a strategy factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the named strategy with the given parameters.
func (r *Registry) Create(name string, params map[string]interface{}) (backtester.Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return factory(params)
}

// List returns the registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected number, got %T", key, v)
	}
}

func decimalParam(params map[string]interface{}, key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parameter %q: %w", key, err)
		}
		return d, nil
	case decimal.Decimal:
		return n, nil
	default:
		return decimal.Zero, fmt.Errorf("parameter %q: expected number, got %T", key, v)
	}
}
