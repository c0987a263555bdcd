package data

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func sampleBars(symbol string, n int) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := range bars {
		price := decimal.NewFromInt(int64(100 + i))
		bars[i] = types.Bar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return bars
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	bars := sampleBars("BTC/USDT", 10)

	if err := s.SaveBars("BTC/USDT", types.Timeframe1h, bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	loaded, err := s.LoadBars(context.Background(), "BTC/USDT", types.Timeframe1h,
		bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(loaded) != 10 {
		t.Fatalf("loaded %d bars, want 10", len(loaded))
	}
	if !loaded[0].Close.Equal(bars[0].Close) {
		t.Errorf("first close = %s, want %s", loaded[0].Close, bars[0].Close)
	}
}

func TestStoreFiltersTimeRange(t *testing.T) {
	s := newTestStore(t)
	bars := sampleBars("BTC/USDT", 10)

	if err := s.SaveBars("BTC/USDT", types.Timeframe1h, bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	loaded, err := s.LoadBars(context.Background(), "BTC/USDT", types.Timeframe1h,
		bars[2].Timestamp, bars[5].Timestamp)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("loaded %d bars, want 4", len(loaded))
	}
	if !loaded[0].Timestamp.Equal(bars[2].Timestamp) {
		t.Errorf("range start = %s, want %s", loaded[0].Timestamp, bars[2].Timestamp)
	}
}

func TestStoreGeneratesDeterministicSampleData(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	first, err := s.LoadBars(context.Background(), "ETH/USDT", types.Timeframe1h, start, end)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("no sample data generated")
	}

	s.ClearCache()
	second, err := s.LoadBars(context.Background(), "ETH/USDT", types.Timeframe1h, start, end)
	if err != nil {
		t.Fatalf("LoadBars second: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("sample lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Close.Equal(second[i].Close) {
			t.Fatalf("sample data not deterministic at bar %d", i)
		}
	}

	for _, bar := range first {
		if bar.Symbol != "ETH/USDT" {
			t.Fatalf("sample bar has symbol %q", bar.Symbol)
		}
		if bar.High.LessThan(bar.Low) {
			t.Fatalf("bar high %s below low %s", bar.High, bar.Low)
		}
	}
}

func TestStoreMetadataSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.SaveBars("BTC/USDT", types.Timeframe1h, sampleBars("BTC/USDT", 5)); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	reopened, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore reopen: %v", err)
	}

	symbols := reopened.AvailableSymbols()
	if len(symbols) != 1 || symbols[0] != "BTC/USDT" {
		t.Errorf("AvailableSymbols() = %v, want [BTC/USDT]", symbols)
	}

	start, end, err := reopened.DataRange("BTC/USDT")
	if err != nil {
		t.Fatalf("DataRange: %v", err)
	}
	if !end.After(start) {
		t.Errorf("range end %s not after start %s", end, start)
	}
}

func TestStoreLoadRespectsContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.LoadBars(ctx, "BTC/USDT", types.Timeframe1h, time.Now(), time.Now()); err == nil {
		t.Error("expected error from cancelled context")
	}
}
