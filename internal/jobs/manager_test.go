package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(zap.NewNop(), cfg, prometheus.NewRegistry())
	t.Cleanup(m.Close)
	return m
}

func testConfig() *types.BacktestConfig {
	return &types.BacktestConfig{
		InitialCapital: decimal.NewFromInt(10000),
		CommissionRate: decimal.Zero,
		SlippageRate:   decimal.Zero,
		Leverage:       1,
		Symbols:        []string{"BTC/USDT"},
		Timeframe:      types.Timeframe1d,
	}
}

func testBars(n int) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := range bars {
		price := decimal.NewFromInt(int64(100 + i))
		bars[i] = types.Bar{
			Symbol:    "BTC/USDT",
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1),
		}
	}
	return bars
}

// idle emits no signals.
type idle struct{}

func (idle) Name() string { return "idle" }

func (idle) OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error) {
	return nil, nil
}

// gated blocks inside OnBar until released, letting tests hold a job
// mid-run.
type gated struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGated() *gated {
	return &gated{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gated) Name() string { return "gated" }

func (g *gated) OnBar(bar types.Bar, index int, history []types.Bar) ([]types.Signal, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return nil, nil
}

func waitForStatus(t *testing.T, m *Manager, id string, want types.JobStatus) types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := m.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := m.Get(id)
	t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
	return types.Job{}
}

func TestSubmitRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	bad := testConfig()
	bad.InitialCapital = decimal.Zero
	if _, err := m.Submit(bad, testBars(3), idle{}); !errors.Is(err, types.ErrNonPositiveCapital) {
		t.Errorf("err = %v, want ErrNonPositiveCapital", err)
	}
	if _, err := m.Submit(testConfig(), nil, idle{}); !errors.Is(err, ErrNoBarsProvided) {
		t.Errorf("err = %v, want ErrNoBarsProvided", err)
	}

	if jobs := m.List(); len(jobs) != 0 {
		t.Errorf("rejected submissions created %d jobs", len(jobs))
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	id, err := m.Submit(testConfig(), testBars(5), idle{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := waitForStatus(t, m, id, types.JobStatusCompleted)
	if job.Result == nil {
		t.Fatal("completed job has no result")
	}
	if job.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", job.Progress)
	}
	if !job.Result.FinalCapital.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("final capital = %s, want 10000", job.Result.FinalCapital)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("completed job missing timestamps")
	}
}

func TestCancelRunningJobKeepsPartialResult(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	strat := newGated()
	id, err := m.Submit(testConfig(), testBars(10), strat)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-strat.entered
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(strat.release)

	job := waitForStatus(t, m, id, types.JobStatusCancelled)
	if job.Result == nil {
		t.Error("cancelled job should keep its partial result")
	}
	if job.FinishedAt == nil {
		t.Error("cancelled job missing finish timestamp")
	}
}

func TestCancelErrors(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	if err := m.Cancel("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(missing) = %v, want ErrJobNotFound", err)
	}

	id, err := m.Submit(testConfig(), testBars(3), idle{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, m, id, types.JobStatusCompleted)

	if err := m.Cancel(id); !errors.Is(err, ErrJobFinished) {
		t.Errorf("Cancel(finished) = %v, want ErrJobFinished", err)
	}
}

func TestConcurrencyLimitQueuesJobs(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1, EventBuffer: 64})

	first := newGated()
	firstID, err := m.Submit(testConfig(), testBars(3), first)
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	<-first.entered

	secondID, err := m.Submit(testConfig(), testBars(3), idle{})
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	// The second job cannot start while the first holds the only slot.
	time.Sleep(50 * time.Millisecond)
	if job, _ := m.Get(secondID); job.Status != types.JobStatusPending {
		t.Errorf("second job status = %s, want pending", job.Status)
	}

	close(first.release)
	waitForStatus(t, m, firstID, types.JobStatusCompleted)
	waitForStatus(t, m, secondID, types.JobStatusCompleted)
}

func TestCancelPendingJob(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1, EventBuffer: 64})

	blocker := newGated()
	blockerID, err := m.Submit(testConfig(), testBars(3), blocker)
	if err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	<-blocker.entered

	pendingID, err := m.Submit(testConfig(), testBars(3), idle{})
	if err != nil {
		t.Fatalf("Submit pending: %v", err)
	}
	if err := m.Cancel(pendingID); err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}

	job := waitForStatus(t, m, pendingID, types.JobStatusCancelled)
	if job.StartedAt != nil {
		t.Error("job cancelled while pending should never start")
	}

	close(blocker.release)
	waitForStatus(t, m, blockerID, types.JobStatusCompleted)
}

func TestListOrdersByMostRecent(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.Submit(testConfig(), testBars(2), idle{})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	jobs := m.List()
	if len(jobs) != 3 {
		t.Fatalf("List() = %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != ids[2] {
		t.Errorf("most recent job first: got %s, want %s", jobs[0].ID, ids[2])
	}
}

func TestListenerObservesLifecycle(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig(), prometheus.NewRegistry())

	var mu sync.Mutex
	var events []Event
	m.AddListener(ListenerFunc(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	id, err := m.Submit(testConfig(), testBars(4), idle{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, m, id, types.JobStatusCompleted)

	// Close drains the event queue before returning.
	m.Close()

	mu.Lock()
	defer mu.Unlock()

	var sawRunning, sawCompleted, sawFullProgress bool
	for _, ev := range events {
		switch ev.Type {
		case EventStatus:
			if ev.Job == nil {
				t.Fatal("status event without job snapshot")
			}
			if ev.Job.Status == types.JobStatusRunning {
				sawRunning = true
			}
			if ev.Job.Status == types.JobStatusCompleted {
				sawCompleted = true
			}
		case EventProgress:
			if ev.Progress == 1.0 {
				sawFullProgress = true
			}
		}
	}
	if !sawRunning || !sawCompleted {
		t.Errorf("lifecycle events incomplete: running=%v completed=%v", sawRunning, sawCompleted)
	}
	if !sawFullProgress {
		t.Error("no progress event reached 1.0")
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig(), prometheus.NewRegistry())
	m.Close()

	if _, err := m.Submit(testConfig(), testBars(2), idle{}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("err = %v, want ErrManagerClosed", err)
	}
}
