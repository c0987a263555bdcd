// Package jobs runs backtests asynchronously and tracks their lifecycle
// from submission through completion, failure, or cancellation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cokepoppy/my-quant-sub002/internal/backtester"
	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobFinished    = errors.New("job already finished")
	ErrManagerClosed  = errors.New("job manager is closed")
	ErrNoBarsProvided = errors.New("no bars provided")
)

// Config controls manager concurrency and event buffering.
type Config struct {
	MaxConcurrent int
	EventBuffer   int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: runtime.NumCPU(),
		EventBuffer:   256,
	}
}

// Manager owns all backtest jobs. Each submitted job gets its own engine,
// ledger, and goroutine; a semaphore bounds how many run at once. Events are
// forwarded to listeners through a buffered queue that drops on overflow so
// a stalled consumer can never block a running backtest.
type Manager struct {
	logger  *zap.Logger
	cfg     Config
	metrics *Metrics

	mu        sync.RWMutex
	jobs      map[string]*jobHandle
	listeners []Listener

	events chan Event
	sem    chan struct{}

	wg         sync.WaitGroup
	dispatched chan struct{}
	closed     atomic.Bool
}

type jobHandle struct {
	mu     sync.Mutex
	job    types.Job
	cancel context.CancelFunc
}

func (h *jobHandle) snapshot() types.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

func NewManager(logger *zap.Logger, cfg Config, reg prometheus.Registerer) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 256
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Manager{
		logger:     logger,
		cfg:        cfg,
		metrics:    NewMetrics(reg),
		jobs:       make(map[string]*jobHandle),
		events:     make(chan Event, cfg.EventBuffer),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		dispatched: make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// AddListener registers a listener for all job events.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Submit validates the request and, if it is well-formed, registers a
// pending job and starts it in the background. Validation failures are
// returned synchronously and no job is created.
func (m *Manager) Submit(cfg *types.BacktestConfig, bars []types.Bar, strat backtester.Strategy) (string, error) {
	if m.closed.Load() {
		return "", ErrManagerClosed
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if len(bars) == 0 {
		return "", ErrNoBarsProvided
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &jobHandle{
		job: types.Job{
			ID:          uuid.New().String(),
			Status:      types.JobStatusPending,
			CurrentStep: "queued",
			SubmittedAt: time.Now(),
		},
		cancel: cancel,
	}

	m.mu.Lock()
	m.jobs[h.job.ID] = h
	m.mu.Unlock()

	m.metrics.Submitted.Inc()
	m.emitStatus(h)
	m.logger.Info("job submitted",
		zap.String("jobId", h.job.ID),
		zap.String("strategy", strat.Name()),
		zap.Int("bars", len(bars)))

	m.wg.Add(1)
	go m.run(ctx, h, cfg, bars, strat)

	return h.job.ID, nil
}

// Cancel requests cooperative cancellation. The job transitions to cancelled
// once its loop observes the request, so a subsequent Get may still briefly
// report it as running.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	h, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}

	h.mu.Lock()
	terminal := h.job.Status.Terminal()
	h.mu.Unlock()
	if terminal {
		return ErrJobFinished
	}

	h.cancel()
	m.logger.Info("job cancellation requested", zap.String("jobId", id))
	return nil
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (types.Job, bool) {
	m.mu.RLock()
	h, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return types.Job{}, false
	}
	return h.snapshot(), true
}

// List returns snapshots of all jobs, most recently submitted first.
func (m *Manager) List() []types.Job {
	m.mu.RLock()
	handles := make([]*jobHandle, 0, len(m.jobs))
	for _, h := range m.jobs {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	out := make([]types.Job, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Close cancels every unfinished job, waits for their goroutines, and stops
// event dispatch. The manager rejects submissions afterwards.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.mu.RLock()
	for _, h := range m.jobs {
		h.cancel()
	}
	m.mu.RUnlock()

	m.wg.Wait()
	close(m.events)
	<-m.dispatched
}

func (m *Manager) run(ctx context.Context, h *jobHandle, cfg *types.BacktestConfig, bars []types.Bar, strat backtester.Strategy) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job panicked",
				zap.String("jobId", h.job.ID),
				zap.Any("panic", r))
			m.finish(h, types.JobStatusFailed, nil, fmt.Sprintf("internal error: %v", r))
			m.metrics.Failed.Inc()
		}
	}()

	// Wait for a slot; a pending job can still be cancelled here.
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		m.finish(h, types.JobStatusCancelled, nil, "")
		m.metrics.Cancelled.Inc()
		return
	}

	h.mu.Lock()
	now := time.Now()
	h.job.Status = types.JobStatusRunning
	h.job.StartedAt = &now
	h.job.CurrentStep = "initializing engine"
	h.mu.Unlock()
	m.metrics.Running.Inc()
	defer m.metrics.Running.Dec()
	m.emitStatus(h)

	engine, err := backtester.NewEngine(m.logger.Named("engine"), cfg)
	if err != nil {
		m.finish(h, types.JobStatusFailed, nil, err.Error())
		m.metrics.Failed.Inc()
		return
	}

	engine.SetProgressFunc(func(progress float64, step string) {
		h.mu.Lock()
		if progress > h.job.Progress {
			h.job.Progress = progress
		}
		h.job.CurrentStep = step
		h.mu.Unlock()
		m.emit(Event{Type: EventProgress, JobID: h.job.ID, Progress: progress, Step: step})
	})
	engine.SetLogFunc(func(level, message string) {
		m.emit(Event{Type: EventLog, JobID: h.job.ID, Level: level, Message: message})
	})

	result, err := engine.Run(ctx, bars, strat)
	switch {
	case err == nil:
		h.mu.Lock()
		h.job.Progress = 1.0
		h.mu.Unlock()
		m.finish(h, types.JobStatusCompleted, result, "")
		m.metrics.Completed.Inc()
	case errors.Is(err, backtester.ErrCancelled):
		m.finish(h, types.JobStatusCancelled, result, "")
		m.metrics.Cancelled.Inc()
	default:
		m.finish(h, types.JobStatusFailed, nil, err.Error())
		m.metrics.Failed.Inc()
	}
}

func (m *Manager) finish(h *jobHandle, status types.JobStatus, result *types.BacktestResult, errMsg string) {
	h.mu.Lock()
	now := time.Now()
	h.job.Status = status
	h.job.Result = result
	h.job.ErrorMessage = errMsg
	h.job.FinishedAt = &now
	h.job.CurrentStep = string(status)
	h.mu.Unlock()

	m.logger.Info("job finished",
		zap.String("jobId", h.job.ID),
		zap.String("status", string(status)))
	m.emitStatus(h)
}

func (m *Manager) emitStatus(h *jobHandle) {
	snap := h.snapshot()
	m.emit(Event{Type: EventStatus, JobID: snap.ID, Job: &snap})
}

// emit never blocks: when the queue is full the event is dropped and
// counted.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.metrics.EventsDropped.Inc()
	}
}

func (m *Manager) dispatch() {
	defer close(m.dispatched)
	for ev := range m.events {
		m.mu.RLock()
		listeners := make([]Listener, len(m.listeners))
		copy(listeners, m.listeners)
		m.mu.RUnlock()

		for _, l := range listeners {
			l.OnJobEvent(ev)
		}
	}
}
