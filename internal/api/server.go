// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cokepoppy/my-quant-sub002/internal/config"
	"github.com/cokepoppy/my-quant-sub002/internal/data"
	"github.com/cokepoppy/my-quant-sub002/internal/jobs"
	"github.com/cokepoppy/my-quant-sub002/internal/strategy"
	"github.com/cokepoppy/my-quant-sub002/pkg/types"
)

// Server is the HTTP/WebSocket API server. It resolves strategies, loads
// bars, and submits backtest jobs to the manager; job events reach
// WebSocket clients through the manager's listener interface.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	cfg        config.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	store    *data.Store
	registry *strategy.Registry
	manager  *jobs.Manager
	gatherer prometheus.Gatherer
}

func NewServer(
	logger *zap.Logger,
	cfg config.ServerConfig,
	store *data.Store,
	registry *strategy.Registry,
	manager *jobs.Manager,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   mux.NewRouter(),
		clients:  make(map[string]*Client),
		store:    store,
		registry: registry,
		manager:  manager,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	manager.AddListener(s)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol:.+}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/strategies", s.handleGetStrategies).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs", s.handleListJobs).Methods("GET")

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the full HTTP handler including CORS, for serving and for
// tests.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", s.cfg.Addr()))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.store.AvailableSymbols()
	if len(symbols) == 0 {
		symbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	timeframe := types.Timeframe(r.URL.Query().Get("timeframe"))
	if timeframe == "" {
		timeframe = types.Timeframe1h
	}
	if !timeframe.Valid() {
		http.Error(w, "invalid timeframe", http.StatusBadRequest)
		return
	}

	end := time.Now()
	start := end.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid start time", http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid end time", http.StatusBadRequest)
			return
		}
		end = t
	}

	bars, err := s.store.LoadBars(r.Context(), symbol, timeframe, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      bars,
		"count":     len(bars),
	})
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": s.registry.List(),
	})
}

// RunRequest is the body of POST /api/v1/backtest/run.
type RunRequest struct {
	Strategy       string                 `json:"strategy"`
	Params         map[string]interface{} `json:"params,omitempty"`
	Symbols        []string               `json:"symbols"`
	Timeframe      types.Timeframe        `json:"timeframe"`
	StartDate      time.Time              `json:"startDate"`
	EndDate        time.Time              `json:"endDate"`
	InitialCapital decimal.Decimal        `json:"initialCapital"`
	CommissionRate decimal.Decimal        `json:"commissionRate"`
	SlippageRate   decimal.Decimal        `json:"slippageRate"`
	Leverage       int                    `json:"leverage"`
}

func (req *RunRequest) applyDefaults() {
	if req.Timeframe == "" {
		req.Timeframe = types.Timeframe1h
	}
	if req.EndDate.IsZero() {
		req.EndDate = time.Now()
	}
	if req.StartDate.IsZero() {
		req.StartDate = req.EndDate.AddDate(0, -1, 0)
	}
	if req.InitialCapital.IsZero() {
		req.InitialCapital = decimal.NewFromInt(10000)
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.applyDefaults()

	strat, err := s.registry.Create(req.Strategy, req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := &types.BacktestConfig{
		InitialCapital: req.InitialCapital,
		CommissionRate: req.CommissionRate,
		SlippageRate:   req.SlippageRate,
		Leverage:       req.Leverage,
		Symbols:        req.Symbols,
		Timeframe:      req.Timeframe,
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bars, err := s.loadFeed(r.Context(), cfg, req.StartDate, req.EndDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id, err := s.manager.Submit(cfg, bars, strat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  id,
		"status": types.JobStatusPending,
	})
}

// loadFeed merges each symbol's bars into one chronological feed.
func (s *Server) loadFeed(ctx context.Context, cfg *types.BacktestConfig, start, end time.Time) ([]types.Bar, error) {
	var feed []types.Bar
	for _, symbol := range cfg.Symbols {
		bars, err := s.store.LoadBars(ctx, symbol, cfg.Timeframe, start, end)
		if err != nil {
			return nil, err
		}
		feed = append(feed, bars...)
	}
	sortBars(feed)
	return feed, nil
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.manager.Get(id)
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.manager.Get(id)
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}
	if job.Result == nil {
		http.Error(w, "backtest has no result yet", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"trades": job.Result.Trades,
		"count":  len(job.Result.Trades),
	})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.manager.Cancel(id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrJobFinished):
		http.Error(w, "backtest already finished", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "cancelling",
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := s.manager.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sortBars(bars []types.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}
