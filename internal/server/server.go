package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/QUADRA/internal/benchmarks"
	"github.com/copyleftdev/QUADRA/internal/config"
	apperrors "github.com/copyleftdev/QUADRA/internal/errors"
	"github.com/copyleftdev/QUADRA/internal/logging"
	"github.com/copyleftdev/QUADRA/internal/optimization"
	"github.com/copyleftdev/QUADRA/internal/optimization/trustregion"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JobState represents the state of an optimization job.
// It tracks the progress, status, and results of one optimization run.
// The state is guarded by the server's mutex and safe for concurrent access.
type JobState struct {
	ID          string
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	Result      *optimization.Result
	Optimizer   optimization.Optimizer
	CancelFunc  context.CancelFunc
	LastUpdated time.Time
}

// StartRequest carries the parameters of a new optimization job. The
// objective is referred to by benchmark name; optimizer parameters that
// are omitted fall back to the service defaults.
type StartRequest struct {
	Problem        string       `json:"problem"`
	Dim            int          `json:"dim,omitempty"`
	X0             []float64    `json:"x0,omitempty"`
	Bounds         [][2]float64 `json:"bounds,omitempty"`
	MaxFuncEvals   int          `json:"max_f_eval,omitempty"`
	MaxIter        int          `json:"max_iter,omitempty"`
	InitRadius     float64      `json:"init_radius,omitempty"`
	Method         string       `json:"method,omitempty"`
	Sampling       string       `json:"sampling,omitempty"`
	Explore        string       `json:"explore,omitempty"`
	ConstrHandling string       `json:"constr_handling,omitempty"`
	Solver         string       `json:"solver,omitempty"`
	Seed           int64        `json:"seed,omitempty"`
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg       *config.Config
	logger    Logger
	zapLogger *zap.Logger

	jobs   map[string]*JobState
	jobsMu sync.RWMutex // Protects the jobs map
}

// NewServer creates a new server instance with the given config and loggers.
// The zap logger is handed to each optimizer so the loop's structured logs
// land in the service log stream.
func NewServer(cfg *config.Config, logger Logger, zapLogger *zap.Logger) *Server {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		zapLogger: zapLogger,
		jobs:      make(map[string]*JobState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/problems", s.handleProblems)
		r.Delete("/optimization/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      interface{}       `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var req StartRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.startJob(req)
		}
	case "optimization.status":
		var req struct {
			ID string `json:"optimization_id"`
		}
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.jobStatus(req.ID)
		}
	case "optimization.cancel":
		var req struct {
			ID string `json:"optimization_id"`
		}
		if err = decodeParams(request.Params, &req); err == nil {
			err = s.cancelJob(req.ID)
		}
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32000, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func decodeParams(params []json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("missing required parameters")
	}
	return json.Unmarshal(params[0], dst)
}

// startJob validates a request, builds the optimizer and launches the run
// in its own goroutine.
func (s *Server) startJob(req StartRequest) (interface{}, error) {
	if req.Problem == "" {
		return nil, fmt.Errorf("problem name is required")
	}
	bench, ok := benchmarks.Lookup(req.Problem, req.Dim)
	if !ok {
		return nil, fmt.Errorf("unknown problem %q (known: %v)", req.Problem, benchmarks.Names())
	}

	s.jobsMu.RLock()
	running := 0
	for _, job := range s.jobs {
		if job.Status == "running" || job.Status == "pending" {
			running++
		}
	}
	s.jobsMu.RUnlock()
	if running >= s.cfg.Optimization.MaxJobs {
		return nil, fmt.Errorf("too many running jobs (limit %d)", s.cfg.Optimization.MaxJobs)
	}

	x0 := bench.X0
	if len(req.X0) > 0 {
		x0 = req.X0
	}
	bounds := bench.Bounds
	if len(req.Bounds) > 0 {
		bounds = req.Bounds
	}

	trCfg := trustregion.DefaultConfig(x0)
	trCfg.MaxIter = s.cfg.Optimization.MaxIter
	trCfg.Solver = s.cfg.Optimization.Solver
	if req.MaxIter > 0 {
		trCfg.MaxIter = req.MaxIter
	}
	if req.InitRadius > 0 {
		trCfg.InitRadius = req.InitRadius
	}
	if req.Method != "" {
		trCfg.Method = req.Method
	}
	if req.Sampling != "" {
		trCfg.Sampling = req.Sampling
	}
	if req.Explore != "" {
		trCfg.Explore = req.Explore
	}
	if req.ConstrHandling != "" {
		trCfg.ConstrHandling = req.ConstrHandling
	}
	if req.Solver != "" {
		trCfg.Solver = req.Solver
	}

	optimizer, err := trustregion.New(trCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid optimizer configuration: %w", err)
	}
	optimizer.SetLogger(s.zapLogger)

	maxEvals := s.cfg.Optimization.MaxFuncEvals
	if req.MaxFuncEvals > 0 {
		maxEvals = req.MaxFuncEvals
	}
	problem := optimization.Problem{
		Objective:    bench.Objective,
		Constraints:  bench.Constraints,
		Bounds:       bounds,
		MaxFuncEvals: maxEvals,
		Seed:         req.Seed,
	}

	id := fmt.Sprintf("opt_%d", time.Now().UnixNano())
	ctx, cancel := context.WithCancel(context.Background())

	state := &JobState{
		ID:          id,
		Status:      "pending",
		StartTime:   time.Now(),
		Optimizer:   optimizer,
		CancelFunc:  cancel,
		LastUpdated: time.Now(),
	}

	s.jobsMu.Lock()
	s.jobs[id] = state
	s.jobsMu.Unlock()

	go s.runJob(ctx, state, problem)

	return map[string]interface{}{
		"optimization_id": id,
		"status":          "pending",
	}, nil
}

// runJob executes one optimization in a goroutine and records its outcome.
func (s *Server) runJob(ctx context.Context, state *JobState, problem optimization.Problem) {
	s.jobsMu.Lock()
	state.Status = "running"
	s.jobsMu.Unlock()
	jobsRunning.Inc()
	start := time.Now()

	result, err := state.Optimizer.Optimize(ctx, problem)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	jobsRunning.Dec()
	jobDuration.Observe(time.Since(start).Seconds())

	switch {
	case ctx.Err() != nil:
		// Cancellation already flipped the status.
		jobsTotal.WithLabelValues("cancelled").Inc()
	case err != nil:
		s.logger.Error("Optimization failed", map[string]interface{}{
			"optimization_id": state.ID,
			"error":           err.Error(),
		})
		state.Status = "failed"
		jobsTotal.WithLabelValues("failed").Inc()
	default:
		state.Status = "completed"
		state.Result = result
		evaluationsTotal.Add(float64(result.FuncEvals))
		jobsTotal.WithLabelValues("completed").Inc()
	}

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
}

// jobStatus returns the current status and results of an optimization job.
func (s *Server) jobStatus(id string) (interface{}, error) {
	if id == "" {
		return nil, fmt.Errorf("optimization_id is required")
	}

	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	state, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("optimization not found")
	}

	response := map[string]interface{}{
		"status":      state.Status,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}

	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}

	if state.Result != nil {
		response["result"] = map[string]interface{}{
			"x":       state.Result.X,
			"f":       state.Result.F,
			"f_evals": state.Result.FuncEvals,
			"f_store": state.Result.FStore,
			"g_viol":  state.Result.GViol,
		}
	}

	if state.Optimizer != nil {
		if best := state.Optimizer.GetBestSolution(); best != nil {
			response["current_best"] = map[string]interface{}{
				"parameters": best.Parameters,
				"value":      best.Value,
			}
		}
	}

	return response, nil
}

// cancelJob cancels a running optimization job.
func (s *Server) cancelJob(id string) error {
	if id == "" {
		return fmt.Errorf("optimization_id is required")
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	state, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("optimization not found")
	}

	switch state.Status {
	case "completed", "failed", "cancelled":
		// Already in a terminal state
		return fmt.Errorf("cannot cancel optimization with status: %s", state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}

	state.Status = "cancelled"
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})

	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// Close cancels all running jobs and releases resources.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for _, job := range s.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	return nil
}

// handleOptimize handles POST /api/v1/optimize, starting a new job.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := s.startJob(req)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(apperrors.StatusFor(err))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing optimization ID", http.StatusBadRequest)
		return
	}

	result, err := s.jobStatus(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleProblems handles GET /api/v1/problems, listing the registered
// benchmark objectives.
func (s *Server) handleProblems(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"problems": benchmarks.Names(),
	})
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing optimization ID", http.StatusBadRequest)
		return
	}

	err := s.cancelJob(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "cancellation requested",
	})
}
