package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/copyleftdev/varopt/internal/errors"
	"github.com/copyleftdev/varopt/internal/logging"
	"github.com/copyleftdev/varopt/internal/objectives"
	"github.com/copyleftdev/varopt/internal/optimization"
	"github.com/copyleftdev/varopt/internal/optimization/lbfgsb"
)

// JobStatus is the lifecycle state of an optimization job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Bound is a [lower, upper] pair. A null side is unbounded.
type Bound [2]*float64

// StartRequest is the body of POST /api/v1/optimize and the parameter of
// optimization.start.
type StartRequest struct {
	// Optimizer is a registered optimizer name. Defaults to L_BFGS_B.
	Optimizer string `json:"optimizer,omitempty"`
	// Objective names an entry of the objective catalog.
	Objective string `json:"objective"`
	// Params configure the objective.
	Params       map[string]float64     `json:"params,omitempty"`
	InitialPoint []float64              `json:"initial_point"`
	Bounds       []Bound                `json:"bounds,omitempty"`
	Options      map[string]interface{} `json:"options,omitempty"`
	// UseGradient passes the analytic gradient. Defaults to true.
	UseGradient *bool `json:"use_gradient,omitempty"`
	BatchMode   bool  `json:"batch_mode,omitempty"`
}

// OptimizationState represents the state of an optimization job.
// It tracks the progress, status, and results of an optimization process.
// Fields are guarded by the server's optimizations lock.
type OptimizationState struct {
	ID          string
	Optimizer   string
	Objective   string
	Status      JobStatus
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Result      *optimization.Result
	Error       string
	CancelFunc  context.CancelFunc
}

// SolutionResponse is the reported minimizer.
type SolutionResponse struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
}

// StatusResponse is the externally visible view of a job.
type StatusResponse struct {
	ID              string            `json:"optimization_id"`
	Status          JobStatus         `json:"status"`
	Optimizer       string            `json:"optimizer"`
	Objective       string            `json:"objective"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	LastUpdated     time.Time         `json:"last_update"`
	Solution        *SolutionResponse `json:"solution,omitempty"`
	FuncEvaluations int               `json:"func_evaluations"`
	Iterations      int               `json:"iterations"`
	SolverStatus    string            `json:"solver_status,omitempty"`
	Converged       bool              `json:"converged"`
	Warning         string            `json:"warning,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func (st *OptimizationState) snapshot() StatusResponse {
	resp := StatusResponse{
		ID:          st.ID,
		Status:      st.Status,
		Optimizer:   st.Optimizer,
		Objective:   st.Objective,
		StartTime:   st.StartTime,
		EndTime:     st.EndTime,
		LastUpdated: st.LastUpdated,
		Error:       st.Error,
	}
	if r := st.Result; r != nil {
		if r.Solution != nil {
			resp.Solution = &SolutionResponse{
				Parameters: append([]float64(nil), r.Solution.Parameters...),
				Value:      r.Solution.Value,
			}
		}
		resp.FuncEvaluations = r.FuncEvaluations
		resp.Iterations = r.Iterations
		resp.SolverStatus = r.Status
		resp.Converged = r.Converged
		resp.Warning = r.Warning
	}
	return resp
}

func badRequest(err error, format string, args ...interface{}) error {
	return apperrors.Wrapf(err, format, args...).
		WithOperation("start").
		WithStatus(http.StatusBadRequest)
}

// defaultOptions returns the configured defaults for the named optimizer.
func (s *Server) defaultOptions(name string) map[string]interface{} {
	if name == lbfgsb.Name {
		return s.cfg.Optimizer.Map()
	}
	return map[string]interface{}{}
}

// startOptimization validates req, registers a pending job and schedules
// it. Validation errors carry status 400.
func (s *Server) startOptimization(req StartRequest) (*OptimizationState, error) {
	name := req.Optimizer
	if name == "" {
		name = lbfgsb.Name
	}

	obj, err := objectives.Lookup(req.Objective, req.Params)
	if err != nil {
		return nil, badRequest(err, "invalid objective")
	}
	n := len(req.InitialPoint)
	if err := obj.CheckDim(n); err != nil {
		return nil, badRequest(err, "invalid initial point")
	}

	options := s.defaultOptions(name)
	for k, v := range req.Options {
		options[k] = v
	}
	opt, err := optimization.New(name, options, req.BatchMode,
		logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{"component": "optimizer"})))
	if err != nil {
		return nil, badRequest(err, "invalid optimizer configuration")
	}

	request := optimization.Request{
		NumVars:      n,
		Objective:    obj.Func,
		InitialPoint: req.InitialPoint,
	}
	if req.UseGradient == nil || *req.UseGradient {
		request.Gradient = obj.Grad
	}
	if req.Bounds != nil {
		request.Bounds = make([][2]float64, len(req.Bounds))
		for i, b := range req.Bounds {
			request.Bounds[i] = [2]float64{math.Inf(-1), math.Inf(1)}
			if b[0] != nil {
				request.Bounds[i][0] = *b[0]
			}
			if b[1] != nil {
				request.Bounds[i][1] = *b[1]
			}
		}
	}
	if err := optimization.NewBase(req.BatchMode).ValidateRequest(request, opt.Support()); err != nil {
		return nil, badRequest(err, "invalid optimization request")
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout := s.cfg.Optimization.JobTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	now := time.Now()
	state := &OptimizationState{
		ID:          "opt_" + uuid.NewString(),
		Optimizer:   name,
		Objective:   obj.Name,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		CancelFunc:  cancel,
	}

	s.optimizationsMu.Lock()
	s.optimizations[state.ID] = state
	s.optimizationsMu.Unlock()

	s.logger.Info("optimization queued", map[string]interface{}{
		"optimization_id": state.ID,
		"optimizer":       name,
		"objective":       obj.Name,
		"n":               n,
	})

	s.wg.Add(1)
	go s.runOptimization(ctx, state, opt, request)
	return state, nil
}

// runOptimization waits for a worker slot and runs the job to completion.
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState, opt optimization.Optimizer, req optimization.Request) {
	defer s.wg.Done()
	defer state.CancelFunc()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(state, nil, ctx.Err())
		return
	}

	s.optimizationsMu.Lock()
	if state.Status == StatusCancelled {
		s.optimizationsMu.Unlock()
		s.finish(state, nil, context.Canceled)
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.optimizationsMu.Unlock()

	s.metrics.running.Inc()
	start := time.Now()
	result, err := opt.Optimize(ctx, req)
	s.metrics.duration.Observe(time.Since(start).Seconds())
	s.metrics.running.Dec()

	s.finish(state, result, err)
}

// finish records the outcome of a job. A job cancelled through the API stays
// cancelled.
func (s *Server) finish(state *OptimizationState, result *optimization.Result, err error) {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	now := time.Now()
	switch {
	case state.Status == StatusCancelled:
	case err == context.Canceled:
		state.Status = StatusCancelled
	case err != nil:
		state.Status = StatusFailed
		state.Error = err.Error()
		if err == context.DeadlineExceeded {
			state.Error = fmt.Sprintf("timed out after %s", s.cfg.Optimization.JobTimeout)
		}
	default:
		state.Status = StatusCompleted
		state.Result = result
	}
	if state.EndTime == nil {
		state.EndTime = &now
	}
	state.LastUpdated = now

	s.metrics.optimizations.WithLabelValues(string(state.Status)).Inc()
	if result != nil {
		s.metrics.evaluations.Observe(float64(result.FuncEvaluations))
	}

	fields := map[string]interface{}{
		"optimization_id": state.ID,
		"status":          state.Status,
	}
	if result != nil && result.Solution != nil {
		fields["value"] = result.Solution.Value
		fields["func_evaluations"] = result.FuncEvaluations
	}
	if state.Status == StatusFailed {
		fields["error"] = state.Error
		s.logger.Error("optimization failed", fields)
		return
	}
	s.logger.Info("optimization finished", fields)
}

// optimizationStatus returns a snapshot of the job.
func (s *Server) optimizationStatus(id string) (StatusResponse, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, ok := s.optimizations[id]
	if !ok {
		return StatusResponse{}, apperrors.Errorf("optimization %s not found", id).
			WithOperation("status").
			WithStatus(http.StatusNotFound)
	}
	return state.snapshot(), nil
}

// cancelOptimization cancels a pending or running job.
func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, ok := s.optimizations[id]
	if !ok {
		return apperrors.Errorf("optimization %s not found", id).
			WithOperation("cancel").
			WithStatus(http.StatusNotFound)
	}
	if state.Status.terminal() {
		return apperrors.Errorf("cannot cancel optimization with status: %s", state.Status).
			WithOperation("cancel").
			WithStatus(http.StatusConflict)
	}

	state.CancelFunc()
	now := time.Now()
	state.Status = StatusCancelled
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

// decodeStartRequest decodes a start request keeping option numbers exact.
func decodeStartRequest(data []byte) (StartRequest, error) {
	var req StartRequest
	if err := unmarshalUseNumber(data, &req); err != nil {
		return StartRequest{}, apperrors.Wrap(err, "invalid request body").
			WithStatus(http.StatusBadRequest)
	}
	return req, nil
}

func unmarshalUseNumber(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
