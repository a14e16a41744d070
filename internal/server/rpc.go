package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/copyleftdev/varopt/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	OptimizationID string `json:"optimization_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		result, err = s.handleOptimizeStart(request.Params)
	case "optimization.status":
		result, err = s.handleOptimizationStatus(request.Params)
	case "optimization.cancel":
		result, err = s.handleOptimizationCancel(request.Params)
	case "optimizers.list":
		result, err = s.listOptimizers()
	case "objectives.list":
		result = listObjectives()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := codeServerError
		if status := apperrors.HTTPStatus(err); status == http.StatusBadRequest || status == http.StatusNotFound {
			code = codeInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// unwrapParams accepts either a params object or a single element array
// holding one.
func unwrapParams(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, apperrors.New("missing required parameters").WithComponent("rpc").WithStatus(http.StatusBadRequest)
	}
	if raw[0] != '[' {
		return raw, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
		return nil, apperrors.New("invalid parameter format, expected object").WithComponent("rpc").WithStatus(http.StatusBadRequest)
	}
	return list[0], nil
}

func decodeID(raw json.RawMessage) (string, error) {
	data, err := unwrapParams(raw)
	if err != nil {
		return "", err
	}
	var p idParams
	if err := json.Unmarshal(data, &p); err != nil {
		return "", apperrors.Wrap(err, "invalid parameter format, expected object").WithComponent("rpc").WithStatus(http.StatusBadRequest)
	}
	if p.OptimizationID == "" {
		return "", apperrors.New("optimization_id is required").WithComponent("rpc").WithStatus(http.StatusBadRequest)
	}
	return p.OptimizationID, nil
}

// handleOptimizeStart handles the optimization.start JSON-RPC method.
// Expected parameters: {"objective": "rosenbrock", "initial_point": [-1.2, 1], "bounds": [[-5, 5], [null, 5]]}
// Returns: {"optimization_id": "opt_...", "status": "pending"}
func (s *Server) handleOptimizeStart(params json.RawMessage) (interface{}, error) {
	data, err := unwrapParams(params)
	if err != nil {
		return nil, err
	}
	req, err := decodeStartRequest(data)
	if err != nil {
		return nil, err
	}
	state, err := s.startOptimization(req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"optimization_id": state.ID,
		"status":          StatusPending,
	}, nil
}

// handleOptimizationStatus handles the optimization.status JSON-RPC method.
// Expected parameters: {"optimization_id": "opt_..."}
func (s *Server) handleOptimizationStatus(params json.RawMessage) (interface{}, error) {
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	return s.optimizationStatus(id)
}

// handleOptimizationCancel handles the optimization.cancel JSON-RPC method.
// Expected parameters: {"optimization_id": "opt_..."}
func (s *Server) handleOptimizationCancel(params json.RawMessage) (interface{}, error) {
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	if err := s.cancelOptimization(id); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cancellation requested"}, nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("rpc error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
