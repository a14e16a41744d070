package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/copyleftdev/varopt/internal/errors"
	"github.com/copyleftdev/varopt/internal/objectives"
	"github.com/copyleftdev/varopt/internal/optimization"
)

const maxBodyBytes = 1 << 20

// OptionInfo describes one optimizer option.
type OptionInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default"`
	Description string      `json:"description,omitempty"`
}

// OptimizerInfo describes a registered optimizer.
type OptimizerInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Support     map[string]string `json:"support"`
	SchemaID    string            `json:"schema_id"`
	Options     []OptionInfo      `json:"options"`
}

// ObjectiveInfo describes a catalog objective.
type ObjectiveInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Dimensions  string `json:"dimensions"`
}

func (s *Server) listOptimizers() ([]OptimizerInfo, error) {
	names := optimization.Names()
	out := make([]OptimizerInfo, 0, len(names))
	for _, name := range names {
		opt, err := optimization.New(name, s.defaultOptions(name), false, nil)
		if err != nil {
			return nil, apperrors.Wrapf(err, "describe optimizer %s", name)
		}
		c := opt.Configuration()
		info := OptimizerInfo{
			Name:        c.Name,
			Description: c.Description,
			Support: map[string]string{
				"gradient":      c.Support.Gradient.String(),
				"bounds":        c.Support.Bounds.String(),
				"initial_point": c.Support.InitialPoint.String(),
			},
			SchemaID: c.Schema.ID,
		}
		for _, p := range c.Schema.Properties {
			info.Options = append(info.Options, OptionInfo{
				Name:        p.Name,
				Type:        string(p.Type),
				Default:     p.Default,
				Description: p.Description,
			})
		}
		out = append(out, info)
	}
	return out, nil
}

func listObjectives() []ObjectiveInfo {
	names := objectives.Names()
	out := make([]ObjectiveInfo, 0, len(names))
	for _, name := range names {
		obj, err := objectives.Lookup(name, nil)
		if err != nil {
			continue
		}
		out = append(out, ObjectiveInfo{
			Name:        obj.Name,
			Description: obj.Description,
			Dimensions:  obj.Dimensions(),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), map[string]interface{}{
		"error": err.Error(),
	})
}

// handleOptimizers handles GET /api/v1/optimizers
func (s *Server) handleOptimizers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.listOptimizers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleObjectives handles GET /api/v1/objectives
func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listObjectives())
}

// handleOptimize handles the HTTP POST /optimize endpoint for starting a new optimization
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(err, "read request body").WithStatus(http.StatusRequestEntityTooLarge))
		return
	}

	req, err := decodeStartRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	state, err := s.startOptimization(req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"optimization_id": state.ID,
		"status":          StatusPending,
	})
}

// handleStatus handles the HTTP GET /status/{id} endpoint for checking optimization status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles the HTTP DELETE /optimization/{id} endpoint for canceling an optimization
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}
