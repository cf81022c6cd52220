package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leaselens/leaselens/internal/pipeline"
)

// runOutput fetches a run and its output, writing the error response
// itself when either is missing.
func (s *Server) runOutput(w http.ResponseWriter, r *http.Request) *pipeline.RunOutput {
	run := s.engine.GetRun(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return nil
	}
	out := run.Output()
	if out == nil {
		snap := run.Snapshot()
		if snap.Status == pipeline.StatusFailed {
			jsonError(w, "run failed", http.StatusUnprocessableEntity)
		} else {
			jsonError(w, "run not finished", http.StatusConflict)
		}
		return nil
	}
	return out
}

func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	out := s.runOutput(w, r)
	if out == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleRunDocument(w http.ResponseWriter, r *http.Request) {
	out := s.runOutput(w, r)
	if out == nil {
		return
	}
	res, ok := out.Documents[chi.URLParam(r, "docID")]
	if !ok {
		jsonError(w, "document not found in run", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	out := s.runOutput(w, r)
	if out == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"document_graph": out.DocumentGraph,
		"amendments":     out.Amendments,
	})
}

func (s *Server) handleRunClauseMap(w http.ResponseWriter, r *http.Request) {
	out := s.runOutput(w, r)
	if out == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out.ClauseMap)
}

func (s *Server) handleRunConsistency(w http.ResponseWriter, r *http.Request) {
	out := s.runOutput(w, r)
	if out == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out.Consistency)
}
