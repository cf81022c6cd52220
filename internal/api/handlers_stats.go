package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleOracleStats(w http.ResponseWriter, r *http.Request) {
	if s.tel == nil {
		jsonError(w, "oracle stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":       s.cfg.AnthropicModel,
		"queue_depth": s.engine.QueueDepth(),
		"stats":       s.tel.Snapshot(),
	})
}
