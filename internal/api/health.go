package api

import "net/http"

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := s.workflowSvc.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":  statusText(h.Healthy()),
		"model":   h.Model,
		"runs":    h.Runs,
		"healthy": h.Healthy(),
	})
}

func statusText(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "response cache not configured", http.StatusNotFound)
		return
	}
	if err := s.cache.ClearCache(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resilienceStatus(w http.ResponseWriter, r *http.Request) {
	if s.resilience == nil {
		http.Error(w, "resilience not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.resilience.Snapshot())
}

// resetBreaker closes the circuit breaker by hand, for when the upstream is
// known to have recovered before the recovery timeout.
func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	if s.resilience == nil {
		http.Error(w, "resilience not configured", http.StatusNotFound)
		return
	}
	s.resilience.Breaker.Reset()
	writeJSON(w, http.StatusOK, s.resilience.Snapshot())
}
