package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type systemStatusResponse struct {
	Version         string    `json:"version"`
	Started         time.Time `json:"started"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	Units           int       `json:"units"`
	SessionUnstable bool      `json:"session_unstable"`
	WSClients       int       `json:"ws_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := systemStatusResponse{
		Version:       s.version,
		Started:       s.started,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Units:         len(s.registry.List()),
		WSClients:     s.hub.clientCount(),
	}
	if s.sessions != nil {
		resp.SessionUnstable = s.sessions.Unstable()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh kicks the poll loop so state converges sooner than the
// next scheduled cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.synchronizer == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "synchronizer is not available")
		return
	}
	s.synchronizer.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// handleDiscover re-runs unit discovery against the cloud. This is a
// blocking call, discovery is a pair of cheap cloud reads.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.synchronizer == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "synchronizer is not available")
		return
	}
	if err := s.synchronizer.Rediscover(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}
