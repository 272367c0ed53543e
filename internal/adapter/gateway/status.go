package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON body returned by GET /api/status.
type StatusResponse struct {
	Version       string      `json:"version,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Games         int         `json:"games"`
	Matches       MatchCounts `json:"matches"`
	Clients       int         `json:"clients"`
}

// MatchCounts counts matches by lifecycle.
type MatchCounts struct {
	Running  int `json:"running"`
	Finished int `json:"finished"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Games:         s.games.Registry().Len(),
		Clients:       s.ClientCount(),
	}
	for _, m := range s.matches.List() {
		if m.Status.Finished() {
			resp.Matches.Finished++
		} else {
			resp.Matches.Running++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
