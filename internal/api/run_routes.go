package api

import "net/http"

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Runs.Latest(r.Context())
	if err != nil {
		serverError(w, err, "failed to fetch latest run")
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
