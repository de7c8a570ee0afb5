package api

import (
	"net/http"
	"time"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

const defaultHistoryLimit = 250

func (s *Server) handleTickerHistory(w http.ResponseWriter, r *http.Request) {
	inst, err := models.NewInstrument(r.PathValue("symbol"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}

	var from *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		d, ok := parseDate(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
		from = &d
	}

	rows, err := s.deps.Prices.History(r.Context(), inst.Symbol, from, parseLimit(r, defaultHistoryLimit))
	if err != nil {
		serverError(w, err, "failed to fetch price history")
		return
	}
	if rows == nil {
		rows = []models.PricePoint{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTickerLatest(w http.ResponseWriter, r *http.Request) {
	inst, err := models.NewInstrument(r.PathValue("symbol"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	p, err := s.deps.Prices.Latest(r.Context(), inst.Symbol)
	if err != nil {
		serverError(w, err, "failed to fetch latest price")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "no price data for "+inst.Symbol)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
