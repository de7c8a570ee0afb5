package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

const defaultIndexLimit = 250

type constituentJSON struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}

type constituentsResponse struct {
	Sector       string            `json:"sector"`
	Date         time.Time         `json:"date"`
	Constituents []constituentJSON `json:"constituents"`
}

func sectorParam(r *http.Request) (string, bool) {
	s := strings.ToLower(r.PathValue("sector"))
	return s, schema.ValidIdentifier(schema.SectorHistoryTable(s))
}

func (s *Server) handleSectorIndex(w http.ResponseWriter, r *http.Request) {
	sector, ok := sectorParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sector")
		return
	}
	points, err := s.deps.Index.Calculated(r.Context(), sector, parseLimit(r, defaultIndexLimit))
	if err != nil {
		serverError(w, err, "failed to fetch sector index")
		return
	}
	if points == nil {
		points = []models.IndexPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSectorConstituents(w http.ResponseWriter, r *http.Request) {
	sector, ok := sectorParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sector")
		return
	}
	row, err := s.deps.Shares.Latest(r.Context(), sector)
	if err != nil {
		serverError(w, err, "failed to fetch constituents")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "no composition for "+sector)
		return
	}

	out := constituentsResponse{Sector: sector, Date: row.Date, Constituents: make([]constituentJSON, 0, len(row.Shares))}
	for sym, n := range row.Shares {
		out.Constituents = append(out.Constituents, constituentJSON{Symbol: sym, Shares: n})
	}
	sort.Slice(out.Constituents, func(i, j int) bool { return out.Constituents[i].Symbol < out.Constituents[j].Symbol })
	writeJSON(w, http.StatusOK, out)
}
