package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

const maxQueryLimit = 5000

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// PriceReader is implemented by repository.PriceRepo.
type PriceReader interface {
	History(ctx context.Context, symbol string, from *time.Time, limit int) ([]models.PricePoint, error)
	Latest(ctx context.Context, symbol string) (*models.PricePoint, error)
}

// IndexReader is implemented by repository.SectorHistoryRepo.
type IndexReader interface {
	Calculated(ctx context.Context, sector string, limit int) ([]models.IndexPoint, error)
}

// SharesReader is implemented by repository.SharesRepo.
type SharesReader interface {
	Latest(ctx context.Context, sector string) (*models.SharesRow, error)
}

// RunReader is implemented by repository.RunRepo.
type RunReader interface {
	Latest(ctx context.Context) (*models.RunSummary, error)
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	DB      Pinger
	Prices  PriceReader
	Index   IndexReader
	Shares  SharesReader
	Runs    RunReader
	Metrics http.Handler
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	apiKey     string
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
	}

	mux := http.NewServeMux()

	// Ticker routes
	mux.HandleFunc("GET /v1/tickers/{symbol}/history", s.handleTickerHistory)
	mux.HandleFunc("GET /v1/tickers/{symbol}/latest", s.handleTickerLatest)

	// Sector routes
	mux.HandleFunc("GET /v1/sectors/{sector}/index", s.handleSectorIndex)
	mux.HandleFunc("GET /v1/sectors/{sector}/constituents", s.handleSectorConstituents)

	// Run routes
	mux.HandleFunc("GET /v1/runs/latest", s.handleLatestRun)

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	handler := s.authMiddleware(corsMiddleware(mux, corsOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler exposes the routed handler with middleware, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	log.Info().
		Str("component", "api").
		Str("addr", s.httpServer.Addr).
		Bool("auth", s.apiKey != "").
		Msg("REST API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func parseDate(date string) (time.Time, bool) {
	if !dateRegexp.MatchString(date) {
		return time.Time{}, false
	}
	t, err := time.Parse(models.DateLayout, date)
	return t, err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, err error, msg string) {
	log.Error().Str("component", "api").Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
