// Package gateway serves the market data wire protocol over HTTP and
// WebSocket from any feed.Source: historical bars and latest quote as
// REST, live frames via a fan-out hub.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
)

const (
	defaultBarLimit = 100
	maxBarLimit     = 10000
)

// Server is the protocol gateway over one Source.
type Server struct {
	src   feed.Source
	cache *Cache
	hub   *Hub
	log   *slog.Logger
}

func NewServer(src feed.Source, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		src:   src,
		cache: NewCache(),
		hub:   newHub(src, log),
		log:   log.With("component", "gateway"),
	}
}

// RegisterRoutes registers the protocol routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/market/bars", s.handleBars)
	mux.HandleFunc("GET /api/market/quote", s.handleQuote)
	mux.HandleFunc("GET /ws/market", s.hub.handleWS)
}

// Handler returns the full http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// Close shuts down the websocket hub and its upstream streams.
func (s *Server) Close() {
	s.hub.Close()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	gran := domain.Granularity(q.Get("timeframe"))
	if gran == "" {
		gran = domain.Gran1Day
	}
	if !gran.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timeframe %q", gran))
		return
	}
	limit := parseLimit(q.Get("limit"))
	feedTag := q.Get("feed")

	key := cacheKey(symbol, gran, limit, feedTag)
	bars, ok := s.cache.Get(key, gran)
	if !ok {
		var err error
		bars, err = s.src.Bars(r.Context(), symbol, gran, limit)
		if err != nil {
			s.log.Warn("bars fetch failed", "symbol", symbol, "timeframe", gran, "err", err)
			writeError(w, http.StatusBadGateway, "upstream bars fetch failed")
			return
		}
		s.cache.Put(key, bars)
	}

	out := make([]feed.WireBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, feed.NewWireBar(b))
	}
	writeJSON(w, feed.BarsPayload{Bars: out})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	quote, err := s.src.Quote(r.Context(), symbol)
	if err != nil {
		s.log.Warn("quote fetch failed", "symbol", symbol, "err", err)
		writeError(w, http.StatusBadGateway, "upstream quote fetch failed")
		return
	}
	writeJSON(w, feed.NewQuotePayload(quote))
}

func parseLimit(s string) int {
	if s == "" {
		return defaultBarLimit
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultBarLimit
	}
	if n > maxBarLimit {
		return maxBarLimit
	}
	return n
}
