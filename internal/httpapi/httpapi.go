// Package httpapi exposes a small read-only HTTP surface over the
// engine's live state: process health, the current best deal, a
// per-exchange wallet snapshot, and a poll of recent bus events. It is
// grounded on the teacher's chi-based internal/server package, trimmed
// down to what this engine needs — no trading action is ever reachable
// over HTTP, matching the project's non-goal on a user-facing trading
// UI.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nullstate/arb/internal/analyst"
	"github.com/nullstate/arb/internal/connection"
	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/observer"
)

// DealSource is the subset of *analyst.Analyst the status API needs.
type DealSource interface {
	GetBestDeal() (analyst.Deal, bool)
}

// ExchangeView is the subset of *exchange.Exchange the status API needs
// per registered venue.
type ExchangeView interface {
	ConnState() connection.State
	WalletSnapshot() (*observer.BalanceObserver, bool)
}

// EventSource is the subset of *events.Manager the status API needs for
// the /events poll endpoint.
type EventSource interface {
	Recent(n int) []events.Event
}

// Server is the read-only status HTTP surface.
type Server struct {
	router *chi.Mux
	srv    *http.Server
	log    zerolog.Logger

	deals     DealSource
	exchanges map[string]ExchangeView
	bus       EventSource
}

// New constructs a Server bound to port, backed by deals, exchanges
// (keyed by exchange id) and bus.
func New(port int, deals DealSource, exchanges map[string]ExchangeView, bus EventSource, log zerolog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "http_api").Logger(),
		deals:     deals,
		exchanges: exchanges,
		bus:       bus,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(15 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/deals/best", s.handleBestDeal)
	s.router.Get("/wallets/{exchange}", s.handleWallet)
	s.router.Get("/events", s.handleEvents)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server, blocking until it exits or errors. Callers
// typically run it in its own goroutine and call Shutdown on process
// shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("status api starting")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// to finish until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type healthzResponse struct {
	Status     string            `json:"status"`
	Exchanges  map[string]string `json:"exchanges"`
	CPUPercent float64           `json:"cpu_percent"`
	MemPercent float64           `json:"mem_percent"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok", Exchanges: make(map[string]string, len(s.exchanges))}
	for id, e := range s.exchanges {
		resp.Exchanges[id] = e.ConnState().String()
	}
	resp.CPUPercent, resp.MemPercent = s.systemStats()
	writeJSON(w, http.StatusOK, resp)
}

// systemStats reports the process host's CPU and memory usage so
// operators can tell resource exhaustion apart from a genuine exchange
// disconnect without shelling into the box. A failed read degrades to 0
// rather than failing the health check itself.
func (s *Server) systemStats() (cpuPercent, memPercent float64) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read cpu usage")
	} else if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory usage")
		return cpuPercent, 0
	}
	return cpuPercent, vm.UsedPercent
}

func (s *Server) handleBestDeal(w http.ResponseWriter, r *http.Request) {
	if s.deals == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "analyst not ready"})
		return
	}
	deal, ok := s.deals.GetBestDeal()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "deal": deal})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "exchange")
	e, ok := s.exchanges[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown exchange " + id})
		return
	}
	wallet, ok := e.WalletSnapshot()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "balances not ready for " + id})
		return
	}
	writeJSON(w, http.StatusOK, wallet.GetBalance())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.bus.Recent(n))
}
