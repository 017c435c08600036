package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"derivbot/internal/config"
	"derivbot/pkg/types"
)

// StatusServer is the read-only HTTP introspection surface the teacher's
// dashboard API (internal/api) provided for the market maker — narrowed
// here to process health and per-strategy/per-symbol bookkeeping, since
// nothing in this platform calls for a push-update dashboard.
type StatusServer struct {
	o      *Orchestrator
	server *http.Server
}

// strategyStatus is one configured strategy's read-only snapshot.
type strategyStatus struct {
	ID      string   `json:"id"`
	Ready   bool     `json:"ready"`
	Symbols []string `json:"symbols"`
}

// statusResponse is the full /status payload.
type statusResponse struct {
	Symbols    []string         `json:"symbols"`
	Strategies []strategyStatus `json:"strategies"`
	ReplayMode bool             `json:"replay_mode"`
	LastAlive  *time.Time       `json:"last_alive,omitempty"`
}

// NewStatusServer builds the status HTTP server for o. Call Start to listen.
func NewStatusServer(o *Orchestrator, cfg config.HTTPConfig) *StatusServer {
	mux := http.NewServeMux()
	s := &StatusServer{o: o}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *StatusServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *StatusServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Symbols:    symbolStrings(s.o.allSymbols()),
		ReplayMode: s.o.cfg.Replay.Enabled,
	}
	if !s.o.lastAlive.IsZero() {
		t := s.o.lastAlive
		resp.LastAlive = &t
	}
	for _, sess := range s.o.sessions {
		resp.Strategies = append(resp.Strategies, strategyStatus{
			ID:      sess.cfg.ID,
			Ready:   sess.strategy.Ready(),
			Symbols: sess.cfg.Symbols,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func symbolStrings(symbols []types.Symbol) []string {
	out := make([]string, len(symbols))
	for i, sym := range symbols {
		out[i] = string(sym)
	}
	return out
}
