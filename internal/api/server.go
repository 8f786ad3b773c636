// Package api exposes a small local HTTP interface for observing the service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ailenergy/internal/poller"
	"ailenergy/internal/reading"
	"ailenergy/internal/tariff"

	"go.uber.org/zap"
)

// Source is the poller-facing slice the server reads from.
type Source interface {
	Latest() (reading.Reading, tariff.CostReading, bool)
	Status() poller.Status
}

// Server provides HTTP endpoints for health checks and poll observation
type Server struct {
	source Source
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(source Source, logger *zap.Logger, port int) *Server {
	s := &Server{
		source: source,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// LatestResponse is the JSON body of /api/latest.
type LatestResponse struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	DayKWh    float64   `json:"day_kwh"`
	NightKWh  float64   `json:"night_kwh"`
	TotalKWh  float64   `json:"total_kwh"`
	DayCost   float64   `json:"day_cost"`
	NightCost float64   `json:"night_cost"`
	TotalCost float64   `json:"total_cost"`
}

// handleLatest returns the most recently fetched reading and its cost
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	latest, cost, ok := s.source.Latest()
	if !ok {
		http.Error(w, "No reading fetched yet", http.StatusNotFound)
		return
	}

	response := LatestResponse{
		From:      latest.From,
		To:        latest.To,
		DayKWh:    latest.Day,
		NightKWh:  latest.Night,
		TotalKWh:  latest.Total(),
		DayCost:   cost.DayCost,
		NightCost: cost.NightCost,
		TotalCost: cost.Total(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Latest request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleStatus returns the poll loop counters
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Status()); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
