// Package api exposes the scanner's HTTP surface: a health endpoint only.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"market-scanner/database"
)

// Server wraps the HTTP server serving GET /health.
type Server struct {
	httpServer *http.Server
	db         *database.Database
}

// NewServer creates the HTTP server on the given port.
func NewServer(port int, db *database.Database) *Server {
	s := &Server{db: db}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("🌐 HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports service and database status: 200 when the database
// is reachable, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "ok"
	dbStatus := "ok"
	code := http.StatusOK

	if err := s.db.Ping(); err != nil {
		status = "degraded"
		dbStatus = "unreachable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   status,
		"database": dbStatus,
		"service":  "market-scanner",
	})
}
