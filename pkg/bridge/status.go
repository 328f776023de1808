// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State string `json:"state"`
	Stats
	ActiveRooms int `json:"active_rooms"`
}

// HandleStatus is an HTTP handler for GET /api/status.
func (b *Bridge) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		State:       b.State().String(),
		Stats:       b.Stats(),
		ActiveRooms: b.lanes.Active(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		b.log.Warn().Err(err).Msg("Failed to write status response")
	}
}

// NewStatusServer builds the status API server. The caller starts it with
// StartStatusServer and owns its shutdown.
func (b *Bridge) NewStatusServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", b.HandleStatus)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartStatusServer serves the status API in the background.
func (b *Bridge) StartStatusServer(server *http.Server) {
	log := b.log.With().Str("component", "status").Logger()
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting bridge status API")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Bridge status API error")
		}
	}()
}
