// Package statusapi exposes a read-only view of a running node over HTTP
// and WebSocket, adapted from dtn7-go's pkg/agent WebSocketAgent for
// operational visibility rather than application messaging: gorilla/mux
// routes a single JSON snapshot endpoint plus a push channel, instead of
// a bidirectional application-agent protocol.
package statusapi

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// pushInterval is how often a connected WebSocket client receives a fresh
// snapshot.
const pushInterval = 2 * time.Second

// StatusFunc returns the current status snapshot. It must be safe to call
// from any goroutine — the engine implements it via a request/reply
// channel into its own single-owner run loop.
type StatusFunc func() interface{}

// Server serves the status snapshot returned by Status on both a plain
// HTTP GET and a periodically pushed WebSocket stream.
type Server struct {
	Status StatusFunc

	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer builds a Server listening on address. Call Start to begin
// serving; call Close to shut it down.
func NewServer(address string, status StatusFunc) *Server {
	s := &Server{Status: status}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket)

	s.http = &http.Server{Addr: address, Handler: router}
	return s
}

// Start begins serving in the background. Errors after a graceful Close are
// not reported.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("statusapi: server stopped unexpectedly")
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		log.WithError(err).Warn("statusapi: failed to encode status")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("statusapi: websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.Status()); err != nil {
			log.WithError(err).Debug("statusapi: websocket client disconnected")
			return
		}
	}
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	return s.http.Close()
}
