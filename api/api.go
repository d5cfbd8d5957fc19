// Package api exposes the core operations over HTTP for the desktop
// frontend and the CLI. The server listens on TCP or on a local socket
// (Unix domain socket, named pipe on Windows).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/dnsjump/dnsjump/dnsjump"
	"github.com/dnsjump/dnsjump/profile"
	"github.com/dnsjump/dnsjump/sysdns"
)

// AddProfileRequest defines the structure for creating a profile
type AddProfileRequest struct {
	Name    string   `json:"name"`
	Servers []string `json:"servers"`
}

// DeleteProfileRequest defines the structure for deleting a profile
type DeleteProfileRequest struct {
	Index int `json:"index"`
}

// SortRequest defines the structure for reordering profiles
type SortRequest struct {
	Ascending bool `json:"ascending"`
}

// ActivateRequest activates either a stored profile by index or an ad-hoc
// server list. Servers wins when both are present.
type ActivateRequest struct {
	Index   *int     `json:"index,omitempty"`
	Servers []string `json:"servers,omitempty"`
}

// upgrader accepts any origin: the listener is already restricted to
// loopback or a local socket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// API represents the HTTP server and its state
type API struct {
	addr       string
	socketPath string
	listener   net.Listener
	server     *http.Server
	app        *dnsjump.App
}

// NewAPI creates a new HTTP server that listens on a TCP address
func NewAPI(addr string, app *dnsjump.App) *API {
	return &API{addr: addr, app: app}
}

// NewAPISocket creates a new HTTP server that listens on a Unix socket or
// Windows named pipe
func NewAPISocket(socketPath string, app *dnsjump.App) *API {
	return &API{socketPath: socketPath, app: app}
}

func (s *API) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/profiles/delete", s.handleDeleteProfile)
	mux.HandleFunc("/profiles/sort", s.handleSort)
	mux.HandleFunc("/test", s.handleTest)
	mux.HandleFunc("/activate", s.handleActivate)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Start starts the HTTP server
func (s *API) Start() error {
	s.server = &http.Server{
		Handler: s.routes(),
	}

	var err error
	if s.socketPath != "" {
		// Use platform-specific socket listener
		s.listener, err = createSocketListener(s.socketPath)
		if err != nil {
			return fmt.Errorf("failed to create socket listener: %w", err)
		}
		log.Infof("starting HTTP server on socket %s", s.socketPath)
	} else {
		// Use TCP listener
		s.listener, err = net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("failed to create TCP listener: %w", err)
		}
		log.Infof("starting HTTP server on %s", s.addr)
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the HTTP server
func (s *API) Stop() error {
	log.Info("stopping api server")

	if s.server != nil {
		s.server.Close()
	}

	if s.socketPath != "" {
		cleanupSocket(s.socketPath)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleProfiles lists the profiles on GET and creates one on POST
func (s *API) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.app.Profiles())

	case http.MethodPost:
		var req AddProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "Missing required field: name must be provided", http.StatusBadRequest)
			return
		}
		p, err := s.app.AddProfile(req.Name, req.Servers)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeleteProfile handles the /profiles/delete endpoint
func (s *API) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DeleteProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.app.RemoveProfile(req.Index); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "profile deleted"})
}

// handleSort handles the /profiles/sort endpoint
func (s *API) handleSort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := SortRequest{Ascending: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
	}

	sorted, err := s.app.SortProfiles(req.Ascending)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, sorted)
}

// handleTest handles the /test endpoint. The probe batch runs in the
// background; progress and the outcome arrive on /events.
func (s *API) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		if _, err := s.app.RunTests(context.Background()); err != nil {
			log.Warnf("test run refused: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "test run started"})
}

// handleActivate handles the /activate endpoint
func (s *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	var conn *sysdns.Connection
	var err error
	switch {
	case len(req.Servers) > 0:
		conn, err = s.app.ActivateServers(r.Context(), req.Servers)
	case req.Index != nil:
		conn, err = s.app.ActivateProfile(r.Context(), *req.Index)
	default:
		http.Error(w, "Missing required field: index or servers must be provided", http.StatusBadRequest)
		return
	}

	if err != nil {
		writeError(w, activationStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "dns applied", "connection": conn})
}

// handleReset handles the /reset endpoint
func (s *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.app.Reset(r.Context())
	if err != nil {
		writeError(w, activationStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "dns reset", "connection": conn})
}

// activationStatus maps the activation error taxonomy onto HTTP codes.
func activationStatus(err error) int {
	switch {
	case errors.Is(err, dnsjump.ErrActivationInProgress):
		return http.StatusConflict
	case errors.Is(err, profile.ErrInvalidAddress), errors.Is(err, profile.ErrInsufficientServers):
		return http.StatusBadRequest
	case errors.Is(err, sysdns.ErrNoActiveConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleStatus handles the /status endpoint
func (s *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.app.CurrentStatus(r.Context()))
}

// handleEvents upgrades to a WebSocket and forwards core events until the
// client goes away.
func (s *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	events, cancel := s.app.Subscribe()
	defer cancel()

	// Reader loop only to notice the peer closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(ev); err != nil {
				log.Debugf("event subscriber dropped: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
