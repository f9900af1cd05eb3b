// Package dashboard provides the HTTP API and real-time WebSocket server
// for the places application.
//
// The REST endpoints are a thin layer over the query facade; the WebSocket
// side broadcasts place changes and sync outcomes to connected clients so
// a UI can show live sync status.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/placedex/placedex/internal/facade"
	"github.com/placedex/placedex/internal/place"
	"github.com/placedex/placedex/internal/reconcile"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypePlaceUpdate indicates a place was created, updated, or deleted
	MessageTypePlaceUpdate MessageType = "place_update"

	// MessageTypeSyncComplete indicates a reconciliation run finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats indicates updated record statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PlaceUpdateData contains place change information
type PlaceUpdateData struct {
	PlaceID string `json:"place_id"`
	Action  string `json:"action"` // created, updated, deleted
	Name    string `json:"name,omitempty"`
	Types   string `json:"types,omitempty"`
}

// StatsData contains record statistics for the stats broadcast
type StatsData struct {
	RecordCount int    `json:"record_count"`
	SyncStatus  string `json:"sync_status"`
	FastMode    bool   `json:"fast_mode"`
}

// Config holds server configuration
type Config struct {
	// Port to listen on (0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// Server serves the REST API and manages WebSocket connections.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	facade *facade.Facade

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server over the given facade.
func NewServer(f *facade.Facade, config *Config) *Server {
	if config == nil {
		config = &Config{Port: 8080}
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		facade:    f,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/places", s.handleCreatePlace)
	mux.HandleFunc("GET /api/places", s.handleSearchPlaces)
	mux.HandleFunc("GET /api/places/{id}", s.handleGetPlace)
	mux.HandleFunc("PUT /api/places/{id}", s.handleUpdatePlace)
	mux.HandleFunc("DELETE /api/places/{id}", s.handleDeletePlace)
	mux.HandleFunc("POST /api/sync", s.handleForceSync)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// OnSyncOutcome broadcasts a finished reconciliation run. Wire it up with
// Reconciler.Subscribe.
func (s *Server) OnSyncOutcome(out reconcile.Outcome) {
	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Printf("Failed to marshal sync outcome: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncComplete, Timestamp: time.Now(), Data: data})
}

// broadcastPlace announces a place mutation plus refreshed stats.
func (s *Server) broadcastPlace(action string, p *place.Place) {
	data, err := json.Marshal(PlaceUpdateData{
		PlaceID: p.ID,
		Action:  action,
		Name:    p.Name,
		Types:   p.Types,
	})
	if err != nil {
		s.logger.Printf("Failed to marshal place update: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypePlaceUpdate, Timestamp: time.Now(), Data: data})

	st := s.facade.SyncState()
	stats, err := json.Marshal(StatsData{
		RecordCount: st.RecordCount,
		SyncStatus:  string(st.LastOutcome.Status),
		FastMode:    s.facade.FastMode(),
	})
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: stats})
}

// broadcastLoop handles message broadcasting to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed, just keep-alive
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleCreatePlace(w http.ResponseWriter, r *http.Request) {
	var fields place.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.facade.Create(r.Context(), fields)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.broadcastPlace("created", p)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleSearchPlaces(w http.ResponseWriter, r *http.Request) {
	opts := queryOptionsFromRequest(r)

	page, err := s.facade.Search(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetPlace(w http.ResponseWriter, r *http.Request) {
	p, err := s.facade.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePlace(w http.ResponseWriter, r *http.Request) {
	var fields place.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.facade.Update(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.broadcastPlace("updated", p)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.facade.Delete(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "place not found")
		return
	}

	s.broadcastPlace("deleted", &place.Place{ID: id})
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	out := s.facade.ForceSync(r.Context())
	s.OnSyncOutcome(out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.SyncState())
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Placedex Dashboard</title>
</head>
<body>
    <h1>Placedex Dashboard Server</h1>
    <p>REST API: <code>/api/places</code>, <code>/api/sync</code></p>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// queryOptionsFromRequest parses search/sort/page query parameters.
func queryOptionsFromRequest(r *http.Request) place.QueryOptions {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	return place.QueryOptions{
		Search:     q.Get("search"),
		SortBy:     q.Get("sort_by"),
		Descending: q.Get("order") == "desc",
		Page:       page,
		PageSize:   pageSize,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the error taxonomy onto HTTP statuses. Cache errors
// never reach here: the facade contains them below the seam.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, place.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, place.ErrConstraintViolation):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, place.ErrStoreUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "store unavailable, retry")
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
