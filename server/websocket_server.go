package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/messages"
	"github.com/afsheen-enterprise/concierge/session"
)

// maxRequestBody bounds the JSON bodies of the REST endpoints.
const maxRequestBody = 64 * 1024

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	assistant      session.Assistant
	catalog        *config.Catalog
	config         *config.Config
	logger         *slog.Logger
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Text string `json:"text"`
}

type searchRequest struct {
	Query string   `json:"query"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServerWebsocket builds the browser-facing server. The assistant backs
// the REST endpoints; sessions reach it through the manager's deps.
func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, assistant session.Assistant, catalog *config.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	s := &Server{
		sessionManager: sessionManager,
		assistant:      assistant,
		catalog:        catalog,
		config:         cfg,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/map/search", s.handleSearch)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("🚀 WebSocket server starting", "addr", s.httpServer.Addr)
	s.logger.Info("📡 WebSocket endpoint", "url", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Shutting down WebSocket server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.logger.Warn("failed to create session", "err", err)
		if data, encErr := messages.Encode(messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error())); encErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	s.logger.Info("✅ New session created", "session", clientSession.ID)

	clientSession.Start()
	<-clientSession.CloseChan

	// The request context is done once the connection is hijacked and closed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessionManager.RemoveSession(ctx, clientSession.ID); err != nil {
		s.logger.Warn("failed to drop session", "session", clientSession.ID, "err", err)
	}
	s.logger.Info("🔌 Session closed", "session", clientSession.ID)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	// Consult always returns displayable text, the fallback included.
	text, err := s.assistant.Consult(r.Context(), req.Text)
	if err != nil {
		s.logger.Warn("chat consult failed", "err", err)
	}
	writeJSON(w, http.StatusOK, chatResponse{Text: text})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}

	var origin *geo.LatLng
	if req.Lat != nil && req.Lng != nil {
		origin = &geo.LatLng{Lat: *req.Lat, Lng: *req.Lng}
	}

	result, err := s.assistant.SearchPlaces(r.Context(), req.Query, origin)
	if err != nil {
		s.logger.Warn("map search failed", "query", req.Query, "err", err)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return fmt.Errorf("read body: %w", err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
