package server

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/session"
)

// greeting is spoken by Twilio before the stream connects.
const greeting = "Welcome to Afsheen Enterprise. Connecting you to your concierge now."

type WebsocketTwilio struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	logger         *slog.Logger
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Say     string   `xml:"Say"`
	Connect struct {
		Stream struct {
			URL string `xml:"url,attr"`
		} `xml:"Stream"`
	} `xml:"Connect"`
}

func NewWebsocketTwilio(cfg *config.Config, sessionManager *session.Manager, logger *slog.Logger) *WebsocketTwilio {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebsocketTwilio{
		sessionManager: sessionManager,
		config:         cfg,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Twilio doesn't support WebSocket compression
			EnableCompression: false,
			// Twilio connections don't send browser Origin headers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	port := cfg.TwilioPort
	if cfg.ServerType == config.ServerTwilio {
		// Standalone Twilio server takes the main port
		port = cfg.Port
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
		// No Read/WriteTimeout: calls are long-lived and the WebSocket layer
		// sets its own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's routes.
func (s *WebsocketTwilio) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleWebsocketTwilio)
	mux.HandleFunc("/voice", s.handleVoiceCall)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *WebsocketTwilio) Start() error {
	addr := s.httpServer.Addr
	s.logger.Info("📞 Twilio server starting", "addr", addr)
	s.logger.Info("📡 Twilio endpoints", "stream", "ws://localhost"+addr+"/stream", "voice", "http://localhost"+addr+"/voice")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *WebsocketTwilio) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Shutting down Twilio server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the listen address.
func (s *WebsocketTwilio) Addr() string {
	return s.httpServer.Addr
}

func (s *WebsocketTwilio) handleWebsocketTwilio(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Twilio WebSocket upgrade failed", "err", err)
		return
	}

	clientSession, err := s.sessionManager.CreateTwilioSession(r.Context(), conn)
	if err != nil {
		s.logger.Warn("failed to create Twilio session", "err", err)
		conn.Close()
		return
	}

	s.logger.Info("📞 New Twilio session created", "session", clientSession.ID)

	clientSession.StartTwilio()
	<-clientSession.CloseChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessionManager.RemoveSession(ctx, clientSession.ID); err != nil {
		s.logger.Warn("failed to drop Twilio session", "session", clientSession.ID, "err", err)
	}
	s.logger.Info("📞 Twilio session closed", "session", clientSession.ID)
}

func (s *WebsocketTwilio) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	var resp twiml
	resp.Say = greeting
	resp.Connect.Stream.URL = "wss://" + r.Host + "/stream"

	data, err := xml.MarshalIndent(resp, "", "\t")
	if err != nil {
		http.Error(w, "failed to build TwiML", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(data)
}

func (s *WebsocketTwilio) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","server":"twilio","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
