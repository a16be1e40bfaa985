package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afsheen-enterprise/concierge/assistant"
	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/functions"
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/mapsync"
	"github.com/afsheen-enterprise/concierge/messages"
	"github.com/afsheen-enterprise/concierge/observe"
	"github.com/afsheen-enterprise/concierge/voice"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Assistant answers typed questions and map searches.
type Assistant interface {
	Consult(ctx context.Context, prompt string) (string, error)
	SearchPlaces(ctx context.Context, query string, origin *geo.LatLng) (assistant.PlaceResult, error)
}

// ConnectorFactory returns the Live connector for one voice session.
type ConnectorFactory func(instruction string, tools *functions.Registry) voice.Connector

// Deps are the collaborators shared by every session.
type Deps struct {
	Assistant Assistant
	Connector ConnectorFactory
	Catalog   *config.Catalog
	Logger    *slog.Logger
	Metrics   *observe.Metrics
}

// ClientSession represents a single user's connection
type ClientSession struct {
	ID           string
	IsTwilio     bool // Whether this is a Twilio voice call session
	ClientConn   *websocket.Conn
	CreatedAt    time.Time
	LastActivity time.Time

	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	browser *browserDevice
	twilio  *twilioDevice
	mapView *RemoteMap
	syncer  *mapsync.Syncer

	voiceMu sync.Mutex
	voice   *voice.Session

	// voiceStarting is set from the moment a start is accepted until its
	// Start call returns. voiceCancel aborts that start.
	voiceStarting bool
	voiceCancel   context.CancelFunc

	// Use channels for non-blocking writes
	writeChan chan any

	mu        sync.RWMutex
	closed    bool
	location  *geo.LatLng
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession creates a session for a browser or CLI client.
func NewClientSession(id string, clientConn *websocket.Conn, cfg *config.Config, deps Deps) *ClientSession {
	cs := newClientSession(id, clientConn, cfg, deps)
	cs.browser = newBrowserDevice(id, cs, cs.logger)
	cs.mapView = newRemoteMap(id, cs, cfg.DefaultLocation)
	cs.syncer = mapsync.New(cs.mapView,
		mapsync.WithPadding(cfg.MapPadding),
		mapsync.WithMaxZoom(cfg.MapMaxZoom),
		mapsync.WithLogger(cs.logger))

	if clientConn != nil {
		clientConn.SetReadLimit(cfg.MaxMessageSize)
		clientConn.EnableWriteCompression(true)
		_ = clientConn.SetCompressionLevel(6)
	}
	return cs
}

// NewTwilioClientSession creates a session for Twilio voice calls
func NewTwilioClientSession(id string, clientConn *websocket.Conn, cfg *config.Config, deps Deps) *ClientSession {
	cs := newClientSession(id, clientConn, cfg, deps)
	cs.IsTwilio = true
	cs.twilio = newTwilioDevice(cs)

	if clientConn != nil {
		// Twilio doesn't support WebSocket compression
		clientConn.EnableWriteCompression(false)
	}
	return cs
}

func newClientSession(id string, clientConn *websocket.Conn, cfg *config.Config, deps Deps) *ClientSession {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = config.DefaultCatalog()
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    now,
		LastActivity: now,
		cfg:          cfg,
		deps:         deps,
		logger:       deps.Logger.With("session", shortID(id)),
		writeChan:    make(chan any, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling for standard WebSocket clients
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.queueMessage(messages.NewStatusMessage(cs.ID, "connected", "Session established"))
	go cs.handleClientMessages()
}

// StartTwilio begins the bidirectional message handling for Twilio voice
// calls. The voice session starts right away and waits for the stream's
// start event.
func (cs *ClientSession) StartTwilio() {
	go cs.writePump()
	go cs.handleClientMessagesFromTwilio()
	go cs.startVoice("")
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	var ping <-chan time.Time
	if cs.cfg.KeepAlivePeriod > 0 {
		ticker := time.NewTicker(cs.cfg.KeepAlivePeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		// Send close message before exiting
		_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case <-ping:
			_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cs.logger.Debug("session: keepalive failed", "err", err)
				go cs.Close()
				return
			}
		case msg := <-cs.writeChan:
			if err := cs.write(msg); err != nil {
				go cs.Close()
				return
			}

			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				if err := cs.write(<-cs.writeChan); err != nil {
					go cs.Close()
					return
				}
			}
		}
	}
}

func (cs *ClientSession) write(msg any) error {
	data, err := messages.Encode(msg)
	if err != nil {
		cs.logger.Error("❌ failed to encode message", "err", err)
		return nil
	}
	_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cs.ClientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !cs.IsClosed() {
			cs.logger.Warn("❌ write to client failed", "err", err)
		}
		return err
	}
	return nil
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	if cs.IsClosed() {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.touch()
	default:
		cs.logger.Warn("⚠️ write queue full, dropping message")
	}
}

// emit queues a browser protocol message. Twilio streams only carry media,
// so the message is dropped there.
func (cs *ClientSession) emit(msg *messages.ServerMessage) {
	if cs.IsTwilio {
		return
	}
	cs.queueMessage(msg)
}

func (cs *ClientSession) sendError(code, message string) {
	cs.emit(messages.NewErrorMessage(cs.ID, code, message))
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

func (cs *ClientSession) lastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.LastActivity
}

// Idle returns how long the session has gone without traffic.
func (cs *ClientSession) Idle(now time.Time) time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return now.Sub(cs.LastActivity)
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	cs.cancel()

	// Signal close (for writePump and other goroutines waiting on this)
	close(cs.CloseChan)

	cs.voiceMu.Lock()
	vs := cs.voice
	cs.voiceMu.Unlock()
	if vs != nil {
		vs.Stop()
	}

	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// VoiceState reports the state of the session's voice pipeline.
func (cs *ClientSession) VoiceState() voice.State {
	cs.voiceMu.Lock()
	defer cs.voiceMu.Unlock()
	if cs.voice == nil {
		return voice.Idle
	}
	return cs.voice.State()
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		messageType, message, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cs.logger.Warn("❌ WebSocket read error", "err", err)
			}
			return
		}
		cs.touch()

		// Binary frames carry raw PCM16LE microphone audio
		if messageType == websocket.BinaryMessage {
			if err := cs.browser.capture(message); err != nil {
				if errors.Is(err, errNotGranted) {
					cs.logger.Debug("session: dropping audio outside a voice session", "bytes", len(message))
					continue
				}
				cs.sendError(messages.ErrCodeInvalidMessage, "Invalid audio frame: "+err.Error())
			}
			continue
		}

		clientMsg, err := messages.DecodeClient(message)
		if err != nil {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid message format")
			continue
		}
		cs.processClientMessage(clientMsg)
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeControl:
		var payload messages.ControlPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid control payload")
			return
		}
		cs.handleControlMessage(&payload)

	case messages.TypeMic:
		var payload messages.MicPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid mic payload")
			return
		}
		cs.browser.answerMic(payload)

	case messages.TypeChat:
		var payload messages.ChatPayload
		if err := messages.DecodePayload(msg, &payload); err != nil || strings.TrimSpace(payload.Text) == "" {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid chat payload")
			return
		}
		go cs.consult(payload.Text)

	case messages.TypeSearch:
		var payload messages.SearchPayload
		if err := messages.DecodePayload(msg, &payload); err != nil || strings.TrimSpace(payload.Query) == "" {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid search payload")
			return
		}
		var origin *geo.LatLng
		if payload.Lat != nil && payload.Lng != nil {
			origin = &geo.LatLng{Lat: *payload.Lat, Lng: *payload.Lng}
		}
		go func() {
			if _, err := cs.search(cs.ctx, payload.Query, origin); err != nil {
				cs.sendError(messages.ErrCodeSearchFailed, err.Error())
			}
		}()

	case messages.TypeLocation:
		var payload messages.LocationPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid location payload")
			return
		}
		cs.setLocation(geo.LatLng{Lat: payload.Lat, Lng: payload.Lng})

	default:
		cs.sendError(messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type)
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionPing:
		cs.emit(messages.NewStatusMessage(cs.ID, "pong", ""))
	case messages.ActionStartVoice:
		go cs.startVoice(payload.Language)
	case messages.ActionStopVoice:
		cs.stopVoice()
	default:
		cs.sendError(messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action)
	}
}

// startVoice runs a voice session in the given language code until it
// reaches Active or fails.
func (cs *ClientSession) startVoice(language string) {
	var device voice.Device = cs.browser
	if cs.IsTwilio {
		device = cs.twilio
	}

	cs.voiceMu.Lock()
	if cs.voiceStarting || (cs.voice != nil && cs.voice.State() != voice.Idle) {
		cs.voiceMu.Unlock()
		cs.sendError(messages.ErrCodeVoiceError, voice.ErrAlreadyStarted.Error())
		return
	}
	name := cs.deps.Catalog.LanguageName(language)
	connector := cs.deps.Connector(VoiceInstruction(name), cs.tools())
	vs := voice.New(connector, device,
		voice.WithStartTimeout(cs.cfg.VoiceStartTimeout),
		voice.WithBufferSize(cs.cfg.CaptureBufferSize),
		voice.WithLogger(cs.logger),
		voice.WithMetrics(cs.deps.Metrics),
		voice.OnStateChange(cs.voiceStateChanged),
		voice.OnTranscript(func(t voice.Transcript) {
			cs.emit(messages.NewTranscriptMessage(cs.ID, string(t.Role), t.Text))
		}),
		voice.OnTurnComplete(func() {
			cs.emit(messages.NewStatusMessage(cs.ID, "turn_complete", ""))
		}),
		voice.OnError(func(err error) {
			cs.sendError(messages.ErrCodeVoiceError, err.Error())
		}),
	)
	ctx, cancel := context.WithCancel(cs.ctx)
	cs.voice, cs.voiceStarting, cs.voiceCancel = vs, true, cancel
	cs.voiceMu.Unlock()
	defer func() {
		cs.voiceMu.Lock()
		cs.voiceStarting, cs.voiceCancel = false, nil
		cs.voiceMu.Unlock()
		cancel()
	}()

	cs.logger.Info("🎙️ starting voice session", "language", name)
	if err := vs.Start(ctx); err != nil {
		if errors.Is(err, voice.ErrStopped) || ctx.Err() != nil {
			return
		}
		cs.sendError(messages.ErrCodeVoiceError, err.Error())
	}
}

func (cs *ClientSession) stopVoice() {
	cs.voiceMu.Lock()
	vs, cancel := cs.voice, cs.voiceCancel
	cs.voiceMu.Unlock()
	if vs != nil {
		vs.Stop()
	}
	// A start accepted but not yet running is aborted here.
	if cancel != nil {
		cancel()
	}
}

func (cs *ClientSession) voiceStateChanged(st voice.State) {
	cs.emit(messages.NewStatusMessage(cs.ID, "voice_"+st.String(), ""))
	// A call without a voice session has nothing left to do.
	if cs.IsTwilio && st == voice.Idle {
		go cs.Close()
	}
}

// tools returns the Live tools for this session. SearchMap draws on this
// session's map.
func (cs *ClientSession) tools() *functions.Registry {
	reg := functions.NewRegistry()
	reg.Register(functions.ConciergeServicesDeclaration(), functions.ConciergeServices)
	reg.Register(functions.SearchMapDeclaration(), cs.searchTool)
	return reg
}

func (cs *ClientSession) searchTool(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, err := functions.QueryArg(args)
	if err != nil {
		return nil, err
	}
	res, err := cs.search(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Points))
	for _, p := range res.Points {
		names = append(names, p.Name)
	}
	return map[string]any{"output": res.DisplayText, "places": names}, nil
}

// search runs a map search, biased toward origin or else the user's last
// known position, and shows the places on the client's map.
func (cs *ClientSession) search(ctx context.Context, query string, origin *geo.LatLng) (assistant.PlaceResult, error) {
	if origin == nil {
		origin = cs.origin()
	}
	res, err := cs.deps.Assistant.SearchPlaces(ctx, query, origin)
	if err != nil {
		cs.logger.Warn("⚠️ map search failed", "query", query, "err", err)
	}
	if cs.syncer != nil {
		cs.syncer.Sync(res.Points)
	}
	cs.emit(messages.NewSearchResultMessage(cs.ID, res))
	if err != nil {
		return res, fmt.Errorf("search %q: %w", query, err)
	}
	return res, nil
}

func (cs *ClientSession) consult(prompt string) {
	text, err := cs.deps.Assistant.Consult(cs.ctx, prompt)
	if err != nil {
		cs.logger.Warn("⚠️ consultation failed", "err", err)
	}
	cs.emit(messages.NewTextMessage(cs.ID, text))
}

func (cs *ClientSession) setLocation(c geo.LatLng) {
	cs.mu.Lock()
	cs.location = &c
	cs.mu.Unlock()
	if cs.syncer != nil {
		cs.syncer.Locate(c)
	}
}

func (cs *ClientSession) origin() *geo.LatLng {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.location != nil {
		c := *cs.location
		return &c
	}
	c := cs.cfg.DefaultLocation
	return &c
}

// handleClientMessagesFromTwilio processes Twilio WebSocket protocol messages.
// Twilio sends connected, start, media and stop events. Audio goes straight
// to the voice session without buffering; Gemini handles VAD.
func (cs *ClientSession) handleClientMessagesFromTwilio() {
	defer cs.Close()
	for {
		_, message, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() {
				cs.logger.Warn("❌ Twilio WebSocket read error", "err", err)
			}
			return
		}
		cs.touch()

		ev, err := messages.DecodeTwilio(message)
		if err != nil {
			cs.logger.Warn("⚠️ failed to parse Twilio message", "err", err)
			continue
		}

		switch ev.Event {
		case messages.TwilioConnected:
			cs.logger.Info("📞 Twilio stream connected")

		case messages.TwilioStart:
			if ev.Start == nil || ev.Start.StreamSid == "" {
				cs.logger.Warn("⚠️ Twilio 'start' event missing streamSid")
				continue
			}
			cs.twilio.start(ev.Start.StreamSid)
			cs.logger.Info("📞 Twilio stream started", "stream_sid", ev.Start.StreamSid, "call_sid", ev.Start.CallSid)

		case messages.TwilioMedia:
			if ev.Media == nil {
				continue
			}
			if err := cs.twilio.media(ev.Media.Payload); err != nil {
				cs.logger.Warn("⚠️ failed to decode Twilio audio", "err", err)
			}

		case messages.TwilioStop:
			cs.logger.Info("📞 Twilio stream stopped")
			return

		case messages.TwilioMark:
			cs.logger.Debug("session: Twilio mark event received")

		default:
			cs.logger.Warn("⚠️ unknown Twilio event", "event", ev.Event)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
