package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/functions"
	"github.com/afsheen-enterprise/concierge/voice"
)

const (
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice     = "Zephyr" // Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
)

// LiveConfig configures a Live voice session.
type LiveConfig struct {
	Model       string
	Voice       string
	Instruction string
	// Tools is optional. Its handlers answer the model's function calls.
	Tools *functions.Registry
}

// LiveConnector opens Gemini Live sessions. It implements voice.Connector.
type LiveConnector struct {
	client *genai.Client
	cfg    LiveConfig
	logger *slog.Logger
}

// NewLiveConnector creates a connector on client.
func NewLiveConnector(client *genai.Client, cfg LiveConfig, logger *slog.Logger) *LiveConnector {
	if cfg.Model == "" {
		cfg.Model = DefaultLiveModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveConnector{client: client, cfg: cfg, logger: logger}
}

func (c *LiveConnector) connectConfig() *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if c.cfg.Instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: c.cfg.Instruction}}}
	}
	if c.cfg.Tools != nil {
		cfg.Tools = c.cfg.Tools.Tools()
	}
	return cfg
}

// Connect dials the Live API and starts the receive loop. OnOpen fires as
// soon as the setup handshake has completed.
func (c *LiveConnector) Connect(ctx context.Context, h voice.Handlers) (voice.Remote, error) {
	session, err := c.client.Live.Connect(ctx, c.cfg.Model, c.connectConfig())
	if err != nil {
		return nil, fmt.Errorf("gemini: connect live: %w", err)
	}
	c.logger.Info("✅ connected to Gemini Live", "model", c.cfg.Model, "voice", c.cfg.Voice)

	rctx, cancel := context.WithCancel(context.Background())
	r := &liveRemote{
		session: session,
		tools:   c.cfg.Tools,
		logger:  c.logger,
		ctx:     rctx,
		cancel:  cancel,
	}
	r.send = r.sendToolResponse

	if h.OnOpen != nil {
		h.OnOpen()
	}
	go r.receive(h)
	return r, nil
}

// liveRemote is one open Live session. gorilla connections allow a single
// concurrent writer, so every write goes through mu.
type liveRemote struct {
	session *genai.Session
	tools   *functions.Registry
	logger  *slog.Logger
	send    func([]*genai.FunctionResponse) error

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Send implements voice.Remote.
func (r *liveRemote) Send(chunk audio.Chunk) error {
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("gemini: invalid chunk: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("gemini: session is closed")
	}
	if err := r.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: chunk.MIMEType, Data: data},
	}); err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// Close implements voice.Remote.
func (r *liveRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cancel()
	return r.session.Close()
}

func (r *liveRemote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *liveRemote) receive(h voice.Handlers) {
	for {
		msg, err := r.session.Receive()
		if err != nil {
			if r.isClosed() {
				return
			}
			if isOrderlyClose(err) {
				r.logger.Info("🔌 Gemini closed the session", "err", err)
				if h.OnClose != nil {
					h.OnClose()
				}
				return
			}
			r.logger.Error("❌ Gemini receive error", "err", err)
			if h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		r.dispatch(msg, h)
	}
}

// dispatch fans one server message out to the handlers. Tool calls are
// answered off the receive loop so barge-in events keep flowing.
func (r *liveRemote) dispatch(msg *genai.LiveServerMessage, h voice.Handlers) {
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		r.logger.Info("📥 function calls from Gemini", "count", len(msg.ToolCall.FunctionCalls))
		calls := msg.ToolCall.FunctionCalls
		go r.answer(calls)
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.Interrupted && h.OnInterrupted != nil {
		h.OnInterrupted()
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" && h.OnTranscript != nil {
		h.OnTranscript(voice.Transcript{Role: voice.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				r.logger.Debug("gemini: text part", "text", part.Text)
			}
			if part.InlineData != nil && isAudio(part.InlineData.MIMEType) && h.OnAudio != nil {
				h.OnAudio(base64.StdEncoding.EncodeToString(part.InlineData.Data), part.InlineData.MIMEType)
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" && h.OnTranscript != nil {
		h.OnTranscript(voice.Transcript{Role: voice.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete && h.OnTurnComplete != nil {
		h.OnTurnComplete()
	}
}

func (r *liveRemote) answer(calls []*genai.FunctionCall) {
	if r.tools == nil {
		r.logger.Warn("⚠️ function call without registered tools")
		return
	}
	responses := r.tools.Call(r.ctx, calls)
	if err := r.send(responses); err != nil {
		r.logger.Error("❌ failed to send tool response", "err", err)
	}
}

func (r *liveRemote) sendToolResponse(responses []*genai.FunctionResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("gemini: session is closed")
	}
	if err := r.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses}); err != nil {
		return fmt.Errorf("gemini: send tool response: %w", err)
	}
	r.logger.Info("📤 sent tool responses", "count", len(responses))
	return nil
}

// isOrderlyClose reports whether err is a normal WebSocket close.
func isOrderlyClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func isAudio(mime string) bool {
	return mime == "" || strings.HasPrefix(mime, "audio/")
}
