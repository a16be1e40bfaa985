package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/afsheen-enterprise/concierge/assistant"
	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/functions"
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/messages"
	"github.com/afsheen-enterprise/concierge/observe"
	"github.com/afsheen-enterprise/concierge/voice"
)

type stubAssistant struct {
	mu      sync.Mutex
	origins []*geo.LatLng
}

func (a *stubAssistant) Consult(_ context.Context, prompt string) (string, error) {
	return "About " + prompt + ": visit Gyeongbokgung.", nil
}

func (a *stubAssistant) SearchPlaces(_ context.Context, query string, origin *geo.LatLng) (assistant.PlaceResult, error) {
	a.mu.Lock()
	a.origins = append(a.origins, origin)
	a.mu.Unlock()
	return assistant.PlaceResult{
		Text:        "Try [LOC: Shilla Hotel | 37.5558, 127.0051] or [LOC: COEX | 37.5115, 127.0595].",
		DisplayText: "Try  or .",
		Points: []geo.Point{
			{Name: "Shilla Hotel", Lat: 37.5558, Lng: 127.0051},
			{Name: "COEX", Lat: 37.5115, Lng: 127.0595},
		},
		MapLinks: []assistant.MapLink{},
	}, nil
}

type liveStub struct {
	instruction string
	tools       *functions.Registry
	handlers    chan voice.Handlers
	chunks      chan audio.Chunk
}

func newLiveStub() *liveStub {
	return &liveStub{handlers: make(chan voice.Handlers, 1), chunks: make(chan audio.Chunk, 16)}
}

func (l *liveStub) Connect(_ context.Context, h voice.Handlers) (voice.Remote, error) {
	h.OnOpen()
	l.handlers <- h
	return &remoteStub{chunks: l.chunks}, nil
}

type remoteStub struct {
	chunks chan audio.Chunk
}

func (r *remoteStub) Send(c audio.Chunk) error {
	r.chunks <- c
	return nil
}

func (r *remoteStub) Close() error { return nil }

type harness struct {
	conn   *websocket.Conn
	live   *liveStub
	assist *stubAssistant
	// builds counts voice connectors handed out.
	builds atomic.Int32
}

func newHarness(t *testing.T, twilio bool) *harness {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.KeepAlivePeriod = 0
	cfg.VoiceStartTimeout = 2 * time.Second

	h := &harness{live: newLiveStub(), assist: &stubAssistant{}}
	var built sync.Once
	deps := Deps{
		Assistant: h.assist,
		Connector: func(instruction string, tools *functions.Registry) voice.Connector {
			h.builds.Add(1)
			built.Do(func() {
				h.live.instruction = instruction
				h.live.tools = tools
			})
			return h.live
		},
		Logger:  quiet,
		Metrics: metrics,
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var cs *ClientSession
		if twilio {
			cs = NewTwilioClientSession("0123456789abcdef", conn, cfg, deps)
			cs.StartTwilio()
		} else {
			cs = NewClientSession("0123456789abcdef", conn, cfg, deps)
			cs.Start()
		}
		<-cs.CloseChan
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	h.conn = conn
	return h
}

type envelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
	// Twilio frames
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid"`
	Media     map[string]any `json:"media"`
}

func (h *harness) read(t *testing.T) envelope {
	t.Helper()
	require.NoError(t, h.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := h.conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, sonic.Unmarshal(data, &env))
	return env
}

// until reads messages until one of type typ arrives and returns it with
// everything skipped before it.
func (h *harness) until(t *testing.T, typ string) (envelope, []envelope) {
	t.Helper()
	var skipped []envelope
	for range 50 {
		env := h.read(t)
		if env.Type == typ || env.Event == typ {
			return env, skipped
		}
		skipped = append(skipped, env)
	}
	t.Fatalf("no %s message", typ)
	return envelope{}, nil
}

func (h *harness) send(t *testing.T, typ string, payload any) {
	t.Helper()
	data, err := sonic.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, data))
}

func (h *harness) sendTwilio(t *testing.T, ev map[string]any) {
	t.Helper()
	data, err := sonic.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, data))
}

// pump repeats send until the live session receives a chunk. Audio sent
// before the capture tap is installed is dropped.
func (h *harness) pump(t *testing.T, send func()) audio.Chunk {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		send()
		select {
		case chunk := <-h.live.chunks:
			return chunk
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no chunk sent upstream")
		}
	}
}

func TestClientSession_Ping(t *testing.T) {
	h := newHarness(t, false)
	connected := h.read(t)
	assert.Equal(t, messages.TypeStatus, connected.Type)
	assert.Equal(t, "connected", connected.Payload["status"])
	assert.Equal(t, "0123456789abcdef", connected.SessionID)

	h.send(t, messages.TypeControl, map[string]any{"action": "ping"})
	pong := h.read(t)
	assert.Equal(t, "pong", pong.Payload["status"])
}

func TestClientSession_InvalidMessages(t *testing.T) {
	h := newHarness(t, false)
	h.read(t)

	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	env := h.read(t)
	assert.Equal(t, messages.TypeError, env.Type)
	assert.Equal(t, messages.ErrCodeInvalidMessage, env.Payload["code"])

	h.send(t, "teleport", map[string]any{})
	env = h.read(t)
	assert.Equal(t, "Unknown message type: teleport", env.Payload["message"])

	h.send(t, messages.TypeChat, map[string]any{"text": "   "})
	env = h.read(t)
	assert.Equal(t, "Invalid chat payload", env.Payload["message"])

	// Audio outside a voice session is dropped silently.
	require.NoError(t, h.conn.WriteMessage(websocket.BinaryMessage, make([]byte, 64)))
	h.send(t, messages.TypeControl, map[string]any{"action": "ping"})
	assert.Equal(t, "pong", h.read(t).Payload["status"])
}

func TestClientSession_Chat(t *testing.T) {
	h := newHarness(t, false)
	h.read(t)

	h.send(t, messages.TypeChat, map[string]any{"text": "palaces"})
	env, _ := h.until(t, messages.TypeText)
	assert.Equal(t, "About palaces: visit Gyeongbokgung.", env.Payload["text"])
}

func TestClientSession_SearchDrawsMap(t *testing.T) {
	h := newHarness(t, false)
	h.read(t)

	h.send(t, messages.TypeLocation, map[string]any{"lat": 37.53, "lng": 126.99})
	h.send(t, messages.TypeSearch, map[string]any{"query": "luxury hotels"})

	result, before := h.until(t, messages.TypeSearchResult)
	var ops []any
	for _, env := range before {
		if env.Type == messages.TypeMap {
			ops = append(ops, env.Payload["op"])
		}
	}
	assert.Equal(t, []any{"user", "clear", "marker", "marker", "fit"}, ops)
	assert.Equal(t, "Try  or .", result.Payload["displayText"])

	h.assist.mu.Lock()
	defer h.assist.mu.Unlock()
	require.Len(t, h.assist.origins, 1)
	assert.Equal(t, &geo.LatLng{Lat: 37.53, Lng: 126.99}, h.assist.origins[0])
}

func TestClientSession_VoiceRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	h.read(t)

	h.send(t, messages.TypeControl, map[string]any{"action": "start_voice", "language": "KO"})
	_, before := h.until(t, messages.TypeMicRequest)
	require.NotEmpty(t, before)
	assert.Equal(t, "voice_connecting", before[0].Payload["status"])

	h.send(t, messages.TypeMic, map[string]any{"granted": true, "sampleRate": 16000})
	var handlers voice.Handlers
	select {
	case handlers = <-h.live.handlers:
	case <-time.After(2 * time.Second):
		t.Fatal("live session never connected")
	}
	for {
		env, _ := h.until(t, messages.TypeStatus)
		if env.Payload["status"] == "voice_active" {
			break
		}
	}
	assert.Contains(t, h.live.instruction, "Respond primarily in 한국어.")
	names := make([]string, 0)
	for _, tool := range h.live.tools.Tools() {
		for _, d := range tool.FunctionDeclarations {
			names = append(names, d.Name)
		}
	}
	assert.ElementsMatch(t, []string{functions.ConciergeServicesName, functions.SearchMapName}, names)

	// One capture buffer of microphone audio becomes one chunk.
	pcm := audio.Frame{Samples: make([]int16, audio.CaptureBufferSize), SampleRate: 16000}.Bytes()
	chunk := h.pump(t, func() {
		require.NoError(t, h.conn.WriteMessage(websocket.BinaryMessage, pcm))
	})
	assert.Equal(t, "audio/pcm;rate=16000", chunk.MIMEType)

	reply := audio.Encode(audio.Frame{Samples: make([]int16, 2400), SampleRate: 24000})
	handlers.OnAudio(reply.Data, reply.MIMEType)
	env, _ := h.until(t, messages.TypeAudio)
	assert.Equal(t, float64(1), env.Payload["id"])
	assert.Equal(t, reply.Data, env.Payload["data"])

	handlers.OnTranscript(voice.Transcript{Role: voice.RoleModel, Text: "안녕하세요"})
	env, _ = h.until(t, messages.TypeTranscript)
	assert.Equal(t, "model", env.Payload["role"])

	handlers.OnInterrupted()
	env, _ = h.until(t, messages.TypeStopAudio)
	assert.Equal(t, []any{float64(1)}, env.Payload["ids"])

	h.send(t, messages.TypeControl, map[string]any{"action": "stop_voice"})
	for {
		env, _ := h.until(t, messages.TypeStatus)
		if env.Payload["status"] == "voice_idle" {
			break
		}
	}
}

func TestClientSession_SecondStartIsRejected(t *testing.T) {
	h := newHarness(t, false)
	h.read(t)

	start := map[string]any{"action": "start_voice"}
	h.send(t, messages.TypeControl, start)
	h.send(t, messages.TypeControl, start)

	env, skipped := h.until(t, messages.TypeError)
	assert.Equal(t, messages.ErrCodeVoiceError, env.Payload["code"])
	assert.Contains(t, env.Payload["message"], voice.ErrAlreadyStarted.Error())
	assert.Equal(t, int32(1), h.builds.Load())

	mic := slices.ContainsFunc(skipped, func(e envelope) bool { return e.Type == messages.TypeMicRequest })
	if !mic {
		h.until(t, messages.TypeMicRequest)
	}
	h.send(t, messages.TypeMic, map[string]any{"granted": true, "sampleRate": 16000})
	for {
		env, _ := h.until(t, messages.TypeStatus)
		if env.Payload["status"] == "voice_active" {
			break
		}
	}
	assert.Len(t, h.live.handlers, 1)
	assert.Equal(t, int32(1), h.builds.Load())
}

func TestClientSession_VoiceDenied(t *testing.T) {
	h := newHarness(t, false)
	h.read(t)

	h.send(t, messages.TypeControl, map[string]any{"action": "start_voice"})
	h.until(t, messages.TypeMicRequest)
	h.send(t, messages.TypeMic, map[string]any{"granted": false, "reason": "NotAllowedError"})

	env, _ := h.until(t, messages.TypeError)
	assert.Equal(t, messages.ErrCodeVoiceError, env.Payload["code"])
	assert.Contains(t, env.Payload["message"], voice.ErrPermissionDenied.Error())
}

func TestClientSession_Twilio(t *testing.T) {
	h := newHarness(t, true)

	h.sendTwilio(t, map[string]any{"event": "connected"})
	h.sendTwilio(t, map[string]any{"event": "start", "start": map[string]any{"streamSid": "MZ1", "callSid": "CA1"}})

	var handlers voice.Handlers
	select {
	case handlers = <-h.live.handlers:
	case <-time.After(2 * time.Second):
		t.Fatal("live session never connected")
	}
	assert.Contains(t, h.live.instruction, "Respond primarily in English.")

	// 2048 mu-law bytes at 8 kHz fill one 4096-sample buffer at 16 kHz.
	chunk := h.pump(t, func() {
		h.sendTwilio(t, map[string]any{"event": "media", "media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(make([]byte, 2048)),
		}})
	})
	assert.Len(t, chunk.Data, base64.StdEncoding.EncodedLen(2*audio.CaptureBufferSize))

	reply := audio.Encode(audio.Frame{Samples: make([]int16, 480), SampleRate: 24000})
	handlers.OnAudio(reply.Data, reply.MIMEType)
	env, _ := h.until(t, messages.TwilioMedia)
	assert.Equal(t, "MZ1", env.StreamSid)
	raw, err := base64.StdEncoding.DecodeString(env.Media["payload"].(string))
	require.NoError(t, err)
	assert.Len(t, raw, 160)

	handlers.OnInterrupted()
	env, _ = h.until(t, messages.TwilioClear)
	assert.Equal(t, "MZ1", env.StreamSid)

	h.sendTwilio(t, map[string]any{"event": "stop"})
	require.NoError(t, h.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := h.conn.ReadMessage(); err != nil {
			break
		}
	}
}
