// Command voiceclient drives a concierge voice session from the terminal. It
// streams a PCM or WAV file as microphone audio and plays the replies
// through sox.
package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/afsheen-enterprise/concierge/assistant"
	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/messages"
)

// serverMessage is messages.ServerMessage with the payload left undecoded.
type serverMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer(rate int) (*AudioPlayer, error) {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", strconv.Itoa(rate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sox start: %w", err)
	}
	return &AudioPlayer{cmd: cmd, stdin: stdin}, nil
}

func (p *AudioPlayer) Play(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_, _ = p.stdin.Write(pcm)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.stdin.Close()
	_ = p.cmd.Wait()
}

type client struct {
	conn    *websocket.Conn
	player  *AudioPlayer
	micRate int

	writeMu sync.Mutex
	// statuses carries every status the server reports, in order.
	statuses chan string
}

func (c *client) send(typ string, payload any) error {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(messages.ClientMessage{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) sendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// readLoop handles server messages until the connection drops.
func (c *client) readLoop() {
	defer close(c.statuses)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Println("Read error:", err)
			return
		}
		var msg serverMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			log.Println("Parse error:", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg serverMessage) {
	switch msg.Type {
	case messages.TypeMicRequest:
		log.Printf("🎤 Microphone requested, granting at %d Hz", c.micRate)
		if err := c.send(messages.TypeMic, messages.MicPayload{Granted: true, SampleRate: c.micRate}); err != nil {
			log.Println("Send error:", err)
		}

	case messages.TypeAudio:
		var p messages.AudioResponsePayload
		if err := sonic.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Data)
		if err == nil && c.player != nil {
			c.player.Play(pcm)
		}

	case messages.TypeStopAudio:
		var p messages.StopAudioPayload
		_ = sonic.Unmarshal(msg.Payload, &p)
		log.Printf("🔇 Server stopped %d audio chunks", len(p.IDs))

	case messages.TypeTranscript:
		var p messages.TranscriptPayload
		_ = sonic.Unmarshal(msg.Payload, &p)
		fmt.Printf("🗣️  %s: %s\n", p.Role, p.Text)

	case messages.TypeText:
		var p messages.TextResponsePayload
		_ = sonic.Unmarshal(msg.Payload, &p)
		fmt.Printf("📝 %s\n", p.Text)

	case messages.TypeSearchResult:
		var p assistant.PlaceResult
		_ = sonic.Unmarshal(msg.Payload, &p)
		fmt.Printf("🗺️  %s\n", p.DisplayText)
		for _, pt := range p.Points {
			fmt.Printf("   📍 %s (%.4f, %.4f)\n", pt.Name, pt.Lat, pt.Lng)
		}

	case messages.TypeMap:
		var p messages.MapPayload
		_ = sonic.Unmarshal(msg.Payload, &p)
		log.Printf("🗺️  Map: %s", p.Op)

	case messages.TypeStatus:
		var p messages.StatusPayload
		_ = sonic.Unmarshal(msg.Payload, &p)
		log.Printf("📊 Status: %s %s", p.Status, p.Message)
		c.statuses <- p.Status

	case messages.TypeError:
		var p messages.ErrorPayload
		_ = sonic.Unmarshal(msg.Payload, &p)
		log.Printf("❌ Error %s: %s", p.Code, p.Message)
	}
}

var errDisconnected = errors.New("connection closed")

// await blocks until the server reports status.
func (c *client) await(status string, timeout time.Duration, interrupt <-chan os.Signal) error {
	deadline := time.After(timeout)
	for {
		select {
		case s, ok := <-c.statuses:
			if !ok {
				return errDisconnected
			}
			if s == status {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for %s", status)
		case <-interrupt:
			return errors.New("interrupted")
		}
	}
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "examples/user.pcm", "Audio file to send (PCM16LE or WAV)")
	rate := flag.Int("rate", audio.CaptureSampleRate, "Sample rate of the audio file")
	lang := flag.String("lang", "EN", "Voice reply language code")
	search := flag.String("search", "", "Run a map search before the voice session")
	timeout := flag.Duration("timeout", 30*time.Second, "How long to wait for each server step")
	flag.Parse()

	log.Printf("🔌 Connecting to %s...", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	player, err := NewAudioPlayer(audio.PlaybackSampleRate)
	if err != nil {
		log.Fatalf("Failed to create audio player (is sox installed?): %v", err)
	}
	defer player.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	c := &client{conn: conn, player: player, micRate: *rate, statuses: make(chan string, 64)}
	go c.readLoop()

	if err := c.await("connected", *timeout, interrupt); err != nil {
		log.Fatalf("Handshake failed: %v", err)
	}
	log.Println("✅ Connected!")

	if *search != "" {
		if err := c.send(messages.TypeSearch, messages.SearchPayload{Query: *search}); err != nil {
			log.Fatalf("Send error: %v", err)
		}
	}

	pcm, err := loadAudioFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	if err := c.send(messages.TypeControl, messages.ControlPayload{Action: messages.ActionStartVoice, Language: *lang}); err != nil {
		log.Fatalf("Send error: %v", err)
	}
	if err := c.await("voice_active", *timeout, interrupt); err != nil {
		log.Fatalf("Voice session did not start: %v", err)
	}

	log.Printf("📤 Streaming %s", *audioFile)
	chunks := chunk(pcm, *rate/10*2) // 100ms
	for i, b := range chunks {
		if err := c.sendAudio(b); err != nil {
			log.Printf("Send error: %v", err)
			break
		}
		log.Printf("📤 Sent chunk %d/%d (%d bytes)", i+1, len(chunks), len(b))
		time.Sleep(100 * time.Millisecond)
	}

	log.Println("✅ Audio sent, waiting for response...")
	if err := c.await("turn_complete", *timeout, interrupt); err != nil {
		log.Printf("⏰ %v", err)
	}

	_ = c.send(messages.TypeControl, messages.ControlPayload{Action: messages.ActionStopVoice})
	if err := c.await("voice_idle", *timeout, interrupt); err != nil {
		log.Printf("⏰ %v", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.Println("👋 Done")
}

// chunk splits pcm into pieces of at most size bytes, keeping sample
// alignment.
func chunk(pcm []byte, size int) [][]byte {
	size &^= 1
	if size <= 0 {
		size = 2
	}
	var out [][]byte
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return out
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Standard 44-byte WAV header
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		log.Println("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}

	log.Println("📁 Detected raw PCM file")
	return data, nil
}
