package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/messages"
	"github.com/afsheen-enterprise/concierge/voice"
)

// outbox queues messages for the client socket.
type outbox interface {
	queueMessage(msg any)
}

var (
	errMicDenied  = errors.New("microphone access denied")
	errNotGranted = errors.New("microphone not granted")
)

// browserDevice is the voice.Device of a browser tab. Consent is a
// mic_request/mic round trip; captured audio arrives as binary frames at the
// rate the client reported; playback runs on the client against the
// offsets sent with each audio message.
type browserDevice struct {
	id     string
	out    outbox
	logger *slog.Logger

	mu      sync.Mutex
	pending chan messages.MicPayload
	micRate int // 0 while no microphone is granted
	input   *pcmInput
}

func newBrowserDevice(id string, out outbox, logger *slog.Logger) *browserDevice {
	return &browserDevice{id: id, out: out, logger: logger}
}

func (d *browserDevice) RequestMicrophone(ctx context.Context) (voice.Microphone, error) {
	answer := make(chan messages.MicPayload, 1)
	d.mu.Lock()
	d.pending = answer
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.pending == answer {
			d.pending = nil
		}
		d.mu.Unlock()
	}()

	d.out.queueMessage(messages.NewMicRequestMessage(d.id))

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case p := <-answer:
		if !p.Granted {
			if p.Reason != "" {
				return nil, fmt.Errorf("%w: %s", errMicDenied, p.Reason)
			}
			return nil, errMicDenied
		}
		rate := p.SampleRate
		if rate <= 0 {
			rate = audio.CaptureSampleRate
		}
		d.mu.Lock()
		d.micRate = rate
		d.mu.Unlock()
		return &browserMic{d: d}, nil
	}
}

// answerMic delivers the client's reply to a pending consent request.
func (d *browserDevice) answerMic(p messages.MicPayload) {
	d.mu.Lock()
	answer := d.pending
	d.pending = nil
	d.mu.Unlock()
	if answer == nil {
		d.logger.Debug("session: mic answer without a pending request", "session", d.id)
		return
	}
	answer <- p
}

func (d *browserDevice) OpenInput(_ context.Context, sampleRate int) (voice.Input, error) {
	in := newPCMInput(sampleRate)
	d.mu.Lock()
	d.input = in
	d.mu.Unlock()
	return in, nil
}

func (d *browserDevice) OpenOutput(_ context.Context, _ int) (voice.Output, error) {
	return newClockOutput(
		func(id uint64, f audio.Frame, at time.Duration) {
			d.out.queueMessage(messages.NewAudioMessage(d.id, id,
				base64.StdEncoding.EncodeToString(f.Bytes()), audio.MIMEType(f.SampleRate),
				float64(at)/float64(time.Millisecond)))
		},
		func(ids []uint64) {
			d.out.queueMessage(messages.NewStopAudioMessage(d.id, ids))
		},
	), nil
}

// capture feeds one binary frame of PCM16LE microphone audio. Frames that
// arrive while nothing is tapping are dropped.
func (d *browserDevice) capture(data []byte) error {
	d.mu.Lock()
	rate, in := d.micRate, d.input
	d.mu.Unlock()
	if rate == 0 || in == nil {
		return errNotGranted
	}
	f, err := audio.FrameFromBytes(data, rate)
	if err != nil {
		return err
	}
	in.write(f)
	return nil
}

type browserMic struct {
	d *browserDevice
}

func (m *browserMic) Release() error {
	m.d.mu.Lock()
	m.d.micRate = 0
	m.d.mu.Unlock()
	return nil
}
