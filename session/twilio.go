package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/messages"
	"github.com/afsheen-enterprise/concierge/voice"
)

var errNoStream = errors.New("twilio stream not started")

// twilioDevice is the voice.Device of a phone call. Answering the call is
// the consent: the microphone is granted once the stream's start event
// names it. Audio is 8 kHz mu-law in both directions.
type twilioDevice struct {
	out outbox

	mu        sync.Mutex
	streamSid string
	started   chan struct{}
	input     *pcmInput
}

func newTwilioDevice(out outbox) *twilioDevice {
	return &twilioDevice{out: out, started: make(chan struct{})}
}

// start records the stream on the start event.
func (d *twilioDevice) start(streamSid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streamSid != "" {
		return
	}
	d.streamSid = streamSid
	close(d.started)
}

func (d *twilioDevice) stream() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamSid
}

func (d *twilioDevice) RequestMicrophone(ctx context.Context) (voice.Microphone, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", errNoStream, context.Cause(ctx))
	case <-d.started:
		return twilioMic{}, nil
	}
}

func (d *twilioDevice) OpenInput(_ context.Context, sampleRate int) (voice.Input, error) {
	in := newPCMInput(sampleRate)
	d.mu.Lock()
	d.input = in
	d.mu.Unlock()
	return in, nil
}

func (d *twilioDevice) OpenOutput(_ context.Context, _ int) (voice.Output, error) {
	sid := d.stream()
	if sid == "" {
		return nil, errNoStream
	}
	// One clear drops everything Twilio has buffered, so an interruption
	// stopping several sources sends it once.
	var cleared atomic.Bool
	return newClockOutput(
		func(_ uint64, f audio.Frame, _ time.Duration) {
			cleared.Store(false)
			d.out.queueMessage(messages.NewTwilioMessageBack(sid,
				base64.StdEncoding.EncodeToString(audio.MuLawEncode(toTelephone(f)))))
		},
		func([]uint64) {
			if cleared.CompareAndSwap(false, true) {
				d.out.queueMessage(messages.NewTwilioClear(sid))
			}
		},
	), nil
}

// media feeds one base64 mu-law payload from the call.
func (d *twilioDevice) media(payload string) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode twilio audio: %w", err)
	}
	d.mu.Lock()
	in := d.input
	d.mu.Unlock()
	if in == nil {
		return nil
	}
	in.write(audio.MuLawDecode(raw))
	return nil
}

// toTelephone brings f down to the mu-law rate, decimating when the ratio
// is whole.
func toTelephone(f audio.Frame) audio.Frame {
	if f.SampleRate > audio.MuLawSampleRate && f.SampleRate%audio.MuLawSampleRate == 0 {
		return audio.Decimate(f, f.SampleRate/audio.MuLawSampleRate)
	}
	return audio.Resample(f, audio.MuLawSampleRate)
}

type twilioMic struct{}

func (twilioMic) Release() error { return nil }
