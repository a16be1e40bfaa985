package session

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/mapsync"
	"github.com/afsheen-enterprise/concierge/messages"
	"github.com/afsheen-enterprise/concierge/voice"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingOutbox struct {
	mu   sync.Mutex
	msgs []any
}

func (o *recordingOutbox) queueMessage(msg any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
}

func (o *recordingOutbox) all() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]any(nil), o.msgs...)
}

// ofType returns the payloads of every queued browser message of type typ.
func (o *recordingOutbox) ofType(typ string) []any {
	var out []any
	for _, m := range o.all() {
		if sm, ok := m.(*messages.ServerMessage); ok && sm.Type == typ {
			out = append(out, sm.Payload)
		}
	}
	return out
}

func TestBrowserDevice_MicrophoneGranted(t *testing.T) {
	out := &recordingOutbox{}
	d := newBrowserDevice("s1", out, quiet)

	go func() {
		assert.Eventually(t, func() bool { return len(out.ofType(messages.TypeMicRequest)) == 1 }, time.Second, time.Millisecond)
		d.answerMic(messages.MicPayload{Granted: true, SampleRate: 48000})
	}()

	mic, err := d.RequestMicrophone(context.Background())
	require.NoError(t, err)
	require.NotNil(t, mic)

	input, err := d.OpenInput(context.Background(), audio.CaptureSampleRate)
	require.NoError(t, err)

	var frames []audio.Frame
	require.NoError(t, input.Tap(mic, 160, func(f audio.Frame) { frames = append(frames, f) }))

	// 10 ms at 48 kHz becomes 160 samples at 16 kHz.
	pcm := audio.Frame{Samples: make([]int16, 480), SampleRate: 48000}.Bytes()
	require.NoError(t, d.capture(pcm))
	require.Len(t, frames, 1)
	assert.Equal(t, audio.CaptureSampleRate, frames[0].SampleRate)
	assert.Len(t, frames[0].Samples, 160)

	require.NoError(t, mic.Release())
	assert.ErrorIs(t, d.capture(pcm), errNotGranted)
}

func TestBrowserDevice_MicrophoneDenied(t *testing.T) {
	out := &recordingOutbox{}
	d := newBrowserDevice("s1", out, quiet)

	go func() {
		assert.Eventually(t, func() bool { return len(out.ofType(messages.TypeMicRequest)) == 1 }, time.Second, time.Millisecond)
		d.answerMic(messages.MicPayload{Granted: false, Reason: "NotAllowedError"})
	}()

	_, err := d.RequestMicrophone(context.Background())
	assert.ErrorIs(t, err, errMicDenied)
	assert.ErrorContains(t, err, "NotAllowedError")
}

func TestBrowserDevice_ConsentNeverAnswered(t *testing.T) {
	d := newBrowserDevice("s1", &recordingOutbox{}, quiet)
	ctx, cancel := context.WithTimeoutCause(context.Background(), 20*time.Millisecond, voice.ErrTimeout)
	defer cancel()

	_, err := d.RequestMicrophone(ctx)
	assert.ErrorIs(t, err, voice.ErrTimeout)

	// A late answer finds nothing pending.
	d.answerMic(messages.MicPayload{Granted: true})
	assert.ErrorIs(t, d.capture([]byte{0, 0}), errNotGranted)
}

func TestBrowserDevice_OddFrameRejected(t *testing.T) {
	out := &recordingOutbox{}
	d := newBrowserDevice("s1", out, quiet)
	go func() {
		assert.Eventually(t, func() bool { return len(out.ofType(messages.TypeMicRequest)) == 1 }, time.Second, time.Millisecond)
		d.answerMic(messages.MicPayload{Granted: true})
	}()
	_, err := d.RequestMicrophone(context.Background())
	require.NoError(t, err)
	_, err = d.OpenInput(context.Background(), audio.CaptureSampleRate)
	require.NoError(t, err)

	assert.ErrorIs(t, d.capture([]byte{1, 2, 3}), audio.ErrOddLength)
}

func TestClockOutput_PlayEmitsWithOffset(t *testing.T) {
	out := &recordingOutbox{}
	d := newBrowserDevice("s1", out, quiet)
	output, err := d.OpenOutput(context.Background(), audio.PlaybackSampleRate)
	require.NoError(t, err)
	defer output.Close()

	f := audio.Frame{Samples: []int16{1, -1}, SampleRate: audio.PlaybackSampleRate}
	_, err = output.Play(f, 1500*time.Millisecond, nil)
	require.NoError(t, err)

	payloads := out.ofType(messages.TypeAudio)
	require.Len(t, payloads, 1)
	p := payloads[0].(messages.AudioResponsePayload)
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, 1500.0, p.StartAt)
	assert.Equal(t, "audio/pcm;rate=24000", p.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(f.Bytes()), p.Data)
}

func TestClockOutput_SourceEndsNaturally(t *testing.T) {
	out := &recordingOutbox{}
	o := newClockOutput(func(uint64, audio.Frame, time.Duration) {}, func([]uint64) { out.queueMessage("cancel") })

	ended := make(chan struct{})
	// 24 samples at 24 kHz is 1 ms.
	_, err := o.Play(audio.Frame{Samples: make([]int16, 24), SampleRate: 24000}, 0, func() { close(ended) })
	require.NoError(t, err)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("source never ended")
	}
	assert.Equal(t, 0, o.pending())
	assert.Empty(t, out.all())
}

func TestClockOutput_StopCancelsOnce(t *testing.T) {
	out := &recordingOutbox{}
	d := newBrowserDevice("s1", out, quiet)
	output, err := d.OpenOutput(context.Background(), audio.PlaybackSampleRate)
	require.NoError(t, err)

	var endedCount int
	src, err := output.Play(audio.Frame{Samples: make([]int16, 24000), SampleRate: 24000}, 0, func() { endedCount++ })
	require.NoError(t, err)

	src.Stop()
	src.Stop()
	assert.Equal(t, 1, endedCount)
	assert.Equal(t, []any{messages.StopAudioPayload{IDs: []uint64{1}}}, out.ofType(messages.TypeStopAudio))

	require.NoError(t, output.Close())
	_, err = output.Play(audio.Frame{Samples: []int16{1}, SampleRate: 24000}, 0, nil)
	assert.ErrorIs(t, err, errOutputClosed)
}

func TestClockOutput_CloseSilencesPending(t *testing.T) {
	var cancelled []uint64
	o := newClockOutput(func(uint64, audio.Frame, time.Duration) {}, func(ids []uint64) { cancelled = append(cancelled, ids...) })

	ended := false
	_, err := o.Play(audio.Frame{Samples: make([]int16, 24000), SampleRate: 24000}, time.Second, func() { ended = true })
	require.NoError(t, err)

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.Equal(t, []uint64{1}, cancelled)
	assert.False(t, ended)
	assert.Equal(t, 0, o.pending())
}

func TestTwilioDevice(t *testing.T) {
	out := &recordingOutbox{}
	d := newTwilioDevice(out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err := d.RequestMicrophone(ctx)
	cancel()
	assert.ErrorIs(t, err, errNoStream)

	_, err = d.OpenOutput(context.Background(), audio.PlaybackSampleRate)
	assert.ErrorIs(t, err, errNoStream)

	d.start("MZ1")
	d.start("MZ2")
	assert.Equal(t, "MZ1", d.stream())

	mic, err := d.RequestMicrophone(context.Background())
	require.NoError(t, err)
	input, err := d.OpenInput(context.Background(), audio.CaptureSampleRate)
	require.NoError(t, err)

	var frames []audio.Frame
	require.NoError(t, input.Tap(mic, 320, func(f audio.Frame) { frames = append(frames, f) }))

	// 20 ms of 8 kHz mu-law is 320 samples at 16 kHz, but the last two wait
	// for the next packet to interpolate against.
	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	require.NoError(t, d.media(payload))
	assert.Empty(t, frames)
	require.NoError(t, d.media(payload))
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Samples, 320)
	assert.Error(t, d.media("%%%"))

	output, err := d.OpenOutput(context.Background(), audio.PlaybackSampleRate)
	require.NoError(t, err)
	src, err := output.Play(audio.Frame{Samples: make([]int16, 480), SampleRate: 24000}, 0, nil)
	require.NoError(t, err)

	msgs := out.all()
	require.Len(t, msgs, 1)
	media := msgs[0].(*messages.TwilioMessageBack)
	assert.Equal(t, messages.TwilioMedia, media.Event)
	assert.Equal(t, "MZ1", media.StreamSid)
	raw, err := base64.StdEncoding.DecodeString(media.Media.Payload)
	require.NoError(t, err)
	assert.Len(t, raw, 160)

	src.Stop()
	msgs = out.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, messages.NewTwilioClear("MZ1"), msgs[1])
}

func TestTwilioDevice_OneClearPerInterruption(t *testing.T) {
	out := &recordingOutbox{}
	d := newTwilioDevice(out)
	d.start("MZ1")
	output, err := d.OpenOutput(context.Background(), audio.PlaybackSampleRate)
	require.NoError(t, err)

	clears := func() int {
		n := 0
		for _, m := range out.all() {
			if tm, ok := m.(*messages.TwilioMessageBack); ok && tm.Event == messages.TwilioClear {
				n++
			}
		}
		return n
	}
	frame := audio.Frame{Samples: make([]int16, 480), SampleRate: 24000}
	play := func(at time.Duration) voice.Source {
		src, err := output.Play(frame, at, nil)
		require.NoError(t, err)
		return src
	}

	sources := []voice.Source{play(0), play(20 * time.Millisecond), play(40 * time.Millisecond)}
	for _, src := range sources {
		src.Stop()
	}
	assert.Equal(t, 1, clears())

	// New audio after the interruption can be cleared again.
	play(time.Second).Stop()
	assert.Equal(t, 2, clears())

	require.NoError(t, output.Close())
	assert.Equal(t, 2, clears())
}

func TestPCMInput_ResamplesAcrossWrites(t *testing.T) {
	in := newPCMInput(audio.CaptureSampleRate)
	var got []int16
	require.NoError(t, in.Tap(nil, 160, func(f audio.Frame) { got = append(got, f.Samples...) }))

	// 44.1 kHz arrives in 128-sample writes that do not divide evenly.
	ramp := make([]int16, 4410)
	for i := range ramp {
		ramp[i] = int16(i)
	}
	for start := 0; start < len(ramp); start += 128 {
		in.write(audio.Frame{Samples: ramp[start:min(start+128, len(ramp))], SampleRate: 44100})
	}

	require.Len(t, got, 1600)
	for k, s := range got {
		require.Equal(t, int16(k*44100/16000), s, "sample %d", k)
	}
}

func TestToTelephone(t *testing.T) {
	f := toTelephone(audio.Frame{Samples: make([]int16, 240), SampleRate: 24000})
	assert.Equal(t, audio.MuLawSampleRate, f.SampleRate)
	assert.Len(t, f.Samples, 80)

	f = toTelephone(audio.Frame{Samples: make([]int16, 441), SampleRate: 44100})
	assert.Equal(t, audio.MuLawSampleRate, f.SampleRate)
	assert.Len(t, f.Samples, 80)
}

func TestRemoteMap(t *testing.T) {
	out := &recordingOutbox{}
	m := newRemoteMap("s1", out, geo.LatLng{Lat: 37.5665, Lng: 126.9780})
	syncer := mapsync.New(m)

	syncer.Sync(nil)
	assert.Empty(t, out.all())

	points := []geo.Point{
		{Name: "Shilla Hotel", Lat: 37.5558, Lng: 127.0051},
		{Name: "COEX", Lat: 37.5115, Lng: 127.0595},
	}
	syncer.Sync(points)
	syncer.Locate(geo.LatLng{Lat: 37.55, Lng: 126.99})

	ops := make([]string, 0)
	for _, p := range out.ofType(messages.TypeMap) {
		ops = append(ops, p.(messages.MapPayload).Op)
	}
	assert.Equal(t, []string{"clear", "marker", "marker", "fit", "user"}, ops)

	fit := out.ofType(messages.TypeMap)[3].(messages.MapPayload)
	require.NotNil(t, fit.View)
	assert.Equal(t, m.Layer().Viewport(), *fit.View)
	assert.Equal(t, mapsync.DefaultPadding, fit.Padding)
	assert.Equal(t, mapsync.DefaultMaxZoom, fit.MaxZoom)
	assert.Equal(t, points, m.Layer().Markers())
}

func TestVoiceInstruction(t *testing.T) {
	assert.Contains(t, VoiceInstruction("한국어"), "Respond primarily in 한국어.")
	assert.Contains(t, VoiceInstruction(""), "Respond primarily in English.")
}
