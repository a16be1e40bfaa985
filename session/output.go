package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/voice"
)

var (
	errOutputClosed = errors.New("session: output closed")
	errInputClosed  = errors.New("session: input closed")
)

// clockOutput is a voice.Output for a player on the far end of a socket.
// Its clock is wall time since creation. Each buffer is handed to emit with
// its start offset and ends by timer once its playback window has passed.
type clockOutput struct {
	start  time.Time
	emit   func(id uint64, f audio.Frame, at time.Duration)
	cancel func(ids []uint64)

	mu      sync.Mutex
	nextID  uint64
	sources map[uint64]*clockSource
	closed  bool
}

func newClockOutput(emit func(uint64, audio.Frame, time.Duration), cancel func([]uint64)) *clockOutput {
	return &clockOutput{
		start:   time.Now(),
		emit:    emit,
		cancel:  cancel,
		sources: make(map[uint64]*clockSource),
	}
}

func (o *clockOutput) Clock() time.Duration {
	return time.Since(o.start)
}

func (o *clockOutput) Play(f audio.Frame, at time.Duration, ended func()) (voice.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errOutputClosed
	}

	o.nextID++
	src := &clockSource{id: o.nextID, out: o, ended: ended}
	o.sources[src.id] = src
	o.emit(src.id, f, at)

	wait := max(at-o.Clock(), 0) + f.Duration()
	src.timer = time.AfterFunc(wait, func() { src.finish(false) })
	return src, nil
}

// Close silences every pending source without reporting them ended.
func (o *clockOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	ids := make([]uint64, 0, len(o.sources))
	for id, src := range o.sources {
		src.done.Store(true)
		src.timer.Stop()
		ids = append(ids, id)
	}
	clear(o.sources)
	o.mu.Unlock()

	if len(ids) > 0 {
		o.cancel(ids)
	}
	return nil
}

// pending returns the number of sources still playing.
func (o *clockOutput) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sources)
}

type clockSource struct {
	id    uint64
	out   *clockOutput
	ended func()
	timer *time.Timer
	done  atomic.Bool
}

func (s *clockSource) Stop() {
	s.finish(true)
}

func (s *clockSource) finish(stopped bool) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	s.out.mu.Lock()
	if stopped {
		s.timer.Stop()
	}
	delete(s.out.sources, s.id)
	s.out.mu.Unlock()

	if stopped {
		s.out.cancel([]uint64{s.id})
	}
	if s.ended != nil {
		s.ended()
	}
}

// pcmInput is a voice.Input fed by a socket. It re-frames incoming audio to
// the session's capture buffer size.
type pcmInput struct {
	rate int

	mu        sync.Mutex
	resampler *audio.Resampler
	framer    *audio.Framer
	tap       func(audio.Frame)
	closed    bool
}

func newPCMInput(rate int) *pcmInput {
	return &pcmInput{rate: rate}
}

func (in *pcmInput) Tap(_ voice.Microphone, bufferSize int, fn func(audio.Frame)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return errInputClosed
	}
	in.resampler = audio.NewResampler(in.rate)
	in.framer = audio.NewFramer(bufferSize, in.rate)
	in.tap = fn
	return nil
}

// write resamples f to the input rate and delivers every complete frame. It
// is only called from the socket read loop, so tap never runs concurrently
// with itself.
func (in *pcmInput) write(f audio.Frame) {
	in.mu.Lock()
	resampler, framer, tap := in.resampler, in.framer, in.tap
	in.mu.Unlock()
	if tap == nil {
		return
	}
	for _, frame := range framer.Write(resampler.Process(f).Samples) {
		tap(frame)
	}
}

func (in *pcmInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.tap = nil
	in.resampler = nil
	in.framer = nil
	return nil
}
