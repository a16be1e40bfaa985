package voice

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/afsheen-enterprise/concierge/audio"
)

type fakeMic struct {
	mu       sync.Mutex
	released int
}

func (m *fakeMic) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

func (m *fakeMic) releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

type fakeInput struct {
	mu         sync.Mutex
	fn         func(audio.Frame)
	bufferSize int
	closed     bool
	tapErr     error
}

func (in *fakeInput) Tap(_ Microphone, bufferSize int, fn func(audio.Frame)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.tapErr != nil {
		return in.tapErr
	}
	in.fn = fn
	in.bufferSize = bufferSize
	return nil
}

func (in *fakeInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.fn = nil
	return nil
}

func (in *fakeInput) emit(f audio.Frame) {
	in.mu.Lock()
	fn := in.fn
	in.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (in *fakeInput) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

type fakeSource struct {
	mu      sync.Mutex
	stopped bool
	once    sync.Once
	ended   func()
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish()
}

func (s *fakeSource) finish() {
	s.once.Do(s.ended)
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type play struct {
	at       time.Duration
	duration time.Duration
	src      *fakeSource
}

type fakeOutput struct {
	mu      sync.Mutex
	clock   time.Duration
	plays   []play
	closed  bool
	playErr error
}

func (o *fakeOutput) Clock() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clock
}

func (o *fakeOutput) setClock(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clock = d
}

func (o *fakeOutput) Play(f audio.Frame, at time.Duration, ended func()) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playErr != nil {
		return nil, o.playErr
	}
	src := &fakeSource{ended: ended}
	o.plays = append(o.plays, play{at: at, duration: f.Duration(), src: src})
	return src, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) scheduled() []play {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]play(nil), o.plays...)
}

func (o *fakeOutput) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeDevice struct {
	mic    *fakeMic
	input  *fakeInput
	output *fakeOutput

	micErr   error
	micBlock bool
	inputErr error

	mu         sync.Mutex
	inputRates []int
	outputRate []int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{mic: &fakeMic{}, input: &fakeInput{}, output: &fakeOutput{}}
}

func (d *fakeDevice) RequestMicrophone(ctx context.Context) (Microphone, error) {
	if d.micBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.mic, nil
}

func (d *fakeDevice) OpenInput(_ context.Context, rate int) (Input, error) {
	d.mu.Lock()
	d.inputRates = append(d.inputRates, rate)
	d.mu.Unlock()
	if d.inputErr != nil {
		return nil, d.inputErr
	}
	return d.input, nil
}

func (d *fakeDevice) OpenOutput(_ context.Context, rate int) (Output, error) {
	d.mu.Lock()
	d.outputRate = append(d.outputRate, rate)
	d.mu.Unlock()
	return d.output, nil
}

func (d *fakeDevice) inputsOpened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inputRates)
}

type fakeRemote struct {
	mu      sync.Mutex
	sent    []audio.Chunk
	closed  bool
	sendErr error
}

func (r *fakeRemote) Send(c audio.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, c)
	return nil
}

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRemote) chunks() []audio.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Chunk(nil), r.sent...)
}

func (r *fakeRemote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// fakeConnector opens immediately unless manualOpen is set. Every Connect
// call's handlers are kept so tests can replay stale events.
type fakeConnector struct {
	remote     *fakeRemote
	err        error
	block      bool
	manualOpen bool

	mu       sync.Mutex
	handlers []Handlers
}

func (c *fakeConnector) Connect(ctx context.Context, h Handlers) (Remote, error) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()

	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	if !c.manualOpen {
		h.OnOpen()
	}
	return c.remote, nil
}

func (c *fakeConnector) last() Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[len(c.handlers)-1]
}

func (c *fakeConnector) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// pcmChunk returns base64 silence lasting d at the playback rate.
func pcmChunk(d time.Duration) string {
	samples := int(d * audio.PlaybackSampleRate / time.Second)
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}
