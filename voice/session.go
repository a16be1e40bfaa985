package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/afsheen-enterprise/concierge/audio"
	"github.com/afsheen-enterprise/concierge/observe"
)

// Session is one reusable voice conversation slot. The zero value is not
// usable; create sessions with New.
//
// Locking: mu guards state, the generation counter, the playback cursor and
// the held resources. liveMu guards the live source set and is always taken
// after mu, never before, so a source's ended callback only needs liveMu.
// Resources are closed with neither lock held.
type Session struct {
	connector Connector
	device    Device

	startTimeout time.Duration
	bufferSize   int
	logger       *slog.Logger
	metrics      *observe.Metrics

	onState      func(State)
	onTranscript func(Transcript)
	onTurn       func()
	onError      func(error)

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelCauseFunc
	remote Remote
	mic    Microphone
	input  Input
	output Output
	cursor time.Duration
	seq    uint64

	// starting is closed once the pending Start has returned.
	starting chan struct{}

	liveMu sync.Mutex
	live   map[uint64]Source
	nextID uint64
}

// Option configures a Session.
type Option func(*Session)

// WithStartTimeout bounds how long Start waits for microphone consent and
// the remote handshake together. Zero means no bound beyond the caller's
// context.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Session) { s.startTimeout = d }
}

// WithBufferSize sets the capture buffer size in samples. Default:
// audio.CaptureBufferSize.
func WithBufferSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// OnStateChange registers fn to observe every state transition.
func OnStateChange(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// OnTranscript registers fn to receive speech transcripts.
func OnTranscript(fn func(Transcript)) Option {
	return func(s *Session) { s.onTranscript = fn }
}

// OnTurnComplete registers fn to be told when the model finishes a turn.
func OnTurnComplete(fn func()) Option {
	return func(s *Session) { s.onTurn = fn }
}

// OnError registers fn to receive failures that tore down an active
// session. Start failures are returned from Start instead.
func OnError(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

// New creates an Idle session.
func New(connector Connector, device Device, opts ...Option) *Session {
	s := &Session{
		connector:  connector,
		device:     device,
		bufferSize: audio.CaptureBufferSize,
		logger:     slog.Default(),
		live:       make(map[uint64]Source),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the playback time at which the next inbound chunk would
// start at the earliest.
func (s *Session) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// LiveSources returns the number of sources scheduled or playing.
func (s *Session) LiveSources() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return len(s.live)
}

// Start acquires the microphone and both audio contexts, opens the remote
// session and waits for it to report open. It returns nil once the session
// is Active. On any failure every acquired resource is released and the
// session is back in Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.gen++
	g := s.gen
	sctx, cancel := context.WithCancelCause(ctx)
	if s.startTimeout > 0 {
		var stop context.CancelFunc
		sctx, stop = context.WithTimeoutCause(sctx, s.startTimeout, ErrTimeout)
		defer stop()
	}
	s.cancel = cancel
	starting := make(chan struct{})
	s.starting = starting
	s.cursor = 0
	s.seq = 0
	s.setStateLocked(Connecting)
	s.mu.Unlock()
	defer close(starting)
	s.notify(Connecting)
	defer cancel(nil)

	var (
		mic    Microphone
		input  Input
		output Output
		remote Remote
	)
	abort := func(kind, err error) error {
		err = startError(sctx, kind, err)
		release(s.logger, remote, input, mic, output)

		s.mu.Lock()
		reset := s.gen == g
		if reset {
			s.gen++
			s.cancel = nil
			s.setStateLocked(Idle)
		}
		s.mu.Unlock()
		if reset {
			s.notify(Idle)
		}

		s.metrics.RecordVoiceError(context.Background(), errorKind(err))
		s.logger.Warn("❌ voice session failed to start", "err", err)
		return err
	}

	mic, err := s.device.RequestMicrophone(sctx)
	if err != nil {
		return abort(ErrPermissionDenied, err)
	}
	if input, err = s.device.OpenInput(sctx, audio.CaptureSampleRate); err != nil {
		return abort(ErrSessionOpen, fmt.Errorf("open input: %w", err))
	}
	if output, err = s.device.OpenOutput(sctx, audio.PlaybackSampleRate); err != nil {
		return abort(ErrSessionOpen, fmt.Errorf("open output: %w", err))
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	h := s.handlers(g, func() { openOnce.Do(func() { close(opened) }) })

	if remote, err = s.connector.Connect(sctx, h); err != nil {
		return abort(ErrSessionOpen, err)
	}

	select {
	case <-opened:
	case <-sctx.Done():
	}
	if sctx.Err() != nil {
		return abort(ErrSessionOpen, sctx.Err())
	}

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return abort(ErrStopped, ErrStopped)
	}
	s.cancel = nil
	s.mic, s.input, s.output, s.remote = mic, input, output, remote
	s.setStateLocked(Active)
	s.mu.Unlock()
	s.notify(Active)

	if err := input.Tap(mic, s.bufferSize, s.capture(g)); err != nil {
		s.fail(g, fmt.Errorf("%w: tap input: %w", ErrSessionOpen, err))
		return fmt.Errorf("%w: tap input: %w", ErrSessionOpen, err)
	}

	s.logger.Info("🎙️ voice session active", "buffer_size", s.bufferSize)
	return nil
}

// Stop tears the session down. A pending Start is cancelled and returns
// ErrStopped; Stop waits for it to release what it acquired, so it must not
// be called from the goroutine running Start. Stop on an Idle session does
// nothing and calling it repeatedly is safe.
func (s *Session) Stop() {
	s.mu.Lock()
	g := s.gen
	s.mu.Unlock()
	s.teardown(g, ErrStopped)
}

// teardown moves generation g to Idle. cause cancels a pending start.
func (s *Session) teardown(g uint64, cause error) {
	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case Connecting:
		cancel, starting := s.cancel, s.starting
		s.cancel = nil
		s.gen++
		s.setStateLocked(Idle)
		s.mu.Unlock()
		// The pending Start releases what it acquired itself.
		if cancel != nil {
			cancel(cause)
		}
		if starting != nil {
			<-starting
		}
		s.notify(Idle)
		return
	case Active:
	default:
		s.mu.Unlock()
		return
	}

	s.gen++
	s.setStateLocked(Closing)
	remote, input, mic, output := s.remote, s.input, s.mic, s.output
	s.remote, s.input, s.mic, s.output = nil, nil, nil, nil
	s.cursor = 0
	s.mu.Unlock()
	s.notify(Closing)

	for _, src := range s.takeLive() {
		src.Stop()
	}
	release(s.logger, remote, input, mic, output)

	s.mu.Lock()
	s.setStateLocked(Idle)
	s.mu.Unlock()
	s.notify(Idle)

	s.logger.Info("🔌 voice session closed")
}

// fail reports err and tears generation g down. During Connecting it aborts
// the pending start instead.
func (s *Session) fail(g uint64, err error) {
	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return
	}
	state := s.state
	cancel := s.cancel
	s.mu.Unlock()

	switch state {
	case Connecting:
		if cancel != nil {
			cancel(fmt.Errorf("%w: %w", ErrSessionOpen, err))
		}
	case Active:
		if !errors.Is(err, errRemoteClosed) {
			s.metrics.RecordVoiceError(context.Background(), errorKind(err))
			s.logger.Error("❌ voice session error", "err", err)
			if s.onError != nil {
				s.onError(err)
			}
		}
		s.teardown(g, err)
	}
}

func (s *Session) handlers(g uint64, opened func()) Handlers {
	return Handlers{
		OnOpen: opened,
		OnAudio: func(data, mimeType string) {
			s.schedule(g, data, mimeType)
		},
		OnInterrupted: func() {
			s.interrupt(g)
		},
		OnTranscript: func(t Transcript) {
			if s.current(g) && s.onTranscript != nil {
				s.onTranscript(t)
			}
		},
		OnTurnComplete: func() {
			if s.current(g) && s.onTurn != nil {
				s.onTurn()
			}
		},
		OnError: func(err error) {
			s.fail(g, fmt.Errorf("%w: %w", ErrSessionRuntime, err))
		},
		OnClose: func() {
			s.fail(g, errRemoteClosed)
		},
	}
}

func (s *Session) current(g uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == g && s.state == Active
}

// capture returns the tap callback for generation g: encode and send each
// frame as it arrives, with no retry and no queue.
func (s *Session) capture(g uint64) func(audio.Frame) {
	return func(f audio.Frame) {
		s.mu.Lock()
		if s.gen != g || s.state != Active {
			s.mu.Unlock()
			return
		}
		remote := s.remote
		s.mu.Unlock()

		chunk := audio.Encode(audio.Resample(f, audio.CaptureSampleRate))
		if err := remote.Send(chunk); err != nil {
			s.fail(g, fmt.Errorf("%w: send: %w", ErrSessionRuntime, err))
			return
		}
		s.metrics.ChunksSent.Add(context.Background(), 1)
	}
}

// schedule decodes an inbound chunk and queues it right after everything
// already scheduled. Chunks are handled in delivery order.
func (s *Session) schedule(g uint64, data, mimeType string) {
	frame, err := audio.Decode(data, audio.RateFromMIME(mimeType, audio.PlaybackSampleRate))
	if err != nil {
		s.fail(g, fmt.Errorf("%w: %w", ErrDecode, err))
		return
	}

	s.mu.Lock()
	if s.gen != g || s.state != Active {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	start := max(s.cursor, s.output.Clock())
	s.cursor = start + frame.Duration()

	s.liveMu.Lock()
	s.nextID++
	id := s.nextID
	s.live[id] = nil
	s.liveMu.Unlock()

	src, err := s.output.Play(frame, start, func() { s.ended(id) })
	if err != nil {
		s.mu.Unlock()
		s.ended(id)
		s.fail(g, fmt.Errorf("%w: play: %w", ErrSessionRuntime, err))
		return
	}

	s.liveMu.Lock()
	if _, ok := s.live[id]; ok {
		s.live[id] = src
	}
	s.liveMu.Unlock()
	s.mu.Unlock()

	s.metrics.ChunksScheduled.Add(context.Background(), 1)
	s.logger.Debug("voice: chunk scheduled", "seq", seq, "start", start, "duration", frame.Duration())
}

// interrupt silences everything scheduled and rewinds the cursor.
func (s *Session) interrupt(g uint64) {
	s.mu.Lock()
	if s.gen != g || s.state != Active {
		s.mu.Unlock()
		return
	}
	s.cursor = 0
	sources := s.takeLive()
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	s.metrics.Interruptions.Add(context.Background(), 1)
	s.logger.Debug("voice: playback interrupted", "stopped", len(sources))
}

func (s *Session) ended(id uint64) {
	s.liveMu.Lock()
	delete(s.live, id)
	s.liveMu.Unlock()
}

// takeLive empties the live set and returns its sources.
func (s *Session) takeLive() []Source {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	sources := make([]Source, 0, len(s.live))
	for id, src := range s.live {
		if src != nil {
			sources = append(sources, src)
		}
		delete(s.live, id)
	}
	return sources
}

func (s *Session) setStateLocked(st State) {
	prev := s.state
	s.state = st
	switch {
	case prev == Idle && st != Idle:
		s.metrics.ActiveVoiceSessions.Add(context.Background(), 1)
	case prev != Idle && st == Idle:
		s.metrics.ActiveVoiceSessions.Add(context.Background(), -1)
	}
}

func (s *Session) notify(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}

// startError classifies a Start failure, preferring the reason the start
// context was cancelled for.
func startError(ctx context.Context, kind, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, ErrStopped):
			return ErrStopped
		case errors.Is(cause, ErrTimeout):
			return ErrTimeout
		case errors.Is(cause, context.DeadlineExceeded):
			return fmt.Errorf("%w: %w", ErrTimeout, cause)
		case errors.Is(cause, ErrSessionOpen):
			return cause
		}
		return fmt.Errorf("%w: %w", kind, cause)
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// release closes whatever is non-nil, remote first so no more events arrive.
func release(logger *slog.Logger, remote Remote, input Input, mic Microphone, output Output) {
	if remote != nil {
		if err := remote.Close(); err != nil {
			logger.Debug("voice: close remote", "err", err)
		}
	}
	if input != nil {
		if err := input.Close(); err != nil {
			logger.Debug("voice: close input", "err", err)
		}
	}
	if mic != nil {
		if err := mic.Release(); err != nil {
			logger.Debug("voice: release microphone", "err", err)
		}
	}
	if output != nil {
		if err := output.Close(); err != nil {
			logger.Debug("voice: close output", "err", err)
		}
	}
}
