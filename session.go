package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/consult-live/observe"
	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallConfig describes one call.
type CallConfig struct {
	Persona Persona
	// Video also acquires the camera and uses the video-call greeting.
	Video bool
	// Voice overrides the transport's default voice.
	Voice string
	// Model overrides the transport's default model.
	Model string
}

// Stats are running counters of a session.
type Stats struct {
	FramesCaptured  uint64
	FramesSent      uint64
	FramesMuted     uint64
	FramesDropped   uint64
	ChunksScheduled uint64
	ChunksDropped   uint64
	DecodeErrors    uint64
	Interruptions   uint64
}

type sessionCounters struct {
	framesCaptured  atomic.Uint64
	framesSent      atomic.Uint64
	framesMuted     atomic.Uint64
	framesDropped   atomic.Uint64
	chunksScheduled atomic.Uint64
	chunksDropped   atomic.Uint64
	decodeErrors    atomic.Uint64
	interruptions   atomic.Uint64
}

// Session is one live call. It is created by Manager.Start and ends exactly
// once, through End, a remote close or a fatal transport error. A closed
// session is never reopened.
type Session struct {
	id        string
	cfg       CallConfig
	opts      sessionOptions
	logger    shared.LoggerAdapter
	metrics   *observe.Metrics
	transport Transport
	formats   AudioFormats
	media     MediaSource
	output    OutputSource
	events    *notifier
	outbound  *FrameQueue

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	state     State
	capture   CaptureDevice
	device    PlaybackDevice
	conn      Conn
	scheduler *Scheduler
	openedAt  time.Time
	closedAt  time.Time
	reason    EndReason
	err       error

	captureRate atomic.Int64
	muted       atomic.Bool
	closing     atomic.Bool
	counters    sessionCounters

	wg      sync.WaitGroup
	endOnce sync.Once
	done    chan struct{}
}

func newSession(m *Manager, cfg CallConfig, h EventHandler) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		id:        id,
		cfg:       cfg,
		opts:      m.opts,
		metrics:   m.metrics,
		transport: m.transport,
		formats:   m.transport.Formats(),
		media:     m.media,
		output:    m.output,
		events:    newNotifier(h),
		outbound:  NewFrameQueue(m.opts.outboundQueue, m.opts.dropPolicy),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
	s.logger = m.logger.With(
		zap.String("session", id),
		zap.String("transport", m.transport.Name()),
		zap.String("persona", cfg.Persona.Name),
	)
	// held by start until it returns
	s.wg.Add(1)
	return s
}

// start acquires the devices, connects and launches the session goroutines.
// It returns once the session is open.
func (s *Session) start(callerCtx context.Context) (err error) {
	defer s.wg.Done()
	opCtx, cancel := context.WithCancelCause(s.ctx)
	defer cancel(nil)
	stop := context.AfterFunc(callerCtx, func() { cancel(context.Cause(callerCtx)) })
	defer stop()

	defer func() {
		if err == nil {
			return
		}
		if s.closing.Load() {
			err = shared.ErrSessionEnded
			return
		}
		s.fail(err)
	}()

	s.setState(StateConnecting)

	capture, err := s.media.Open(opCtx, MediaRequest{
		Video:        s.cfg.Video,
		SampleRate:   s.opts.captureRate,
		FrameSamples: s.opts.frameSamples,
	})
	if err != nil {
		return &shared.MediaAccessError{Device: captureDeviceName(s.cfg.Video), Err: interrupted(opCtx, err)}
	}
	if !s.adopt(func() { s.capture = capture }) {
		_ = capture.Close()
		return shared.ErrSessionEnded
	}
	s.captureRate.Store(int64(capture.SampleRate()))

	device, err := s.output.OpenOutput(opCtx, s.formats.OutputRate)
	if err != nil {
		return &shared.MediaAccessError{Device: "speaker", Err: interrupted(opCtx, err)}
	}
	scheduler := NewScheduler(device, SchedulerOptions{
		MaxLead:    s.opts.maxPlaybackLead,
		OnSpeaking: s.onSpeaking,
	})
	if !s.adopt(func() { s.device, s.scheduler = device, scheduler }) {
		_ = device.Close()
		return shared.ErrSessionEnded
	}

	// Frames captured from here on wait in the outbound queue until the
	// sender starts.
	if err := capture.Start(s.onCapturedFrame); err != nil {
		return &shared.MediaAccessError{Device: "microphone", Err: err}
	}

	dialCtx, dialCancel := context.WithTimeout(opCtx, s.opts.connectTimeout)
	defer dialCancel()
	began := time.Now()
	s.logger.Info("connecting", zap.Bool("video", s.cfg.Video))
	conn, err := s.transport.Connect(dialCtx, Setup{
		Model:             s.cfg.Model,
		Voice:             s.cfg.Voice,
		SystemInstruction: Instruction(s.cfg.Persona, s.cfg.Video),
		Video:             s.cfg.Video,
	})
	if err != nil {
		return &shared.TransportError{Op: "connect", Err: interrupted(dialCtx, err)}
	}
	s.metrics.ConnectDuration.Record(s.ctx, time.Since(began).Seconds())

	opened := s.adopt(func() {
		s.conn = conn
		s.state = StateOpen
		s.openedAt = time.Now()
	})
	if !opened {
		_ = conn.Close()
		return shared.ErrSessionEnded
	}
	s.metrics.ActiveSessions.Add(s.ctx, 1)
	s.events.post(Event{Kind: EventStateChanged, SessionID: s.id, State: StateOpen})
	s.logger.Info("session open", zap.Duration("connect", time.Since(began)))

	s.wg.Add(3)
	go s.sendLoop()
	go s.recvLoop()
	go s.tickLoop()
	return nil
}

// interrupted replaces a bare cancellation error with the cause of ctx.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return context.Cause(ctx)
	}
	return err
}

// adopt runs fn under the session lock unless the session is already
// ending, in which case the caller still owns whatever fn would have stored.
func (s *Session) adopt(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	fn()
	return true
}

func captureDeviceName(video bool) string {
	if video {
		return "microphone+camera"
	}
	return "microphone"
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.events.post(Event{Kind: EventStateChanged, SessionID: s.id, State: st})
}

// onCapturedFrame runs on the capture goroutine and never blocks.
func (s *Session) onCapturedFrame(samples []float32) {
	s.counters.framesCaptured.Add(1)
	s.metrics.FramesCaptured.Add(s.ctx, 1)
	if s.closing.Load() {
		return
	}
	if s.muted.Load() {
		s.counters.framesMuted.Add(1)
		s.metrics.RecordFrameDropped(s.ctx, observe.ReasonMuted, 1)
		return
	}
	frame := tools.ResampleFloat32(samples, int(s.captureRate.Load()), s.formats.InputRate)
	if dropped := s.outbound.Push(tools.CreateBlob(frame, s.formats.InputRate)); dropped > 0 {
		s.counters.framesDropped.Add(uint64(dropped))
		s.metrics.RecordFrameDropped(s.ctx, observe.ReasonQueueFull, dropped)
	}
}

func (s *Session) onSpeaking(speaking bool) {
	s.events.post(Event{Kind: EventSpeakingChanged, SessionID: s.id, Speaking: speaking})
}

func (s *Session) sendLoop() {
	defer s.wg.Done()
	for {
		blob, err := s.outbound.Pop(s.ctx)
		if err != nil {
			return
		}
		if err := s.conn.SendAudio(s.ctx, blob); err != nil {
			if s.closing.Load() {
				return
			}
			s.fail(&shared.TransportError{Op: "send", Err: err})
			return
		}
		s.counters.framesSent.Add(1)
		s.metrics.FramesSent.Add(s.ctx, 1)
	}
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	for {
		msg, err := s.conn.Recv(s.ctx)
		if err != nil {
			if s.closing.Load() {
				return
			}
			if errors.Is(err, shared.ErrRemoteClosed) {
				s.logger.Info("remote side closed the session", zap.Error(err))
				s.terminate(EndRemote, nil)
				return
			}
			s.fail(&shared.TransportError{Op: "receive", Err: err})
			return
		}
		s.handleServerMessage(msg)
	}
}

// handleServerMessage applies one inbound message. Messages are handled in
// receipt order by recvLoop only, which keeps chunk order intact.
func (s *Session) handleServerMessage(msg ServerMessage) {
	if msg.Interrupted {
		n := s.scheduler.Interrupt()
		s.counters.interruptions.Add(1)
		s.metrics.Interruptions.Add(s.ctx, 1)
		s.logger.Debug("remote turn interrupted", zap.Int("stopped", n))
	}
	for _, blob := range msg.Audio {
		samples, rate, err := tools.DecodeBlob(blob, s.formats.OutputRate)
		if err != nil {
			s.counters.decodeErrors.Add(1)
			s.metrics.RecordChunkDropped(s.ctx, observe.ReasonDecode)
			s.logger.Warn("dropping undecodable audio chunk",
				zap.Error(&shared.DecodeError{MIMEType: blob.MIMEType, Err: err}))
			continue
		}
		outRate := s.device.SampleRate()
		buf := Buffer{Samples: tools.ResampleFloat32(samples, rate, outRate), SampleRate: outRate}
		now := s.device.Now()
		start, err := s.scheduler.Schedule(buf)
		switch {
		case err == nil:
			s.counters.chunksScheduled.Add(1)
			s.metrics.ChunksScheduled.Add(s.ctx, 1)
			s.metrics.PlaybackLead.Record(s.ctx, start-now)
		case errors.Is(err, shared.ErrPlaybackBacklog):
			s.counters.chunksDropped.Add(1)
			s.metrics.RecordChunkDropped(s.ctx, observe.ReasonBacklog)
			s.logger.Warn("dropping audio chunk", zap.Error(err))
		case errors.Is(err, shared.ErrSessionEnded):
			return
		default:
			s.counters.chunksDropped.Add(1)
			s.logger.Error("scheduling audio chunk", err)
		}
	}
	if msg.TurnComplete {
		s.logger.Trace("remote turn complete")
	}
}

func (s *Session) tickLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.events.post(Event{Kind: EventTick, SessionID: s.id, Elapsed: s.Elapsed()})
		}
	}
}

func (s *Session) fail(err error) {
	var te *shared.TransportError
	if errors.As(err, &te) {
		s.metrics.RecordTransportError(s.ctx, s.transport.Name(), te.Op)
	}
	s.logger.Error("ending session", err)
	s.terminate(EndError, err)
}

// terminate is the single teardown path. Only the first call has an effect.
func (s *Session) terminate(reason EndReason, cause error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.closing.Store(true)
		wasOpen := s.state == StateOpen
		s.state = StateClosed
		s.closedAt = time.Now()
		s.reason = reason
		s.err = cause
		capture, device, conn, scheduler := s.capture, s.device, s.conn, s.scheduler
		s.mu.Unlock()

		if capture != nil {
			if err := capture.Close(); err != nil {
				s.logger.Warn("closing capture device", zap.Error(err))
			}
		}
		s.outbound.Close()
		if scheduler != nil {
			scheduler.Close()
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Debug("closing connection", zap.Error(err))
			}
		}
		if cause == nil {
			s.cancel(shared.ErrSessionEnded)
		} else {
			s.cancel(cause)
		}
		if device != nil {
			if err := device.Close(); err != nil {
				s.logger.Warn("closing playback device", zap.Error(err))
			}
		}

		ctx := context.Background()
		if wasOpen {
			s.metrics.ActiveSessions.Add(ctx, -1)
		}
		s.metrics.RecordSessionEnded(ctx, s.transport.Name(), string(reason))
		s.logger.Info("session closed",
			zap.String("reason", string(reason)),
			zap.Duration("elapsed", s.Elapsed()),
			zap.Uint64("framesSent", s.counters.framesSent.Load()),
			zap.Uint64("chunksScheduled", s.counters.chunksScheduled.Load()),
		)
		s.events.post(Event{Kind: EventStateChanged, SessionID: s.id, State: StateClosed})
		s.events.post(Event{Kind: EventEnded, SessionID: s.id, Reason: reason, Err: cause, Elapsed: s.Elapsed()})

		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
}

// End closes the connection, releases the capture and playback devices and
// cancels all playback. It is safe to call any number of times, from any
// state, and returns once everything has been released.
func (s *Session) End() {
	s.terminate(EndLocal, nil)
	<-s.done
}

// SetMuted toggles transmission of captured frames. Capture keeps running
// while muted; frames are dropped before encoding.
func (s *Session) SetMuted(muted bool) {
	if s.muted.Swap(muted) == muted {
		return
	}
	s.logger.Debug("mute changed", zap.Bool("muted", muted))
	s.events.post(Event{Kind: EventMuteChanged, SessionID: s.id, Muted: muted})
}

func (s *Session) Muted() bool { return s.muted.Load() }

func (s *Session) ID() string { return s.id }

func (s *Session) Config() CallConfig { return s.cfg }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speaking reports whether remote audio is scheduled or playing.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	sched := s.scheduler
	s.mu.Unlock()
	return sched != nil && sched.Speaking()
}

// Elapsed is the time since the session opened, frozen once it closed.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openedAt.IsZero() {
		return 0
	}
	if !s.closedAt.IsZero() {
		return s.closedAt.Sub(s.openedAt)
	}
	return time.Since(s.openedAt)
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reason returns why the session ended, or "" while it runs.
func (s *Session) Reason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session ended and released everything.
func (s *Session) Done() <-chan struct{} { return s.done }

// EventsDone is closed after the handler returned from the Ended event.
func (s *Session) EventsDone() <-chan struct{} { return s.events.Done() }

func (s *Session) Stats() Stats {
	return Stats{
		FramesCaptured:  s.counters.framesCaptured.Load(),
		FramesSent:      s.counters.framesSent.Load(),
		FramesMuted:     s.counters.framesMuted.Load(),
		FramesDropped:   s.counters.framesDropped.Load(),
		ChunksScheduled: s.counters.chunksScheduled.Load(),
		ChunksDropped:   s.counters.chunksDropped.Load(),
		DecodeErrors:    s.counters.decodeErrors.Load(),
		Interruptions:   s.counters.interruptions.Load(),
	}
}
