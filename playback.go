package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/consult-live/shared"
)

type SchedulerOptions struct {
	// MaxLead bounds how far ahead of the device clock a chunk may be
	// scheduled. Chunks beyond it are rejected with ErrPlaybackBacklog.
	// Zero disables the bound.
	MaxLead time.Duration
	// OnSpeaking is called with the new value whenever the speaking flag
	// flips. It runs with the scheduler locked and must not call back into
	// the scheduler.
	OnSpeaking func(speaking bool)
}

// Scheduler sequences decoded chunks on a PlaybackDevice. Each chunk starts
// at max(device clock, cursor) and advances the cursor by its duration, so
// chunks play back to back in the order they were scheduled. The set of
// active handles is the speaking signal: it is non-empty exactly while the
// remote side is audible.
type Scheduler struct {
	device  PlaybackDevice
	maxLead float64
	onSpeak func(bool)

	mu       sync.Mutex
	cursor   float64
	nextID   uint64
	active   map[uint64]func()
	speaking bool
	closed   bool
}

func NewScheduler(device PlaybackDevice, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		device:  device,
		maxLead: opts.MaxLead.Seconds(),
		onSpeak: opts.OnSpeaking,
		active:  make(map[uint64]func()),
	}
}

// Schedule queues buf right after everything scheduled before it and
// returns its start time on the device clock.
func (s *Scheduler) Schedule(buf Buffer) (start float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, shared.ErrSessionEnded
	}
	if buf.SampleRate != s.device.SampleRate() {
		return 0, fmt.Errorf("buffer rate %d does not match device rate %d", buf.SampleRate, s.device.SampleRate())
	}
	now := s.device.Now()
	start = max(now, s.cursor)
	if len(buf.Samples) == 0 {
		return start, nil
	}
	if s.maxLead > 0 && start-now > s.maxLead {
		return start, fmt.Errorf("%w: %.2fs ahead of the clock", shared.ErrPlaybackBacklog, start-now)
	}
	s.nextID++
	id := s.nextID
	stop, err := s.device.Play(buf.Samples, start, func() { s.ended(id) })
	if err != nil {
		return start, fmt.Errorf("playing buffer: %w", err)
	}
	s.cursor = start + buf.Duration()
	s.active[id] = stop
	s.setSpeaking(true)
	return start, nil
}

// ended is the natural-completion callback of handle id. Completions of
// handles already stopped by Interrupt or Close are ignored.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	if len(s.active) == 0 {
		s.setSpeaking(false)
	}
}

// Interrupt stops every active buffer, clears the set and moves the cursor
// to the current device time so the next chunk starts now. It returns the
// number of buffers stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.stopAll()
	if !s.closed {
		s.cursor = s.device.Now()
	}
	s.setSpeaking(false)
	return n
}

func (s *Scheduler) stopAll() int {
	n := len(s.active)
	for id, stop := range s.active {
		if stop != nil {
			stop()
		}
		delete(s.active, id)
	}
	return n
}

func (s *Scheduler) setSpeaking(v bool) {
	if s.speaking == v {
		return
	}
	s.speaking = v
	if s.onSpeak != nil {
		s.onSpeak(v)
	}
}

func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close cancels all pending and playing buffers. Later calls to Schedule
// fail with ErrSessionEnded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopAll()
	s.closed = true
	s.setSpeaking(false)
}
