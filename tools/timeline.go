package tools

import (
	"io"
	"math"
	"sync"
)

type voice struct {
	start   int64
	samples []float32
	onEnded func()
}

// Timeline mixes mono voices placed at absolute positions on a sample clock
// and renders them as PCM16LE through Read. The clock advances by exactly the
// number of samples read, so Now is the position of the next rendered
// sample.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	nextID uint64
	voices map[uint64]*voice
	closed bool
}

func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate, voices: make(map[uint64]*voice)}
}

func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the clock in seconds.
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / float64(t.rate)
}

// Schedule places samples to start at the given clock time. A start in the
// past begins at the current position. onEnded runs once the last sample has
// been rendered, never when the voice is stopped. The returned stop func is
// idempotent.
func (t *Timeline) Schedule(samples []float32, at float64, onEnded func()) (stop func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, io.ErrClosedPipe
	}
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.pos {
		start = t.pos
	}
	t.nextID++
	id := t.nextID
	t.voices[id] = &voice{start: start, samples: samples, onEnded: onEnded}
	return func() {
		t.mu.Lock()
		delete(t.voices, id)
		t.mu.Unlock()
	}, nil
}

// Active returns the number of voices not yet finished.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Read renders len(p)/2 samples. Silence is rendered where no voice plays.
func (t *Timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}
	mix := make([]float32, n)
	end := t.pos + int64(n)
	var finished []func()
	for id, v := range t.voices {
		vEnd := v.start + int64(len(v.samples))
		from := max(v.start, t.pos)
		to := min(vEnd, end)
		for i := from; i < to; i++ {
			mix[i-t.pos] += v.samples[i-v.start]
		}
		if vEnd <= end {
			delete(t.voices, id)
			if v.onEnded != nil {
				finished = append(finished, v.onEnded)
			}
		}
	}
	t.pos = end
	t.mu.Unlock()

	copy(p, EncodePCM16(mix))
	for _, fn := range finished {
		fn()
	}
	return n * 2, nil
}

// Close drops every voice without running its callback. Read returns io.EOF
// afterwards.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	clear(t.voices)
	return nil
}
