package tools

import "time"

func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// SamplesDuration is the playing time of n mono samples at rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Framer cuts a continuous sample stream into fixed-size frames.
type Framer struct {
	size int
	buf  []float32
}

func NewFramer(size int) *Framer {
	if size <= 0 {
		size = 1
	}
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

func (f *Framer) Size() int { return f.size }

// Push appends samples and calls emit for every completed frame. Frames
// passed to emit are owned by the callee.
func (f *Framer) Push(samples []float32, emit func([]float32)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			emit(f.buf)
			f.buf = make([]float32, 0, f.size)
		}
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int { return len(f.buf) }

func (f *Framer) Reset() { f.buf = f.buf[:0] }
