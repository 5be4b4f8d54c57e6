package live

import "context"

// MediaRequest describes the capture devices a call needs.
type MediaRequest struct {
	Video        bool
	SampleRate   int
	FrameSamples int
}

// CaptureDevice delivers fixed-size mono frames from one continuous capture
// tap. onFrame is called from the device's own goroutine and must not block.
type CaptureDevice interface {
	Start(onFrame func(samples []float32)) error
	SampleRate() int
	Close() error
}

// MediaSource acquires capture devices. Open blocks until the user grants or
// denies access.
type MediaSource interface {
	Open(ctx context.Context, req MediaRequest) (CaptureDevice, error)
}

type MediaSourceFunc func(ctx context.Context, req MediaRequest) (CaptureDevice, error)

func (f MediaSourceFunc) Open(ctx context.Context, req MediaRequest) (CaptureDevice, error) {
	return f(ctx, req)
}

// PlaybackDevice plays mono buffers at absolute times of its own clock.
//
// Now returns the clock in seconds. Play schedules samples to start at the
// given clock time and returns a stop func. onEnded must fire exactly once
// when the buffer finished playing naturally, never after stop and never
// synchronously from inside Play.
type PlaybackDevice interface {
	Now() float64
	SampleRate() int
	Play(samples []float32, at float64, onEnded func()) (stop func(), err error)
	Close() error
}

// OutputSource opens a playback device running at the given rate.
type OutputSource interface {
	OpenOutput(ctx context.Context, sampleRate int) (PlaybackDevice, error)
}

type OutputSourceFunc func(ctx context.Context, sampleRate int) (PlaybackDevice, error)

func (f OutputSourceFunc) OpenOutput(ctx context.Context, sampleRate int) (PlaybackDevice, error) {
	return f(ctx, sampleRate)
}

// Buffer is one decoded, playable chunk of mono audio.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
