package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// oto allows a single context per process; every Speaker shares it.
var (
	otoOnce  sync.Once
	otoCtx   *oto.Context
	otoReady chan struct{}
	otoRate  int
	otoErr   error
)

func sharedOtoContext(rate int, bufferSize time.Duration) (*oto.Context, <-chan struct{}, error) {
	otoOnce.Do(func() {
		otoRate = rate
		otoCtx, otoReady, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufferSize,
		})
	})
	if otoErr != nil {
		return nil, nil, otoErr
	}
	if otoRate != rate {
		return nil, nil, fmt.Errorf("audio output already opened at %d Hz, want %d Hz", otoRate, rate)
	}
	return otoCtx, otoReady, nil
}

type SpeakerOptions struct {
	SampleRate int
	BufferSize time.Duration
}

// Speaker plays scheduled mono buffers on the default output device.
type Speaker struct {
	logger   shared.LoggerAdapter
	timeline *Timeline
	player   *oto.Player

	closeOnce sync.Once
}

func OpenSpeaker(ctx context.Context, logger shared.LoggerAdapter, opts SpeakerOptions) (*Speaker, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100 * time.Millisecond
	}
	octx, ready, err := sharedOtoContext(opts.SampleRate, opts.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("opening audio output: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tl := NewTimeline(opts.SampleRate)
	player := octx.NewPlayer(tl)
	player.Play()
	logger.Info("speaker opened",
		zap.Int("sampleRate", opts.SampleRate),
		zap.Duration("buffer", opts.BufferSize),
	)
	return &Speaker{
		logger:   logger,
		timeline: tl,
		player:   player,
	}, nil
}

func (s *Speaker) Now() float64 { return s.timeline.Now() }

func (s *Speaker) SampleRate() int { return s.timeline.SampleRate() }

func (s *Speaker) Play(samples []float32, at float64, onEnded func()) (stop func(), err error) {
	return s.timeline.Schedule(samples, at, onEnded)
}

func (s *Speaker) Close() (err error) {
	s.closeOnce.Do(func() {
		_ = s.timeline.Close()
		err = s.player.Close()
		s.logger.Debug("speaker closed")
	})
	return err
}
