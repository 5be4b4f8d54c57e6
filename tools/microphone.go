package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type MicrophoneOptions struct {
	// SampleRate of delivered frames. The device is asked for it and the
	// stream is resampled when the driver picks another rate.
	SampleRate   int
	FrameSamples int
	// Video additionally acquires the camera for the lifetime of the call.
	Video bool
}

// Microphone is a capture device delivering fixed-size mono frames.
type Microphone struct {
	logger shared.LoggerAdapter
	opts   MicrophoneOptions
	audio  *mediadevices.AudioTrack
	tracks []mediadevices.Track
	// framer is owned by the reader goroutine until Close.
	framer *Framer

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// OpenMicrophone asks the OS for the microphone (and camera when
// opts.Video). It blocks until access is granted or denied.
func OpenMicrophone(ctx context.Context, logger shared.LoggerAdapter, opts MicrophoneOptions) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.FrameSamples <= 0 {
		opts.FrameSamples = 4096
	}
	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(opts.SampleRate)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
	}
	if opts.Video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	resC := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		resC <- result{stream: s, err: err}
	}()
	var res result
	select {
	case res = <-resC:
	case <-ctx.Done():
		go func() {
			if r := <-resC; r.err == nil {
				closeTracks(r.stream.GetTracks())
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("getting user media: %w", res.err)
	}

	m := &Microphone{
		logger: logger,
		opts:   opts,
		tracks: res.stream.GetTracks(),
		framer: NewFramer(opts.FrameSamples),
		done:   make(chan struct{}),
	}
	for _, track := range m.tracks {
		kind := "audio"
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = "video"
		}
		track.OnEnded(func(err error) {
			if err != nil {
				logger.Warn("local track ended", zap.String("kind", kind), zap.Error(err))
			}
		})
		if at, ok := track.(*mediadevices.AudioTrack); ok && m.audio == nil {
			m.audio = at
		}
	}
	if m.audio == nil {
		closeTracks(m.tracks)
		return nil, errors.New("no audio track found in microphone stream")
	}
	logger.Info("microphone opened",
		zap.Int("tracks", len(m.tracks)),
		zap.Bool("video", opts.Video),
		zap.Int("sampleRate", opts.SampleRate),
		zap.Int("frameSamples", opts.FrameSamples),
	)
	return m, nil
}

func (m *Microphone) SampleRate() int { return m.opts.SampleRate }

// Start begins delivering frames to onFrame from a dedicated goroutine.
// onFrame must not block. Start may be called once.
func (m *Microphone) Start(onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("microphone already started")
	}
	select {
	case <-m.done:
		return io.ErrClosedPipe
	default:
	}
	m.started = true
	reader := m.audio.NewReader(false)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.done:
				return
			default:
			}
			chunk, release, err := reader.Read()
			if err != nil {
				if release != nil {
					release()
				}
				if errors.Is(err, io.EOF) {
					return
				}
				select {
				case <-m.done:
					return
				default:
				}
				m.logger.Error("reading from microphone", err)
				return
			}
			samples, rate := monoSamples(chunk)
			if release != nil {
				release()
			}
			if len(samples) == 0 {
				continue
			}
			m.framer.Push(ResampleFloat32(samples, rate, m.opts.SampleRate), onFrame)
		}
	}()
	return nil
}

// Close releases every acquired track and waits for the reader goroutine.
func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		closeTracks(m.tracks)
		m.wg.Wait()
		if n := m.framer.Pending(); n > 0 {
			m.logger.Debug("discarding partial frame", zap.Int("samples", n))
			m.framer.Reset()
		}
		m.logger.Debug("microphone closed")
	})
	return nil
}

// monoSamples takes the first channel of a captured chunk.
func monoSamples(chunk wave.Audio) ([]float32, int) {
	info := chunk.ChunkInfo()
	ch := max(info.Channels, 1)
	out := make([]float32, info.Len)
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		for i := range out {
			out[i] = float32(c.Data[i*ch]) / 32768
		}
	case *wave.Float32Interleaved:
		for i := range out {
			out[i] = c.Data[i*ch]
		}
	default:
		return nil, info.SamplingRate
	}
	return out, info.SamplingRate
}

func closeTracks(tracks []mediadevices.Track) {
	for _, t := range tracks {
		_ = t.Close()
	}
}
