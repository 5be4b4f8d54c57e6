package agents

import (
	"context"
	"time"

	live "github.com/bt-bridge/consult-live"
	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
)

// MicrophoneSource opens the system microphone, plus the camera for video
// calls.
type MicrophoneSource struct {
	Logger shared.LoggerAdapter
}

var _ live.MediaSource = MicrophoneSource{}

func (s MicrophoneSource) Open(ctx context.Context, req live.MediaRequest) (live.CaptureDevice, error) {
	mic, err := tools.OpenMicrophone(ctx, s.Logger, tools.MicrophoneOptions{
		SampleRate:   req.SampleRate,
		FrameSamples: req.FrameSamples,
		Video:        req.Video,
	})
	if err != nil {
		return nil, err
	}
	return mic, nil
}

// SpeakerSource opens the default output device. A non-zero SampleRate pins
// the device rate; the session resamples to it.
type SpeakerSource struct {
	Logger     shared.LoggerAdapter
	SampleRate int
	BufferSize time.Duration
}

var _ live.OutputSource = SpeakerSource{}

func (s SpeakerSource) OpenOutput(ctx context.Context, sampleRate int) (live.PlaybackDevice, error) {
	if s.SampleRate > 0 {
		sampleRate = s.SampleRate
	}
	spk, err := tools.OpenSpeaker(ctx, s.Logger, tools.SpeakerOptions{
		SampleRate: sampleRate,
		BufferSize: s.BufferSize,
	})
	if err != nil {
		return nil, err
	}
	return spk, nil
}
