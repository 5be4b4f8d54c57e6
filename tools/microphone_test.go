package tools

import (
	"io"
	"testing"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMicrophoneCloseDiscardsPartialFrame(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := &Microphone{
		logger: shared.NewZapLogger(zap.New(core)),
		framer: NewFramer(4),
		done:   make(chan struct{}),
	}
	var frames int
	m.framer.Push([]float32{1, 2, 3, 4, 5, 6}, func([]float32) { frames++ })
	require.Equal(t, 1, frames)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	discarded := logs.FilterMessage("discarding partial frame").All()
	require.Len(t, discarded, 1)
	assert.EqualValues(t, 2, discarded[0].ContextMap()["samples"])
	assert.Equal(t, 0, m.framer.Pending())
	assert.Equal(t, 1, logs.FilterMessage("microphone closed").Len())
	assert.ErrorIs(t, m.Start(func([]float32) {}), io.ErrClosedPipe)
}
