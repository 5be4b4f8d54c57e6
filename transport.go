package live

import (
	"context"

	"github.com/bt-bridge/consult-live/tools"
)

// AudioFormats are the PCM rates a transport sends and receives.
type AudioFormats struct {
	InputRate  int
	OutputRate int
}

// Setup seeds the remote side's behaviour for one call.
type Setup struct {
	// Model overrides the transport's configured model.
	Model             string
	Voice             string
	SystemInstruction string
	Video             bool
}

// ServerMessage is one inbound message reduced to what playback needs.
type ServerMessage struct {
	Audio        []tools.Blob
	Interrupted  bool
	TurnComplete bool
}

// Empty reports whether the message carries nothing for the session.
func (m ServerMessage) Empty() bool {
	return len(m.Audio) == 0 && !m.Interrupted && !m.TurnComplete
}

// Conn is an open streaming session with the speech endpoint.
//
// SendAudio and Recv may be called concurrently with each other. Recv
// returns an error wrapping shared.ErrRemoteClosed when the remote side ended
// the session normally; any other error is a transport failure.
type Conn interface {
	SendAudio(ctx context.Context, blob tools.Blob) error
	Recv(ctx context.Context) (ServerMessage, error)
	Close() error
}

// Transport dials a speech endpoint. Connect returns once the remote
// handshake completed.
type Transport interface {
	Name() string
	Formats() AudioFormats
	Connect(ctx context.Context, setup Setup) (Conn, error)
}
