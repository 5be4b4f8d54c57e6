package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoEventHandler        = errors.New("no event handler provided")
	ErrNoTransport           = errors.New("no transport provided")
	ErrNoMediaSource         = errors.New("no media source provided")
	ErrNoPersona             = errors.New("no persona provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionEnded          = errors.New("session ended")
	ErrRemoteClosed          = errors.New("remote side closed the session")
	ErrPlaybackBacklog       = errors.New("playback backlog exceeded")
	ErrQueueClosed           = errors.New("queue closed")
	ErrInvalidBlob           = errors.New("invalid audio blob")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrConsultantNotFound    = errors.New("consultant not found")
)

// MediaAccessError reports that a capture or output device could not be
// acquired. It is fatal to a call and raised before anything is connected.
type MediaAccessError struct {
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access (%s): %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// TransportError reports a failed or dropped connection to the speech
// endpoint. Op is one of "connect", "send" or "receive".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports an audio chunk that could not be decoded. The chunk is
// dropped and the session continues.
type DecodeError struct {
	MIMEType string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.MIMEType == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode audio (%s): %v", e.MIMEType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsFatal reports whether err must end a call.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, ErrPlaybackBacklog)
}
