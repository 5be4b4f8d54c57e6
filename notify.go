package live

import (
	"fmt"
	"sync"
	"time"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventSpeakingChanged
	EventTick
	EventMuteChanged
	// EventEnded is always the last event of a session.
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventSpeakingChanged:
		return "speaking"
	case EventTick:
		return "tick"
	case EventMuteChanged:
		return "mute"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// EndReason tells why a session closed.
type EndReason string

const (
	EndLocal  EndReason = "local"
	EndRemote EndReason = "remote"
	EndError  EndReason = "error"
)

// Event is a status update for the call UI. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind      EventKind
	SessionID string
	At        time.Time

	State    State
	Speaking bool
	Muted    bool
	Elapsed  time.Duration
	Reason   EndReason
	Err      error
}

// Seconds is the elapsed call time in whole seconds.
func (e Event) Seconds() int { return int(e.Elapsed / time.Second) }

type EventHandler interface {
	HandleEvent(Event)
}

type EventHandlerFunc func(Event)

func (f EventHandlerFunc) HandleEvent(e Event) { f(e) }

// notifier delivers events to the handler in order on its own goroutine.
// post never blocks, so it is safe from audio callbacks.
type notifier struct {
	handler EventHandler

	mu    sync.Mutex
	queue []Event
	ended bool
	wake  chan struct{}
	done  chan struct{}
}

func newNotifier(h EventHandler) *notifier {
	n := &notifier{
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) post(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, e)
	if e.Kind == EventEnded {
		n.ended = true
	}
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.wake {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()
		for _, e := range batch {
			if n.handler != nil {
				n.handler.HandleEvent(e)
			}
			if e.Kind == EventEnded {
				return
			}
		}
	}
}

// Done is closed after the Ended event has been handled.
func (n *notifier) Done() <-chan struct{} { return n.done }
