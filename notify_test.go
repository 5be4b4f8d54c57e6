package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversInOrderAndStopsAfterEnded(t *testing.T) {
	rec := newRecorder()
	n := newNotifier(rec)

	n.post(Event{Kind: EventStateChanged, State: StateConnecting})
	n.post(Event{Kind: EventStateChanged, State: StateOpen})
	n.post(Event{Kind: EventTick, Elapsed: time.Second})
	n.post(Event{Kind: EventEnded, Reason: EndLocal})
	n.post(Event{Kind: EventTick, Elapsed: 2 * time.Second})

	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("notifier did not finish")
	}
	events := rec.all()
	require.Len(t, events, 4)
	assert.Equal(t, []EventKind{EventStateChanged, EventStateChanged, EventTick, EventEnded},
		[]EventKind{events[0].Kind, events[1].Kind, events[2].Kind, events[3].Kind})
	for _, e := range events {
		assert.False(t, e.At.IsZero())
	}
}

func TestNotifierToleratesNilHandler(t *testing.T) {
	n := newNotifier(nil)
	n.post(Event{Kind: EventEnded})
	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("notifier did not finish")
	}
}

func TestEventSeconds(t *testing.T) {
	assert.Equal(t, 0, Event{Elapsed: 999 * time.Millisecond}.Seconds())
	assert.Equal(t, 61, Event{Elapsed: 61*time.Second + 500*time.Millisecond}.Seconds())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
