package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/bt-bridge/consult-live/tools"
)

// DropPolicy decides which frame a full FrameQueue discards.
type DropPolicy int

const (
	// DropOldest discards the head of the queue so the most recent speech
	// is kept.
	DropOldest DropPolicy = iota
	// DropNewest discards the frame being pushed.
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return shared.DropOldest
	case DropNewest:
		return shared.DropNewest
	default:
		return fmt.Sprintf("DropPolicy(%d)", int(p))
	}
}

func ParseDropPolicy(s string) (DropPolicy, error) {
	switch s {
	case shared.DropOldest, "":
		return DropOldest, nil
	case shared.DropNewest:
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown drop policy %q", s)
	}
}

// FrameQueue is the bounded outbound queue between the capture callback and
// the sender. Push never blocks; frames pushed before the connection is open
// wait here until the sender starts draining.
type FrameQueue struct {
	capacity int
	policy   DropPolicy

	mu     sync.Mutex
	items  []tools.Blob
	closed bool
	notify chan struct{}
}

func NewFrameQueue(capacity int, policy DropPolicy) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		capacity: capacity,
		policy:   policy,
		items:    make([]tools.Blob, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues b and returns how many frames were discarded to respect the
// capacity. A closed queue discards b.
func (q *FrameQueue) Push(b tools.Blob) (dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 1
	}
	if len(q.items) >= q.capacity {
		if q.policy == DropNewest {
			return 1
		}
		q.items[0] = tools.Blob{}
		q.items = q.items[1:]
		dropped = 1
	}
	q.items = append(q.items, b)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop blocks until a frame is available, the queue is closed or ctx is done.
func (q *FrameQueue) Pop(ctx context.Context) (tools.Blob, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return tools.Blob{}, shared.ErrQueueClosed
		}
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = tools.Blob{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, nil
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return tools.Blob{}, ctx.Err()
		}
	}
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards queued frames and wakes any Pop.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.notify)
}
