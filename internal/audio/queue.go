package audio

import (
	"sync"
	"time"
)

// FrameQueue is a bounded FIFO of frames shared by one producer and one
// consumer. When full, Push drops the oldest frame instead of blocking, so a
// hardware goroutine never waits on the session side.
type FrameQueue struct {
	mu      sync.Mutex
	buf     []Frame
	head    int
	size    int
	dropped uint64

	// notify holds at most one wake-up token for a waiting consumer.
	notify chan struct{}
}

// NewFrameQueue creates a queue holding up to capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		buf:    make([]Frame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends a frame. It returns true if the oldest frame was dropped to
// make room.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	dropped := false
	if q.size == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		dropped = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// TryPop removes and returns the oldest frame without blocking.
func (q *FrameQueue) TryPop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return f, true
}

// PopTimeout waits up to d for a frame. It returns false on timeout or when
// done is closed.
func (q *FrameQueue) PopTimeout(d time.Duration, done <-chan struct{}) (Frame, bool) {
	if f, ok := q.TryPop(); ok {
		return f, true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			// The token may be stale if the frame it announced was
			// already consumed by TryPop.
			if f, ok := q.TryPop(); ok {
				return f, true
			}
		case <-timer.C:
			return q.TryPop()
		case <-done:
			return nil, false
		}
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int {
	return len(q.buf)
}

// Dropped returns how many frames were discarded by drop-oldest.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Reset discards all queued frames.
func (q *FrameQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head = 0
	q.size = 0
}
