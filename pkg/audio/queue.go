package audio

import "time"

// FrameQueue is a fixed-capacity FIFO of [Frame] values intended for a single
// producer and a single consumer. The capacity invariant always holds: the
// queue never retains more than its configured capacity, and an enqueue
// against a full queue drops the incoming frame without touching the frames
// already queued.
//
// The queue is backed by a buffered channel, so it is in fact safe for
// concurrent use; the SPSC restriction is a pipeline design contract, not a
// memory-safety requirement.
type FrameQueue struct {
	ch chan Frame
}

// NewFrameQueue creates a queue holding at most capacity frames.
// Capacity must be at least 1; smaller values are clamped to 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{ch: make(chan Frame, capacity)}
}

// TryEnqueue appends f without blocking. It reports whether the frame was
// accepted; false means the queue was full and f was dropped.
func (q *FrameQueue) TryEnqueue(f Frame) bool {
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

// EnqueueTimeout appends f, waiting at most d for capacity to free up.
// It reports whether the frame was accepted. A zero or negative d degrades
// to [FrameQueue.TryEnqueue]. The real-time producer side of the pipeline
// uses a short timeout so a stalled consumer can never block a device read
// loop for longer than d.
func (q *FrameQueue) EnqueueTimeout(f Frame, d time.Duration) bool {
	if d <= 0 {
		return q.TryEnqueue(f)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case q.ch <- f:
		return true
	case <-timer.C:
		return false
	}
}

// Dequeue removes and returns the oldest frame, waiting at most d for one to
// arrive. The second return value is false if the timeout expired with the
// queue still empty.
func (q *FrameQueue) Dequeue(d time.Duration) (Frame, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case f := <-q.ch:
		return f, true
	case <-timer.C:
		return Frame{}, false
	}
}

// TryDequeue removes and returns the oldest frame without blocking.
func (q *FrameQueue) TryDequeue() (Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return Frame{}, false
	}
}

// Discard removes all currently queued frames without handing them to the
// consumer and returns the number removed. Used for barge-in: queued
// assistant audio is thrown away rather than played out.
func (q *FrameQueue) Discard() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of frames currently queued.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }
