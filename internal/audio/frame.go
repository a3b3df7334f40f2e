package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hotmic/internal/domain"
)

// Frame is one block of mono 16-bit little-endian PCM as delivered by the driver.
type Frame struct {
	Seq      uint64
	Data     []byte
	Captured time.Time
}

// QueueObserver is notified about queue activity. Implementations must not block.
type QueueObserver interface {
	FrameQueued()
	FrameDropped()
}

// Queue is the bounded FIFO between capture callbacks and the controller.
// Offer never blocks: when the queue is full the newest frame is dropped.
type Queue struct {
	frames   chan Frame
	seq      atomic.Uint64
	dropped  atomic.Uint64
	observer QueueObserver

	warnMu   sync.Mutex
	lastWarn time.Time
	now      func() time.Time
}

func NewQueue(size int, observer QueueObserver) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		frames:   make(chan Frame, size),
		observer: observer,
		now:      time.Now,
	}
}

// Offer copies pcm into a new frame and enqueues it without blocking. A full
// queue drops the frame and returns an error wrapping domain.ErrQueueOverflow.
func (q *Queue) Offer(pcm []byte) error {
	frame := Frame{
		Seq:      q.seq.Add(1),
		Data:     append([]byte(nil), pcm...),
		Captured: q.now(),
	}

	select {
	case q.frames <- frame:
		if q.observer != nil {
			q.observer.FrameQueued()
		}
		return nil
	default:
	}

	total := q.dropped.Add(1)
	if q.observer != nil {
		q.observer.FrameDropped()
	}
	err := fmt.Errorf("%w: frame %d dropped", domain.ErrQueueOverflow, frame.Seq)
	q.warnDropped(err, total)
	return err
}

// Frames exposes the receive side for the single consumer.
func (q *Queue) Frames() <-chan Frame {
	return q.frames
}

// Drain discards every queued frame and returns how many were removed.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.frames:
			n++
		default:
			return n
		}
	}
}

// Dropped returns the number of frames lost to overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Len() int {
	return len(q.frames)
}

func (q *Queue) warnDropped(err error, total uint64) {
	q.warnMu.Lock()
	defer q.warnMu.Unlock()

	now := q.now()
	if now.Sub(q.lastWarn) < time.Second {
		return
	}
	q.lastWarn = now
	slog.Warn("dropping newest audio frame",
		"error", err, "dropped_total", total, "capacity", cap(q.frames))
}
