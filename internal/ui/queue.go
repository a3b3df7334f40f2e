package ui

import (
	"sync"

	"hotmic/internal/domain"
)

// Queue is the ordered hand-off between the controller and the display
// layer. Emit never blocks; the display drains it with Poll.
type Queue struct {
	mu     sync.Mutex
	events []domain.UIEvent
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Emit(event domain.UIEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
}

// Poll removes and returns the oldest event, if any.
func (q *Queue) Poll() (domain.UIEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return domain.UIEvent{}, false
	}
	event := q.events[0]
	q.events[0] = domain.UIEvent{}
	q.events = q.events[1:]
	return event, true
}

// Drain removes and returns every pending event in order.
func (q *Queue) Drain() []domain.UIEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
