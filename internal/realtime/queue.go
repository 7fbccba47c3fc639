package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelClosed is returned by Pop once the queue is closed and drained.
var ErrChannelClosed = errors.New("realtime: channel closed")

// Queue holds inbound events and model audio fragments in arrival order.
// One goroutine pushes (the read loop) and one pops (the request in
// flight). Push never blocks and never drops.
type Queue struct {
	mu        sync.Mutex
	events    []Event
	fragments []Fragment
	closed    bool
	cause     error
	signal    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends an event and wakes a waiting Pop.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.notify()
}

// AppendAudio records an audio fragment.
func (q *Queue) AppendAudio(f Fragment) {
	q.mu.Lock()
	q.fragments = append(q.fragments, f)
	q.mu.Unlock()
}

// Pop removes the oldest event, blocking until one arrives, ctx ends, or the
// queue is closed. Events pushed before Close are still delivered.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events[0] = Event{}
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			cause := q.cause
			q.mu.Unlock()
			if cause != nil && !errors.Is(cause, ErrChannelClosed) {
				return Event{}, fmt.Errorf("%w: %v", ErrChannelClosed, cause)
			}
			return Event{}, ErrChannelClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// DrainAudio returns the accumulated fragments and clears the buffer.
func (q *Queue) DrainAudio() []Fragment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.fragments
	q.fragments = nil
	return out
}

// Reset discards pending events and fragments.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.events = nil
	q.fragments = nil
	q.mu.Unlock()
}

// Len is the number of events waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events. cause is reported by Pop after the
// remaining events drain; nil means an orderly close.
func (q *Queue) Close(cause error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cause = cause
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
