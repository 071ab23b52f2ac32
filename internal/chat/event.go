package chat

import "sync"

// EventKind discriminates conversation events.
type EventKind int

const (
	// EventUpdate carries a snapshot of the answer so far.
	EventUpdate EventKind = iota + 1
	// EventComplete ends the turn.
	EventComplete
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "update"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is something that happened during a turn. Text is set for
// EventUpdate only.
type Event struct {
	Kind EventKind
	Text string
}

// Update returns an EventUpdate.
func Update(text string) Event {
	return Event{Kind: EventUpdate, Text: text}
}

// Complete returns an EventComplete.
func Complete() Event {
	return Event{Kind: EventComplete}
}

// eventQueue is an unbounded FIFO in front of a channel. push never blocks,
// so a slow consumer cannot stall the reader; the buffer grows instead.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
	out    chan Event

	release     chan struct{}
	releaseOnce sync.Once
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		notify:  make(chan struct{}, 1),
		out:     make(chan Event),
		release: make(chan struct{}),
	}
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

// close lets the pump exit once the buffer is drained.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// discard drops buffered and future events and stops the pump.
func (q *eventQueue) discard() {
	q.releaseOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.items = nil
		q.mu.Unlock()
		close(q.release)
	})
}

func (q *eventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pump forwards buffered events to out until the queue is closed and
// drained, abort fires or the queue is discarded.
func (q *eventQueue) pump(abort <-chan struct{}) {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.notify:
				continue
			case <-abort:
				return
			case <-q.release:
				return
			}
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-abort:
			return
		case <-q.release:
			return
		}
	}
}
