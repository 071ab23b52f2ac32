package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/altfoxie/bing-client/internal/metrics"
)

// Turn is the handle of one in-flight turn. Its reader runs in its own
// goroutine; the handle lets callers consume events and learn how the
// stream ended.
type Turn struct {
	invocationID string
	queue        *eventQueue
	cancel       context.CancelFunc
	started      time.Time

	done      chan struct{}
	completed atomic.Bool

	mu  sync.Mutex
	err error
}

func newTurn(invocationID string, cancel context.CancelFunc) *Turn {
	return &Turn{
		invocationID: invocationID,
		queue:        newEventQueue(),
		cancel:       cancel,
		started:      time.Now(),
		done:         make(chan struct{}),
	}
}

// InvocationID returns the request identifier sent with the turn.
func (t *Turn) InvocationID() string {
	return t.invocationID
}

// Events returns the ordered event stream. The channel is closed after the
// last buffered event once the connection has ended. A stream that closes
// without EventComplete is an aborted turn. Callers that stop reading
// before the channel closes must call Release.
func (t *Turn) Events() <-chan Event {
	return t.queue.out
}

// Done is closed when the reader has stopped.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Err returns why the reader stopped: nil for a normal end of stream,
// otherwise the read error, the context error or a recovered panic.
// It returns nil while the turn is still running.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Completed reports whether the server sent the completion frame.
func (t *Turn) Completed() bool {
	return t.completed.Load()
}

// Cancel stops the turn and releases its connection.
func (t *Turn) Cancel() {
	t.cancel()
}

// Release abandons the event stream: buffered events are dropped and
// Events is closed. The turn itself keeps running; use Cancel to stop it.
func (t *Turn) Release() {
	t.queue.discard()
}

// Wait blocks until the reader has stopped and returns Err.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Turn) run(ctx context.Context, d *demux) {
	defer close(t.done)
	defer t.cancel()

	err := t.read(ctx, d)
	d.finish()

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	status := "incomplete"
	if t.Completed() {
		status = "completed"
	}
	metrics.TurnsTotal.WithLabelValues(status).Inc()
	metrics.TurnDuration.Observe(time.Since(t.started).Seconds())
}

func (t *Turn) read(ctx context.Context, d *demux) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("demultiplexer panic: %v", r)
		}
	}()
	return d.run(ctx)
}
