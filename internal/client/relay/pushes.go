package relay

import (
	"sync"

	"github.com/dmitrijs2005/chatrelay/internal/wire"
)

// pushQueue is an unbounded FIFO between the receive loop and Pushes. The
// receive loop must never wait on the push consumer: the consumer may be
// waiting for a response that is still in the stream.
type pushQueue struct {
	mu     sync.Mutex
	items  []*wire.Frame
	closed bool
	signal chan struct{}
}

func newPushQueue() *pushQueue {
	return &pushQueue{signal: make(chan struct{}, 1)}
}

func (q *pushQueue) put(f *wire.Frame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.notify()
}

func (q *pushQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *pushQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// take waits for the next frame. ok is false once the queue is closed and
// drained.
func (q *pushQueue) take() (f *wire.Frame, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return f, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		<-q.signal
	}
}

// forwardPushes moves queued pushes to the Pushes channel until the stream
// ends and the queue drains, or the client is closed.
func (c *Client) forwardPushes() {
	defer close(c.pushes)
	for {
		f, ok := c.queue.take()
		if !ok {
			return
		}
		select {
		case c.pushes <- f:
		case <-c.stopped:
			return
		}
	}
}
