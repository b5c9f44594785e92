package services

import (
	"context"
	"sync"
)

// IngestQueue is an unbounded FIFO of raw audio chunks. Push never blocks so
// the network receive loop can always go straight back to reading. Close acts
// as the end-of-stream sentinel: chunks pushed before it are still delivered.
type IngestQueue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	notify chan struct{}
}

func NewIngestQueue() *IngestQueue {
	return &IngestQueue{notify: make(chan struct{}, 1)}
}

// Push appends chunk and reports false once the queue is closed.
func (q *IngestQueue) Push(chunk []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, chunk)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *IngestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *IngestQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks for the next chunk. ok is false once the queue is closed and
// drained; err is set when ctx ends first.
func (q *IngestQueue) Pop(ctx context.Context) (chunk []byte, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			chunk = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return chunk, true, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false, nil
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Discard drops every queued chunk and returns how many there were.
func (q *IngestQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *IngestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
