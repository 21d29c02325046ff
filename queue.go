package tramite

import (
	"context"
	"fmt"
	"sync"
)

// Delivery is one message pulled off the queue. The consumer must Ack it
// after handling; the runtime acks regardless of handling outcome.
type Delivery struct {
	Body []byte
	ack  func()
}

// Ack acknowledges the delivery. Safe to call more than once.
func (d *Delivery) Ack() {
	if d.ack != nil {
		d.ack()
		d.ack = nil
	}
}

// Queue is the durable at-least-once command transport. The broker driver
// itself is an external collaborator; MemoryQueue is the in-process
// implementation used for tests and single-node deployments.
type Queue interface {
	Publish(ctx context.Context, body []byte) error

	// Receive blocks until a message is available or the context ends.
	Receive(ctx context.Context) (*Delivery, error)
}

// MemoryQueue is a channel-backed Queue.
type MemoryQueue struct {
	ch     chan []byte
	mutex  sync.Mutex
	closed bool
	acked  int
}

// NewMemoryQueue returns a queue buffering up to size messages.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan []byte, size)}
}

func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	q.mutex.Lock()
	closed := q.closed
	q.mutex.Unlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}
	msg := make([]byte, len(body))
	copy(msg, body)
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case body, ok := <-q.ch:
		if !ok {
			return nil, fmt.Errorf("queue is closed")
		}
		return &Delivery{
			Body: body,
			ack: func() {
				q.mutex.Lock()
				q.acked++
				q.mutex.Unlock()
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of buffered, undelivered messages.
func (q *MemoryQueue) Pending() int {
	return len(q.ch)
}

// Acked returns the number of acknowledged deliveries.
func (q *MemoryQueue) Acked() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.acked
}

// Close stops accepting messages. Buffered messages remain receivable.
func (q *MemoryQueue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
