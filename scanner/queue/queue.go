// Package queue is the bounded buffer between capture sources and workers.
package queue

import (
	"context"
	"sync"

	"gitlab.com/pscanner/pscan"
)

// Queue is a bounded FIFO of exchanges. It is the admission control point of
// the scanner: once full, Enqueue either waits or fails with
// pscan.ErrBackpressure depending on the policy.
type Queue struct {
	policy   pscan.AdmissionPolicy
	items    chan *pscan.Exchange
	closing  chan struct{}
	lock     sync.RWMutex // held for reading by senders, for writing to close items
	closed   bool
	stopOnce sync.Once
}

// New queue holding at most capacity exchanges
func New(capacity int, policy pscan.AdmissionPolicy) *Queue {
	return &Queue{
		policy:  policy,
		items:   make(chan *pscan.Exchange, capacity),
		closing: make(chan struct{}),
	}
}

// Enqueue an exchange
func (q *Queue) Enqueue(ctx context.Context, exchange *pscan.Exchange) error {
	q.lock.RLock()
	defer q.lock.RUnlock()

	if q.closed {
		return pscan.ErrQueueClosed
	}

	if q.policy == pscan.Reject {
		select {
		case q.items <- exchange:
			return nil
		case <-q.closing:
			return pscan.ErrQueueClosed
		default:
			return pscan.ErrBackpressure
		}
	}

	select {
	case q.items <- exchange:
		return nil
	case <-q.closing:
		return pscan.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an exchange is available, the queue is closed and
// drained (pscan.ErrQueueClosed) or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*pscan.Exchange, error) {
	select {
	case exchange, ok := <-q.items:
		if !ok {
			return nil, pscan.ErrQueueClosed
		}
		return exchange, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops admissions. Buffered exchanges can still be dequeued.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.closing) // release blocked senders before taking the write lock
		q.lock.Lock()
		q.closed = true
		close(q.items)
		q.lock.Unlock()
	})
}

// Len of buffered exchanges
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap of the queue
func (q *Queue) Cap() int {
	return cap(q.items)
}
