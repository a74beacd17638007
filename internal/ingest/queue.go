package ingest

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned once the queue is shut down.
var ErrQueueClosed = errors.New("ingest queue closed")

// queue is a three-band priority queue. pop always drains the highest
// non-empty band; within a band order is FIFO. All methods are safe for
// concurrent use.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	bands  [3][]string
	closed bool
	doneCh chan struct{}
}

func newQueue() *queue {
	q := &queue{doneCh: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a job id to the band.
func (q *queue) push(band int, jobID string) error {
	if band < 0 || band > 2 {
		band = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.bands[band] = append(q.bands[band], jobID)
	q.cond.Signal()
	return nil
}

// pop blocks until a job is available, the queue closes, or ctx is done.
func (q *queue) pop(ctx context.Context) (string, error) {
	// Wake the cond wait when the context ends; cond has no native
	// context support.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for band := 0; band < 3; band++ {
			if len(q.bands[band]) > 0 {
				jobID := q.bands[band][0]
				q.bands[band] = q.bands[band][1:]
				return jobID, nil
			}
		}
		if q.closed {
			return "", ErrQueueClosed
		}
		q.cond.Wait()
	}
}

// close wakes all waiters; queued jobs already pushed can still be popped.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.doneCh)
	q.cond.Broadcast()
}

// done is closed when the queue shuts down.
func (q *queue) done() <-chan struct{} {
	return q.doneCh
}

// depth reports the per-band backlog, high to low.
func (q *queue) depth() [3]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return [3]int{len(q.bands[0]), len(q.bands[1]), len(q.bands[2])}
}
