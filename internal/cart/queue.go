package cart

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("cart: queue closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Queue serializes cart mutations. The origin's cart session is a single
// shared resource, so operations run strictly one at a time in submission
// order; a failed operation does not block the ones queued behind it.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	closed bool
	wg     sync.WaitGroup
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		closed := q.closed
		q.mu.Unlock()

		switch {
		case closed:
			j.done <- ErrQueueClosed
		case j.ctx.Err() != nil:
			// caller already gave up, skip the work
			j.done <- j.ctx.Err()
		default:
			j.done <- j.fn(j.ctx)
		}
	}
}

// Do submits fn and blocks until it has run and returned.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, j)
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
