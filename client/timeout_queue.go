package client

import (
	"sync"
	"time"
)

// timeoutQueue yields tokens once their deadline passes, in the order they
// were added. All entries share one timeout so the queue stays sorted.
type timeoutQueueItem struct {
	token    int32
	deadline time.Time
}

type timeoutQueue struct {
	timeout time.Duration
	queue   []timeoutQueueItem
	cond    *sync.Cond

	done chan struct{}
	once sync.Once
}

func newTimeoutQueue(timeout time.Duration) *timeoutQueue {
	return &timeoutQueue{
		timeout: timeout,
		queue:   make([]timeoutQueueItem, 0, 16),
		cond:    sync.NewCond(&sync.Mutex{}),
		done:    make(chan struct{}),
	}
}

func (q *timeoutQueue) Add(token int32) {
	q.cond.L.Lock()
	q.queue = append(q.queue, timeoutQueueItem{token, time.Now().Add(q.timeout)})
	q.cond.L.Unlock()

	q.cond.Signal()
}

// Next blocks until the oldest entry expires or the queue is closed.
func (q *timeoutQueue) Next() (int32, bool) {
	q.cond.L.Lock()
	for len(q.queue) == 0 {
		select {
		case <-q.done:
			q.cond.L.Unlock()
			return 0, false
		default:
			q.cond.Wait()
		}
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	q.cond.L.Unlock()

	t := time.NewTimer(time.Until(next.deadline))
	defer t.Stop()
	select {
	case <-q.done:
		return 0, false
	case <-t.C:
		return next.token, true
	}
}

func (q *timeoutQueue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.cond.L.Lock()
		q.cond.Broadcast()
		q.cond.L.Unlock()
	})
}
