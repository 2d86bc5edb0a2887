package queue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// committable is the minimal contract an OutputQueue entry needs: a way to
// deliver the finished result (or error) to the parked caller. It exists so
// OutputQueue does not need to depend on the work package's exact shape.
type committable interface {
	commit()
}

type resultEntry struct {
	commitFn func()
}

func (e resultEntry) commit() { e.commitFn() }

// OutputQueue is a small thread pool that drains completed replies and
// commits them to their parked RPC contexts. Committing may perform network
// I/O, so no pool thread ever holds the queue lock while committing.
type OutputQueue struct {
	log *logrus.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   []committable
	stopped bool

	wg sync.WaitGroup
}

// NewOutputQueue starts size worker goroutines draining ready replies.
func NewOutputQueue(size int, log *logrus.Logger) *OutputQueue {
	if size < 1 {
		size = 1
	}
	q := &OutputQueue{log: log}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < size; i++ {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

// Push enqueues a commit function to be run by a pool thread. commitFn must
// itself be safe to call exactly once with no locks held.
func (q *OutputQueue) Push(commitFn func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, resultEntry{commitFn: commitFn})
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *OutputQueue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.stopped {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.safeCommit(item)
	}
}

func (q *OutputQueue) safeCommit(item committable) {
	defer func() {
		if r := recover(); r != nil && q.log != nil {
			q.log.WithField("panic", r).Error("output queue: panic while committing reply")
		}
	}()
	item.commit()
}

// Stop signals all pool threads to exit once the queue drains, and blocks
// until they have.
func (q *OutputQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
