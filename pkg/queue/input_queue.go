// Package queue implements the per-user FIFOs of pending work (InputQueue)
// and the thread pool that commits completed replies (OutputQueue).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/halvard-eide/rrworker/pkg/work"
)

// Sorter orders two packages within a single user's heap. It must report
// true when a should be popped before b. OutOfOrder sequence numbers
// compare equal to everything (Less reports false both ways); among
// Ordered packages, the smaller sequence number comes out first.
type Sorter func(a, b *work.Package) bool

// BaseSorter is the §4.2 heap comparator: a min-heap on Ordered sequence
// numbers, with OutOfOrder packages treated as mutually unordered.
func BaseSorter(a, b *work.Package) bool {
	return a.Seq.Less(b.Seq)
}

// DefaultUserSlice is the per-user time slice used when none is configured.
const DefaultUserSlice = 500 * time.Millisecond

type pkgHeap struct {
	items []*work.Package
	less  Sorter
}

func (h *pkgHeap) Len() int           { return len(h.items) }
func (h *pkgHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *pkgHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *pkgHeap) Push(x interface{}) { h.items = append(h.items, x.(*work.Package)) }
func (h *pkgHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

// userQueue is a single user's pending work, maintained as a heap under
// whatever Sorter is passed to push/pop. It carries its own mutex so
// InputQueue can release the map mutex before touching it.
type userQueue struct {
	mu    sync.Mutex
	items []*work.Package
}

func newUserQueue() *userQueue {
	return &userQueue{}
}

func (uq *userQueue) isEmptyLocked() bool {
	return len(uq.items) == 0
}

func (uq *userQueue) pushLocked(pkg *work.Package, sorter Sorter) {
	uq.items = append(uq.items, pkg)
	h := &pkgHeap{items: uq.items, less: sorter}
	heap.Init(h)
	uq.items = h.items
}

func (uq *userQueue) popLocked(sorter Sorter) *work.Package {
	h := &pkgHeap{items: uq.items, less: sorter}
	heap.Init(h)
	top := heap.Pop(h).(*work.Package)
	uq.items = h.items
	return top
}

// InputQueue multiplexes per-user FIFOs (heaps) of pending work, selecting
// users in round-robin order with a configurable per-user time slice.
//
// Mutex ordering: mapMu before any userQueue.mu, never inverted.
type InputQueue struct {
	mapMu sync.Mutex
	cond  *sync.Cond

	users map[string]*userQueue
	ring  []string

	currentUser string
	sliceStart  time.Time
	userSlice   time.Duration

	stopped bool
}

// NewInputQueue constructs an empty InputQueue with the given per-user time
// slice. A zero slice means "switch users at every dispatch".
func NewInputQueue(userSlice time.Duration) *InputQueue {
	q := &InputQueue{
		users:     make(map[string]*userQueue),
		userSlice: userSlice,
	}
	q.cond = sync.NewCond(&q.mapMu)
	return q
}

// SetUserSlice changes the per-user time slice. Safe to call while the
// queue is in use.
func (q *InputQueue) SetUserSlice(d time.Duration) {
	q.mapMu.Lock()
	defer q.mapMu.Unlock()
	q.userSlice = d
}

// Stop wakes any goroutine blocked in RetrieveWork so it can observe
// shutdown. RetrieveWork returns (nil, false) after Stop.
func (q *InputQueue) Stop() {
	q.mapMu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mapMu.Unlock()
}

// AddWork enqueues pkg under pkg.UserID, creating that user's queue (and
// ring slot) if this is its first package. If the ring was empty, the new
// user becomes current and the time slice is reset.
func (q *InputQueue) AddWork(pkg *work.Package, sorter Sorter) {
	q.mapMu.Lock()
	uq, exists := q.users[pkg.UserID]
	if !exists {
		uq = newUserQueue()
		q.users[pkg.UserID] = uq
		q.ring = append(q.ring, pkg.UserID)
		if len(q.ring) == 1 {
			q.currentUser = pkg.UserID
			q.sliceStart = time.Now()
		}
	}
	q.mapMu.Unlock()

	uq.mu.Lock()
	uq.pushLocked(pkg, sorter)
	uq.mu.Unlock()

	q.mapMu.Lock()
	q.cond.Broadcast()
	q.mapMu.Unlock()
}

func (q *InputQueue) sliceExpiredLocked() bool {
	return time.Since(q.sliceStart) >= q.userSlice
}

// ringIndexLocked returns the index of user within the ring, or -1.
func (q *InputQueue) ringIndexLocked(user string) int {
	for i, u := range q.ring {
		if u == user {
			return i
		}
	}
	return -1
}

// advanceUserLocked moves the cursor to the next user in the ring,
// erasing the current user first if its queue is empty. Resets the slice
// timer for whichever user ends up current.
func (q *InputQueue) advanceUserLocked() {
	if len(q.ring) == 0 {
		q.currentUser = ""
		return
	}
	idx := q.ringIndexLocked(q.currentUser)
	if idx < 0 {
		idx = 0
	}
	cur := q.ring[idx]
	uq := q.users[cur]

	uq.mu.Lock()
	empty := uq.isEmptyLocked()
	uq.mu.Unlock()

	if empty {
		q.ring = append(q.ring[:idx], q.ring[idx+1:]...)
		delete(q.users, cur)
		if len(q.ring) == 0 {
			q.currentUser = ""
			return
		}
		if idx >= len(q.ring) {
			idx = 0
		}
	} else {
		idx = (idx + 1) % len(q.ring)
	}
	q.currentUser = q.ring[idx]
	q.sliceStart = time.Now()
}

// AdvanceUser performs an explicit ring advance, applying the same
// eviction rule as the implicit advance inside RetrieveWork.
func (q *InputQueue) AdvanceUser() {
	q.mapMu.Lock()
	defer q.mapMu.Unlock()
	q.advanceUserLocked()
}

// RetrieveWork blocks until a package is available, then returns the next
// package in round-robin order under sorter. The second return is false
// only if the queue was stopped while waiting.
func (q *InputQueue) RetrieveWork(sorter Sorter) (*work.Package, bool) {
	q.mapMu.Lock()
	for {
		for len(q.ring) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mapMu.Unlock()
			return nil, false
		}

		user := q.currentUser
		uq := q.users[user]
		q.mapMu.Unlock()

		uq.mu.Lock()
		empty := uq.isEmptyLocked()
		if empty {
			uq.mu.Unlock()
			q.mapMu.Lock()
			q.advanceUserLocked()
			continue
		}
		pkg := uq.popLocked(sorter)
		uq.mu.Unlock()

		// Dispatch happens before the slice-expiry advance: with
		// userSlice == 0 this still dispatches exactly one package per
		// user before switching, rather than spinning the ring forever
		// without ever reaching popLocked.
		q.mapMu.Lock()
		if q.sliceExpiredLocked() {
			q.advanceUserLocked()
		}
		q.mapMu.Unlock()

		return pkg, true
	}
}

// RetrieveWorkTimeout behaves like RetrieveWork but gives up after timeout
// if no package became available. A timeout <= 0 means unbounded, exactly
// like RetrieveWork. The extra timedOut result distinguishes "gave up" from
// "got a package" without overloading ok, which is reserved for Stop.
func (q *InputQueue) RetrieveWorkTimeout(sorter Sorter, timeout time.Duration) (pkg *work.Package, ok bool, timedOut bool) {
	if timeout <= 0 {
		pkg, ok = q.RetrieveWork(sorter)
		return pkg, ok, false
	}

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		q.mapMu.Lock()
		q.cond.Broadcast()
		q.mapMu.Unlock()
	})
	defer timer.Stop()

	q.mapMu.Lock()
	for {
		for len(q.ring) == 0 && !q.stopped && time.Now().Before(deadline) {
			q.cond.Wait()
		}
		if q.stopped {
			q.mapMu.Unlock()
			return nil, false, false
		}
		if len(q.ring) == 0 {
			q.mapMu.Unlock()
			return nil, true, true
		}

		user := q.currentUser
		uq := q.users[user]
		q.mapMu.Unlock()

		uq.mu.Lock()
		empty := uq.isEmptyLocked()
		if empty {
			uq.mu.Unlock()
			q.mapMu.Lock()
			q.advanceUserLocked()
			continue
		}
		p := uq.popLocked(sorter)
		uq.mu.Unlock()

		// See RetrieveWork: dispatch before the slice-expiry advance so a
		// zero slice still dispatches one package per user per switch.
		q.mapMu.Lock()
		if q.sliceExpiredLocked() {
			q.advanceUserLocked()
		}
		q.mapMu.Unlock()

		return p, true, false
	}
}

// IsEmpty reports whether no user has queued work. A user whose queue has
// drained but who is still in the ring (awaiting the next advance) counts
// as having no work.
func (q *InputQueue) IsEmpty() bool {
	q.mapMu.Lock()
	defer q.mapMu.Unlock()
	for _, uq := range q.users {
		uq.mu.Lock()
		empty := uq.isEmptyLocked()
		uq.mu.Unlock()
		if !empty {
			return false
		}
	}
	return true
}
