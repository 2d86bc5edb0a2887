package worker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/work"
)

// Hooks lets an extension (see WorkerThreadReinit in reinit.go) interleave
// session-transition logic around the base dispatch loop without Thread
// needing to know anything about sessions.
type Hooks struct {
	// Before runs after a package is retrieved and before it is dispatched
	// to the worker. Returning false means the hook has already disposed
	// of the package (dropped, requeued, or committed an error) and the
	// base loop must not dispatch it.
	Before func(pkg *work.Package) bool
	// AfterSuccess runs after a successful Work call, before the result is
	// pushed to the output queue.
	AfterSuccess func(pkg *work.Package)
	// AfterFailure runs after a failed Work call, after the error has been
	// committed to the reply and the worker torn down.
	AfterFailure func(pkg *work.Package, err error)
}

// Thread owns the exclusive worker resource. Exactly one goroutine runs
// its main loop; the worker is never touched from any other goroutine.
// Teardown always happens on this same goroutine, which matters when the
// worker owns a child process relying on parent-death semantics.
type Thread struct {
	log    *logrus.Logger
	worker Worker
	input  *queue.InputQueue
	output *queue.OutputQueue

	sorterFn func() queue.Sorter
	hooks    Hooks

	mu              sync.Mutex
	up              bool
	idleSince       time.Time
	releaseInterval time.Duration
	onUp            func()
	onDown          func()

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewThread constructs a Thread. Call Start to run its loop.
func NewThread(w Worker, input *queue.InputQueue, output *queue.OutputQueue, log *logrus.Logger) *Thread {
	return &Thread{
		log:       log,
		worker:    w,
		input:     input,
		output:    output,
		idleSince: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetHooks installs the session-transition extension. Must be called
// before Start.
func (t *Thread) SetHooks(h Hooks) {
	t.hooks = h
}

// SetSorter installs a dynamic heap comparator factory, called fresh on
// every retrieval so session-aware sorts (see sessions.Store's
// HeapSorterMostCompleted) see current counters. Nil means queue.BaseSorter.
func (t *Thread) SetSorter(fn func() queue.Sorter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sorterFn = fn
}

// SetReleaseInterval changes how long the worker may sit idle, up, before
// being torn down. Zero means tear down as soon as the input queue is
// empty.
func (t *Thread) SetReleaseInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseInterval = d
}

// SetOnWorkerUp installs a callback invoked, without the thread's lock
// held, each time the worker transitions from down to up.
func (t *Thread) SetOnWorkerUp(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUp = fn
}

// SetOnWorkerDown installs a callback invoked, without the thread's lock
// held, each time the worker transitions from up to down.
func (t *Thread) SetOnWorkerDown(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDown = fn
}

// IsUp reports whether the worker is currently set up.
func (t *Thread) IsUp() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.up
}

// LastIdleSince returns the time the worker last became idle (the input
// queue observed empty), or the zero Time if it is not currently idle.
// IdleTimeout uses this to measure server-wide idleness.
func (t *Thread) LastIdleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleSince
}

func (t *Thread) sorter() queue.Sorter {
	t.mu.Lock()
	fn := t.sorterFn
	t.mu.Unlock()
	if fn == nil {
		return queue.BaseSorter
	}
	return fn()
}

// Start launches the main loop in its own goroutine.
func (t *Thread) Start() {
	go t.run()
}

// Stop requests shutdown and blocks until the loop goroutine has exited
// and the worker (if up) has been torn down.
func (t *Thread) Stop() {
	close(t.stopCh)
	t.input.Stop()
	<-t.doneCh
}

func (t *Thread) run() {
	defer close(t.doneCh)
	for {
		select {
		case <-t.stopCh:
			t.teardown()
			return
		default:
		}

		if t.input.IsEmpty() {
			t.markIdleIfNeeded()
			if t.tryTeardownOnRelease() {
				continue
			}
		}

		timeout := t.waitTimeout()
		var (
			pkg      *work.Package
			ok       bool
			timedOut bool
		)
		if timeout > 0 {
			pkg, ok, timedOut = t.input.RetrieveWorkTimeout(t.sorter(), timeout)
		} else {
			pkg, ok = t.input.RetrieveWork(t.sorter())
		}
		if !ok {
			t.teardown()
			return
		}
		if timedOut {
			continue
		}

		t.mu.Lock()
		t.idleSince = time.Time{}
		t.mu.Unlock()

		if t.hooks.Before != nil && !t.hooks.Before(pkg) {
			continue
		}
		t.dispatch(pkg)
	}
}

func (t *Thread) markIdleIfNeeded() {
	t.mu.Lock()
	if t.idleSince.IsZero() {
		t.idleSince = time.Now()
	}
	t.mu.Unlock()
}

// tryTeardownOnRelease tears the worker down if it is up and has been idle
// at least as long as the release interval, returning true if it did so
// (the caller should loop back to re-check for work afterward).
func (t *Thread) tryTeardownOnRelease() bool {
	t.mu.Lock()
	up := t.up
	idleSince := t.idleSince
	ri := t.releaseInterval
	t.mu.Unlock()

	if !up || idleSince.IsZero() {
		return false
	}
	if time.Since(idleSince) >= ri {
		t.teardown()
		return true
	}
	return false
}

// waitTimeout returns how long RetrieveWorkTimeout should wait before
// giving up: time-until-next-teardown if up, unbounded (0) if down.
func (t *Thread) waitTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.up {
		return 0
	}
	if t.idleSince.IsZero() {
		return t.releaseInterval
	}
	remaining := t.releaseInterval - time.Since(t.idleSince)
	if remaining < 0 {
		remaining = 0
	}
	if remaining == 0 {
		// Avoid a zero timeout meaning "unbounded" in RetrieveWorkTimeout.
		remaining = time.Millisecond
	}
	return remaining
}

func (t *Thread) ensureUp() error {
	t.mu.Lock()
	if t.up {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.worker.Setup(); err != nil {
		return err
	}
	t.mu.Lock()
	t.up = true
	t.idleSince = time.Time{}
	onUp := t.onUp
	t.mu.Unlock()

	if onUp != nil {
		onUp()
	}
	return nil
}

func (t *Thread) teardown() {
	t.mu.Lock()
	if !t.up {
		t.mu.Unlock()
		return
	}
	t.up = false
	t.mu.Unlock()

	if err := t.worker.Teardown(); err != nil && t.log != nil {
		t.log.WithError(err).Error("worker: teardown failed")
	}

	t.mu.Lock()
	t.idleSince = time.Now()
	onDown := t.onDown
	t.mu.Unlock()

	if onDown != nil {
		onDown()
	}
}

// PerformReinit applies a reinit payload through the worker, bringing it up
// first if needed. A failure tears the worker down on this same goroutine,
// exactly like a failed Work call.
func (t *Thread) PerformReinit(payload []byte) error {
	if err := t.ensureUp(); err != nil {
		return err
	}
	if err := t.worker.PerformReinit(payload); err != nil {
		t.teardown()
		return err
	}
	return nil
}

func (t *Thread) dispatch(pkg *work.Package) {
	if err := t.ensureUp(); err != nil {
		pkg.Reply.CommitError(err)
		if t.hooks.AfterFailure != nil {
			t.hooks.AfterFailure(pkg, err)
		}
		return
	}

	result, err := t.worker.Work(pkg.Payload)
	if err != nil {
		pkg.Reply.CommitError(err)
		// A failed call may have corrupted hardware state: teardown always
		// happens here, on the worker's own goroutine.
		t.teardown()
		if t.hooks.AfterFailure != nil {
			t.hooks.AfterFailure(pkg, err)
		}
		return
	}

	if t.hooks.AfterSuccess != nil {
		t.hooks.AfterSuccess(pkg)
	}
	t.output.Push(func() {
		pkg.Reply.Commit(result)
	})
}
