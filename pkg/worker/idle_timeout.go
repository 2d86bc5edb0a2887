package worker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IdleTimeout is the §4.9 server-wide shutdown driver: a dedicated
// goroutine that watches the WorkerThread's last-idle timestamp and signals
// an outer callback once the server has sat idle for the configured
// duration. A timeout of zero disables it: the driver waits indefinitely
// and never fires.
type IdleTimeout struct {
	log       *logrus.Logger
	thread    *Thread
	timeout   time.Duration
	onTimeout func()

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
	fired   bool

	doneCh chan struct{}
}

// NewIdleTimeout constructs an IdleTimeout. Call Start to run it.
// onTimeout is invoked on the driver's own goroutine exactly once, the
// moment the thread has been idle continuously for timeout.
func NewIdleTimeout(thread *Thread, timeout time.Duration, onTimeout func(), log *logrus.Logger) *IdleTimeout {
	it := &IdleTimeout{
		log:       log,
		thread:    thread,
		timeout:   timeout,
		onTimeout: onTimeout,
		doneCh:    make(chan struct{}),
	}
	it.cond = sync.NewCond(&it.mu)
	return it
}

// Start launches the driver goroutine.
func (it *IdleTimeout) Start() {
	go it.run()
}

// Stop requests the driver to exit without firing onTimeout, and blocks
// until it has. Per spec.md §4.9 this busy-waits, rebroadcasting, since a
// single notification can race with the driver re-entering its wait.
func (it *IdleTimeout) Stop() {
	it.mu.Lock()
	it.stopped = true
	it.mu.Unlock()

	for {
		select {
		case <-it.doneCh:
			return
		default:
		}
		it.mu.Lock()
		it.cond.Broadcast()
		it.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (it *IdleTimeout) run() {
	defer close(it.doneCh)

	for {
		it.mu.Lock()
		if it.stopped {
			it.mu.Unlock()
			return
		}

		idleSince := it.thread.LastIdleSince()
		wait := time.Second
		timedOut := false

		if it.timeout > 0 && !idleSince.IsZero() {
			remaining := it.timeout - time.Since(idleSince)
			if remaining <= 0 {
				timedOut = true
			} else if remaining < wait {
				wait = remaining
			}
		}

		if timedOut {
			it.fired = true
			it.mu.Unlock()
			if it.log != nil {
				it.log.WithField("idle_timeout", it.timeout).Info("worker: idle timeout elapsed, signalling shutdown")
			}
			it.onTimeout()
			return
		}

		timer := time.AfterFunc(wait, func() {
			it.mu.Lock()
			it.cond.Broadcast()
			it.mu.Unlock()
		})
		it.cond.Wait()
		timer.Stop()
		it.mu.Unlock()
	}
}

// Fired reports whether the driver actually timed out (as opposed to being
// stopped first). Exit codes use this to distinguish "idle shutdown" (0)
// from other shutdown paths.
func (it *IdleTimeout) Fired() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.fired
}
