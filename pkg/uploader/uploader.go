// Package uploader implements OnDemandUploader: the client-side driver of
// the three-method reinit RPC protocol (notify/pending/upload), including
// its retry policy and stop-token-driven cancellation.
package uploader

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/errs"
)

// progressInterval is how often the cancellation-watching progress callback
// runs during any blocking RPC call, per spec.md §4.6 step 3.
const progressInterval = 10 * time.Millisecond

// maxConsecutiveFailures aborts the upload loop after this many back-to-back
// RPC failures across all three calls, per the §7 UploadRpcFailure policy.
const maxConsecutiveFailures = 10

// retryBackoff is a constant 1s backoff, capped at maxConsecutiveFailures-1
// retries (maxConsecutiveFailures total attempts), matching "sleep 1 s,
// retry; abort after 10 consecutive errors".
func retryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), maxConsecutiveFailures-1)
	return backoff.WithContext(b, ctx)
}

// Caller is the RPC surface the uploader drives. Each method is expected to
// open a fresh client connection per call, refreshing authentication, per
// spec.md §4.6 steps 2a/2d/2e.
type Caller interface {
	Notify(ctx context.Context, sessionID string, id uint32) error
	// Pending blocks server-side until the upload is either needed (true)
	// or aborted (false).
	Pending(ctx context.Context, sessionID string, id uint32) (bool, error)
	Upload(ctx context.Context, sessionID string, id uint32, data []byte) error
}

// Uploader is OnDemandUploader. One Uploader drives reinit priming for a
// single session; StartUpload may be called repeatedly as new reinit data
// becomes available, replacing any loop still running.
type Uploader struct {
	log       *logrus.Logger
	caller    Caller
	sessionID string

	mu       sync.Mutex
	data     []byte
	haveData bool
	current  *uploadLoop
	stopped  []*uploadLoop

	notified atomic.Bool
	uploaded atomic.Bool
}

type uploadLoop struct {
	id         uint32
	stopCh     chan struct{}
	doneCh     chan struct{}
	safeToJoin atomic.Bool
}

// New constructs an Uploader for sessionID, driving RPCs through caller.
func New(sessionID string, caller Caller, log *logrus.Logger) *Uploader {
	return &Uploader{sessionID: sessionID, caller: caller, log: log}
}

// IsNotified reports whether the most recent upload attempt has
// successfully notified the server.
func (u *Uploader) IsNotified() bool { return u.notified.Load() }

// IsUploaded reports whether the most recent upload attempt has completed.
func (u *Uploader) IsUploaded() bool { return u.uploaded.Load() }

// StartUpload begins a fresh upload cycle for data: a new random id is
// generated and a new loop goroutine drives notify/pending/upload, per
// spec.md §4.6 steps 1-2. Any loop still running for a previous id is
// stopped and moved to the stopped list.
func (u *Uploader) StartUpload(data []byte) {
	u.mu.Lock()
	u.stopCurrentLocked()
	u.data = data
	u.haveData = true
	u.notified.Store(false)
	u.uploaded.Store(false)
	loop := u.newLoopLocked(randomID())
	u.mu.Unlock()

	go u.run(loop, data)
}

// Refresh restarts the upload loop if the previous loop exited but upload
// data is still held, keeping the server primed (spec.md §4.6 step 4). The
// restarted loop reuses the id of the most recently stopped loop still
// awaiting join; otherwise it gets a newly generated random id, because the
// id of a loop that ran to its end is not retained. It is a no-op if a loop
// is already running or no data has ever been set.
func (u *Uploader) Refresh() {
	u.mu.Lock()
	if u.current != nil || !u.haveData {
		u.mu.Unlock()
		return
	}
	id := randomID()
	if len(u.stopped) > 0 {
		id = u.stopped[len(u.stopped)-1].id
	}
	data := u.data
	loop := u.newLoopLocked(id)
	u.mu.Unlock()

	go u.run(loop, data)
}

func (u *Uploader) newLoopLocked(id uint32) *uploadLoop {
	loop := &uploadLoop{id: id, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	u.current = loop
	return loop
}

func (u *Uploader) stopCurrentLocked() {
	if u.current == nil {
		return
	}
	close(u.current.stopCh)
	u.stopped = append(u.stopped, u.current)
	u.current = nil
}

// Close stops any running loop and joins every stopped loop, including the
// one just stopped. Per spec.md §4.6, only threads that signalled
// safe-to-join may be reaped early elsewhere; Close always waits for real,
// since a failure to join here is itself a hard error at shutdown.
func (u *Uploader) Close() error {
	u.mu.Lock()
	u.stopCurrentLocked()
	loops := u.stopped
	u.stopped = nil
	u.mu.Unlock()

	for _, loop := range loops {
		<-loop.doneCh
	}
	return nil
}

// reapSafeToJoin removes and joins any stopped loop that has already
// signalled it is safe to join, without blocking on loops that have not.
func (u *Uploader) reapSafeToJoin() {
	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.stopped[:0]
	for _, loop := range u.stopped {
		if loop.safeToJoin.Load() {
			<-loop.doneCh
			continue
		}
		kept = append(kept, loop)
	}
	u.stopped = kept
}

func randomID() uint32 {
	return rand.Uint32()
}

func (u *Uploader) run(loop *uploadLoop, data []byte) {
	defer func() {
		loop.safeToJoin.Store(true)
		close(loop.doneCh)
		u.mu.Lock()
		if u.current == loop {
			u.current = nil
		}
		u.mu.Unlock()
		u.reapSafeToJoin()
	}()

	ctx, cancel := u.watchedContext(loop)
	defer cancel()

	if err := u.callWithRetry(ctx, func() error {
		return u.caller.Notify(ctx, u.sessionID, loop.id)
	}); err != nil {
		u.logFailure("notify", err)
		return
	}
	u.notified.Store(true)

	proceed := false
	if err := u.callWithRetry(ctx, func() error {
		var err error
		proceed, err = u.caller.Pending(ctx, u.sessionID, loop.id)
		return err
	}); err != nil {
		u.logFailure("pending", err)
		return
	}
	if !proceed {
		return
	}

	if err := u.callWithRetry(ctx, func() error {
		return u.caller.Upload(ctx, u.sessionID, loop.id, data)
	}); err != nil {
		u.logFailure("upload", err)
		return
	}
	u.uploaded.Store(true)
}

func (u *Uploader) callWithRetry(ctx context.Context, fn func() error) error {
	err := backoff.Retry(fn, retryBackoff(ctx))
	if err != nil {
		return errs.NewUploadFailure(err)
	}
	return nil
}

func (u *Uploader) logFailure(step string, err error) {
	if u.log == nil {
		return
	}
	u.log.WithFields(logrus.Fields{
		"session_id": u.sessionID,
		"step":       step,
	}).WithError(err).Error("uploader: aborting upload loop after repeated failures")
}

// watchedContext returns a context cancelled either when loop.stopCh closes
// or when run returns; a background goroutine polls loop.stopCh every
// progressInterval, mirroring the progress-callback cancellation described
// in spec.md §4.6 step 3.
func (u *Uploader) watchedContext(loop *uploadLoop) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loop.stopCh:
				cancel()
				return
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
