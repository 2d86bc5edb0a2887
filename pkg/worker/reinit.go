package worker

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/errs"
	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/sessions"
	"github.com/halvard-eide/rrworker/pkg/work"
)

// ReinitGraceWhenIdle is the grace period ReinitGet is given when the input
// queue has no other work waiting to occupy the thread (§4.8 step 3; see
// DESIGN.md for why 20ms was picked for the §9 open question). When other
// work is waiting, grace is zero: a dry ReinitGet check that requeues
// rather than blocks the thread off other users' work.
const ReinitGraceWhenIdle = 20 * time.Millisecond

// Transition is the WorkerThreadReinit extension: it tracks which session
// the worker is currently primed for and supplies the Hooks a Thread needs
// to interleave session validation, switching, and reinit priming around
// the base retrieve/dispatch loop. It holds no lock of its own; all shared
// state lives in the sessions.Store and queue.InputQueue it wraps.
type Transition struct {
	log    *logrus.Logger
	thread *Thread
	store  *sessions.Store
	input  *queue.InputQueue

	sorter func() queue.Sorter

	// currentSessionID is the session the worker is primed for, or "" if
	// none (mirrors m_current_session_id in the original).
	currentSessionID string
}

// NewTransition constructs a Transition bound to thread. Install it with
// thread.SetHooks(tr.Hooks()) before calling thread.Start. sorter, if
// non-nil, is used to reinsert requeued packages in the same order
// RetrieveWork would use; a nil sorter falls back to queue.BaseSorter.
func NewTransition(thread *Thread, store *sessions.Store, input *queue.InputQueue, sorter func() queue.Sorter, log *logrus.Logger) *Transition {
	return &Transition{log: log, thread: thread, store: store, input: input, sorter: sorter}
}

// Hooks returns the Hooks value to install on a Thread via SetHooks.
func (tr *Transition) Hooks() Hooks {
	return Hooks{
		Before:       tr.before,
		AfterSuccess: tr.afterSuccess,
		AfterFailure: tr.afterFailure,
	}
}

func (tr *Transition) sorterOrDefault() queue.Sorter {
	if tr.sorter == nil {
		return queue.BaseSorter
	}
	if s := tr.sorter(); s != nil {
		return s
	}
	return queue.BaseSorter
}

// requeueWorkPackage puts pkg back into its user's queue, after advancing
// past that user, so other users get a turn while this one waits on
// something (a missing predecessor, a not-yet-uploaded reinit payload). Done
// from a detached goroutine so the main loop never re-enters the input
// queue's lock while still holding per-thread state.
func (tr *Transition) requeueWorkPackage(pkg *work.Package) {
	sorter := tr.sorterOrDefault()
	go func() {
		tr.input.AdvanceUser()
		tr.input.AddWork(pkg, sorter)
	}()
}

// checkInvalidity reports whether pkg must be discarded outright: its
// session has no live connection.
func (tr *Transition) checkInvalidity(pkg *work.Package) bool {
	if !pkg.HasSession() {
		return false
	}
	return !tr.store.IsActive(pkg.SessionID)
}

// needsDelay reports whether pkg's sequence number is ahead of what its
// session currently expects, meaning some earlier package hasn't arrived
// yet. pkg should be requeued and the user switched rather than dispatched.
func (tr *Transition) needsDelay(pkg *work.Package) bool {
	if !pkg.HasSession() || pkg.Seq.IsOutOfOrder() {
		return false
	}
	expected := tr.store.SequenceGet(pkg.SessionID)
	return pkg.Seq.Greater(expected)
}

// isDifferent reports whether sessionID differs from the session the
// worker is currently primed for.
func (tr *Transition) isDifferent(sessionID string) bool {
	return tr.currentSessionID != sessionID
}

// ensureSessionViaReinit makes sure the worker is primed for pkg's session,
// requesting reinit for the outgoing session and fetching the incoming
// session's reinit payload (if one is needed) before reporting true. It
// reports false when the needed payload isn't available yet and the caller
// should requeue pkg and move on to another user. A worker fault while
// applying the payload is committed directly to pkg's reply, mirroring the
// base dispatch loop's WorkerFault handling.
func (tr *Transition) ensureSessionViaReinit(pkg *work.Package) bool {
	if !pkg.HasSession() {
		return true
	}
	sessionID := pkg.SessionID

	if tr.isDifferent(sessionID) {
		if tr.currentSessionID != "" {
			tr.store.ReinitSetNeeded(tr.currentSessionID)
		}
		tr.currentSessionID = sessionID
	}

	if !tr.store.ReinitIsNeeded(sessionID) {
		return true
	}

	grace := time.Duration(0)
	if tr.input.IsEmpty() {
		grace = ReinitGraceWhenIdle
	}
	payload, ok := tr.store.ReinitGet(sessionID, grace)
	if !ok {
		tr.requeueWorkPackage(pkg)
		return false
	}

	if err := tr.thread.PerformReinit(payload); err != nil {
		pkg.Reply.CommitError(errs.NewWorkerFault(err))
		tr.currentSessionID = ""
		return false
	}
	return true
}

func (tr *Transition) before(pkg *work.Package) bool {
	if tr.checkInvalidity(pkg) {
		if tr.log != nil {
			tr.log.WithField("session_id", pkg.SessionID).Debug("worker: discarding package for inactive session")
		}
		return false
	}

	if pkg.HasSession() && !pkg.Seq.IsOutOfOrder() {
		expected := tr.store.SequenceGet(pkg.SessionID)
		if pkg.Seq.Less(expected) {
			pkg.Reply.CommitError(errs.InvalidSequenceNumber)
			return false
		}
	}

	if tr.needsDelay(pkg) {
		tr.requeueWorkPackage(pkg)
		return false
	}

	// ensureSessionViaReinit fully disposes of pkg itself (requeue or
	// commit an error) whenever it reports false.
	return tr.ensureSessionViaReinit(pkg)
}

func (tr *Transition) afterSuccess(pkg *work.Package) {
	if pkg.HasSession() {
		tr.store.SequenceNext(pkg.SessionID)
	}
}

func (tr *Transition) afterFailure(pkg *work.Package, err error) {
	if pkg.HasSession() {
		tr.store.ReinitSetNeeded(pkg.SessionID)
	}
	// The worker came down; it is primed for nothing until Setup runs again.
	tr.currentSessionID = ""
}
