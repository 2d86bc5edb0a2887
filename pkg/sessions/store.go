// Package sessions implements SessionStorage: the per-session refcount,
// the notified/pending/stored three-id reinit protocol, and the sequence
// counters that gate in-session ordering.
package sessions

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/seqnum"
	"github.com/halvard-eide/rrworker/pkg/work"
)

// DefaultSessionTimeout is the idle interval (refcount 0, unmodified) after
// which a session becomes eligible for eviction, and the period between
// cleanup sweeps.
const DefaultSessionTimeout = 5 * time.Minute

type idSlot struct {
	set bool
	id  uint32
}

func (s idSlot) equalTo(o idSlot) bool {
	return s.set && o.set && s.id == o.id
}

type record struct {
	refcount     int
	lastModified time.Time

	notified  idSlot
	pending   idSlot
	stored    idSlot
	payload   []byte
	deferred  *DeferredUpload
	requested bool

	forcedReinitNeeded bool

	nextSeq seqnum.SequenceNumber
}

func newRecord() *record {
	return &record{lastModified: time.Now(), nextSeq: seqnum.Ordered(0)}
}

func (r *record) uptodateLocked() bool {
	return r.stored.set && r.notified.equalTo(r.pending) && r.notified.equalTo(r.stored)
}

func (r *record) reinitIsNeededLocked() bool {
	if r.forcedReinitNeeded {
		return true
	}
	return r.notified.set && !r.uptodateLocked()
}

// Store is SessionStorage: the central registry of per-session reinit
// state, liveness, and sequencing, guarded by a single shared/exclusive
// lock. The new-reinit condition variable used by ReinitGet's grace period
// is associated with that same lock, per spec.md §4.4.
type Store struct {
	log *logrus.Logger

	mu   sync.RWMutex
	cond *sync.Cond

	sessions map[string]*record

	sessionTimeout time.Duration
	onEvicted      func(sessionID string)

	stopCh      chan struct{}
	cleanupDone chan struct{}
}

// New constructs a Store and starts its background eviction sweep.
func New(log *logrus.Logger) *Store {
	s := &Store{
		log:            log,
		sessions:       make(map[string]*record),
		sessionTimeout: DefaultSessionTimeout,
		stopCh:         make(chan struct{}),
		cleanupDone:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.cleanupLoop()
	return s
}

// Stop halts the background eviction sweep and waits for it to exit.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.cleanupDone
}

// SetOnEvicted installs a callback invoked, without the store's lock held,
// once per session the cleanup sweep evicts for idleness.
func (s *Store) SetOnEvicted(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvicted = fn
}

func (s *Store) cleanupLoop() {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(s.sessionTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
			checkFDLimit(s.log)
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	now := time.Now()
	var evicted []string
	for id, r := range s.sessions {
		if r.refcount == 0 && now.Sub(r.lastModified) >= s.sessionTimeout {
			if r.deferred != nil {
				r.deferred.Abort()
				r.deferred = nil
			}
			delete(s.sessions, id)
			evicted = append(evicted, id)
			if s.log != nil {
				s.log.WithField("session_id", id).Debug("sessions: evicted idle session")
			}
		}
	}
	onEvicted := s.onEvicted
	s.mu.Unlock()

	if onEvicted == nil {
		return
	}
	for _, id := range evicted {
		onEvicted(id)
	}
}

func (s *Store) ensureRegisteredLocked(sessionID string) *record {
	r, ok := s.sessions[sessionID]
	if !ok {
		r = newRecord()
		s.sessions[sessionID] = r
	}
	return r
}

// EnsureRegistered registers sessionID if unseen; it is idempotent. This is
// the connection-establishment hook: callers install the on-destroy
// callback (refcount decrement) the first time a session is observed.
func (s *Store) EnsureRegistered(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureRegisteredLocked(sessionID)
}

// AddRef increments a session's live-connection count, registering the
// session first if needed.
func (s *Store) AddRef(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRegisteredLocked(sessionID)
	r.refcount++
	r.lastModified = time.Now()
}

// Release decrements a session's live-connection count. This is the body
// of the on-destroy hook: call it when the RPC connection referencing the
// session closes. Refcount never drops below zero.
func (s *Store) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if r.refcount > 0 {
		r.refcount--
	}
	r.lastModified = time.Now()
}

// IsActive reports whether sessionID currently has at least one live
// connection. Unknown sessions are inactive.
func (s *Store) IsActive(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	return ok && r.refcount > 0
}

// TotalRefcount sums refcounts across all tracked sessions, for
// diagnostics.
func (s *Store) TotalRefcount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, r := range s.sessions {
		total += r.refcount
	}
	return total
}

// ReinitNotify registers id as the latest reinit candidate for sessionID.
// If id differs from the current notified id, any stale stored payload is
// cleared and any parked pending-reply (tied to the old id) is aborted with
// false, matching spec.md §8 scenario 6.
func (s *Store) ReinitNotify(sessionID string, id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRegisteredLocked(sessionID)
	r.lastModified = time.Now()

	newSlot := idSlot{set: true, id: id}
	if r.notified.equalTo(newSlot) {
		return
	}
	r.notified = newSlot
	r.stored = idSlot{}
	r.payload = nil
	r.requested = false
	r.pending = idSlot{}
	if r.deferred != nil {
		d := r.deferred
		r.deferred = nil
		go d.Abort()
	}
}

// ReinitPending registers reply as the parked call for id, if id matches
// the session's current notified id. It reports whether parking succeeded;
// when it reports false, the caller must itself commit false to reply
// immediately (the client should not upload).
func (s *Store) ReinitPending(sessionID string, id uint32, reply PendingReply) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRegisteredLocked(sessionID)
	r.lastModified = time.Now()

	if !r.notified.equalTo(idSlot{set: true, id: id}) {
		return false
	}

	if r.deferred != nil {
		d := r.deferred
		r.deferred = nil
		go d.Abort()
	}
	r.deferred = NewDeferredUpload(reply)
	r.pending = idSlot{set: true, id: id}
	r.requested = false
	return true
}

// ReinitStore writes payload as the uploaded reinit data for sessionID, if
// id matches notified and pending. Otherwise the upload is dropped.
func (s *Store) ReinitStore(sessionID string, id uint32, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		if s.log != nil {
			s.log.WithField("session_id", sessionID).Warn("sessions: reinit upload for unknown session dropped")
		}
		return
	}
	r.lastModified = time.Now()

	want := idSlot{set: true, id: id}
	if !r.notified.equalTo(want) || !r.pending.equalTo(want) {
		if s.log != nil {
			s.log.WithFields(logrus.Fields{
				"session_id": sessionID,
				"upload_id":  id,
			}).Warn("sessions: reinit upload id mismatch, dropped")
		}
		return
	}
	r.payload = payload
	r.stored = want
	s.cond.Broadcast()
}

// ReinitRequest commits the parked pending-reply with true if the session
// has a not-yet-requested pending upload, causing the client to upload. A
// no-op if the session is already up to date or has already been
// requested.
func (s *Store) ReinitRequest(sessionID string) {
	s.mu.Lock()
	r, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if r.uptodateLocked() || r.requested || r.deferred == nil {
		s.mu.Unlock()
		return
	}
	if !r.pending.equalTo(r.notified) {
		s.mu.Unlock()
		return
	}
	r.requested = true
	d := r.deferred
	r.deferred = nil
	s.mu.Unlock()

	go d.Commit(true)
}

// ReinitAbortPending commits the parked pending-reply with false, if any.
func (s *Store) ReinitAbortPending(sessionID string) {
	s.mu.Lock()
	r, ok := s.sessions[sessionID]
	if !ok || r.deferred == nil {
		s.mu.Unlock()
		return
	}
	d := r.deferred
	r.deferred = nil
	s.mu.Unlock()

	go d.Abort()
}

// ReinitSetNeeded marks sessionID as requiring reinit before its next work
// unit, independent of the notify/pending/store handshake. This backs both
// the reinit_enforce RPC and the internal "re-prime the outgoing session"
// step of a session transition.
func (s *Store) ReinitSetNeeded(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRegisteredLocked(sessionID)
	r.forcedReinitNeeded = true
	r.lastModified = time.Now()
}

// ReinitIsNeeded reports whether sessionID needs a reinit program applied
// before its next work unit runs.
func (s *Store) ReinitIsNeeded(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	return ok && r.reinitIsNeededLocked()
}

// ReinitIsNotified reports whether sessionID currently has a notified id.
func (s *Store) ReinitIsNotified(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	return ok && r.notified.set
}

// ReinitIsRequested reports whether sessionID's pending upload has already
// been requested from the client.
func (s *Store) ReinitIsRequested(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	return ok && r.requested
}

// ReinitGet returns the up-to-date reinit payload for sessionID, waiting up
// to grace for one to arrive if none is available yet but a request has
// been or can be issued. The bool result is false if no up-to-date payload
// became available within the grace period.
func (s *Store) ReinitGet(sessionID string, grace time.Duration) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if r.uptodateLocked() {
		return r.payload, true
	}

	if !r.requested && r.deferred != nil && r.pending.equalTo(r.notified) {
		r.requested = true
		d := r.deferred
		r.deferred = nil
		go d.Commit(true)
	}

	if grace <= 0 {
		return nil, false
	}

	deadline := time.Now().Add(grace)
	timer := time.AfterFunc(grace, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	for !r.uptodateLocked() && time.Now().Before(deadline) {
		s.cond.Wait()
	}
	if r.uptodateLocked() {
		return r.payload, true
	}
	return nil, false
}

// SequenceFastForward advances sessionID's expected sequence counter to
// seq if the counter is still at zero and seq is ahead of it. This
// compensates for a server restart against a still-running client.
func (s *Store) SequenceFastForward(sessionID string, seq seqnum.SequenceNumber) {
	if seq.IsOutOfOrder() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRegisteredLocked(sessionID)
	if r.nextSeq.Equal(seqnum.Ordered(0)) && seq.Greater(seqnum.Ordered(0)) {
		r.nextSeq = seq
	}
}

// SequenceGet returns the next-expected Ordered sequence number for
// sessionID.
func (s *Store) SequenceGet(sessionID string) seqnum.SequenceNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		return seqnum.Ordered(0)
	}
	return r.nextSeq
}

// SequenceNext advances sessionID's expected sequence counter by one.
func (s *Store) SequenceNext(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRegisteredLocked(sessionID)
	r.nextSeq = r.nextSeq.Next()
	r.lastModified = time.Now()
}

// HeapSorterMostCompleted returns a queue.Sorter that prefers sessions
// with a lower current sequence number (sessions further behind are
// drained first), falling back to the base comparator to break ties. It
// snapshots counters at call time so the resulting sort is stable across
// a single heap operation even as sessions continue to advance.
func (s *Store) HeapSorterMostCompleted() queue.Sorter {
	s.mu.RLock()
	snapshot := make(map[string]seqnum.SequenceNumber, len(s.sessions))
	for id, r := range s.sessions {
		snapshot[id] = r.nextSeq
	}
	s.mu.RUnlock()

	return func(a, b *work.Package) bool {
		sa, oka := snapshot[a.SessionID]
		sb, okb := snapshot[b.SessionID]
		if oka && okb && a.SessionID != b.SessionID {
			if sa.Less(sb) {
				return true
			}
			if sb.Less(sa) {
				return false
			}
		}
		return queue.BaseSorter(a, b)
	}
}
