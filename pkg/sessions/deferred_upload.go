package sessions

import "sync"

// PendingReply is the server-side handle to a parked reinit_pending RPC
// call. Commit may be called exactly once; a second call is a programming
// error. It is the session-protocol analogue of work.ReplyContext.
type PendingReply interface {
	Commit(proceed bool)
}

// DeferredUpload parks a single PendingReply until the scheduler decides
// whether the client should upload reinit data (commit true) or abandon the
// attempt (commit false / abort). It exists so SessionStorage can hold a
// reply open for minutes without tying up anything but a small struct.
type DeferredUpload struct {
	mu        sync.Mutex
	committed bool
	reply     PendingReply
}

// NewDeferredUpload parks reply until Commit or Abort is called.
func NewDeferredUpload(reply PendingReply) *DeferredUpload {
	return &DeferredUpload{reply: reply}
}

// Commit delivers proceed to the parked caller. Calling Commit twice on the
// same DeferredUpload is a programming error and panics, per spec.md §4.5.
// The check is per DeferredUpload: a second DeferredUpload wrapping the same
// reply does not detect the earlier commit.
func (d *DeferredUpload) Commit(proceed bool) {
	d.mu.Lock()
	if d.committed {
		d.mu.Unlock()
		panic("sessions: double commit on parked reinit_pending reply")
	}
	d.committed = true
	d.mu.Unlock()
	d.reply.Commit(proceed)
}

// Abort commits false unless this DeferredUpload has already been
// committed, in which case it is a silent no-op. Used when a newer notify
// or session eviction supersedes an in-flight pending-reply.
func (d *DeferredUpload) Abort() {
	d.mu.Lock()
	if d.committed {
		d.mu.Unlock()
		return
	}
	d.committed = true
	d.mu.Unlock()
	d.reply.Commit(false)
}
