// Package work defines the unit of dispatch handed between the input queue,
// the worker thread, and the output queue.
package work

import (
	"github.com/halvard-eide/rrworker/pkg/seqnum"
)

// ReplyContext is the server-side handle to a parked RPC call. Ownership
// transfers InputQueue -> WorkerThread -> OutputQueue; committing or
// dropping it releases the client-side caller. Commit/CommitError may only
// be called once.
type ReplyContext interface {
	// Commit returns result to the waiting caller as a successful reply.
	Commit(result []byte)
	// CommitError returns err to the waiting caller in place of a result.
	CommitError(err error)
}

// Package is a unit of work submitted by a client: the payload plus enough
// identity and plumbing to route, order, and reply to it.
//
// SessionID is optional: work submitted with no session never participates
// in the reinit protocol or in-session ordering beyond the base round robin.
type Package struct {
	UserID    string
	SessionID string // empty means "no session"
	Payload   []byte
	Seq       seqnum.SequenceNumber
	Reply     ReplyContext
}

// HasSession reports whether this package is bound to a session.
func (p *Package) HasSession() bool {
	return p.SessionID != ""
}
