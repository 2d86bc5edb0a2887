// Package worker drives the exclusive hardware resource: a single
// goroutine pulls work from the InputQueue, runs it, and pushes completed
// replies to the OutputQueue, tearing the worker down on idleness or fault.
package worker

// Worker is the capability set the scheduler core needs from the
// hardware resource it multiplexes. Exactly one goroutine (the Thread
// owning it) ever calls these methods; Worker implementations need not be
// safe for concurrent use.
type Worker interface {
	// Setup brings the worker up. Called lazily, the first time work needs
	// to be dispatched after the worker was down.
	Setup() error
	// VerifyUser maps an opaque per-call credential to a (user_id,
	// session_id) pair, or reports ok=false to reject the call. This
	// mirrors the original hardware worker's own veto over VerifyUser,
	// kept here as part of Worker's capability set; this repo's RPC layer
	// authenticates every call itself via rpc.Verifier before a request
	// ever reaches the InputQueue, so implementations are never called
	// through this path today.
	VerifyUser(userData string) (userID, sessionID string, ok bool)
	// Work runs one unit of work and returns its result. An error is
	// treated as WorkerFault: the worker is assumed to be in a possibly
	// corrupted state and is torn down.
	Work(payload []byte) ([]byte, error)
	// PerformReinit restores session state described by payload. Called
	// between the last Work of an outgoing session and the first Work of
	// an incoming one that needs it.
	PerformReinit(payload []byte) error
	// Teardown releases the worker. Always called on the same goroutine
	// that calls Work/PerformReinit/Setup.
	Teardown() error
}
