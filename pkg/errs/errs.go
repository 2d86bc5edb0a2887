// Package errs names the client-visible error kinds from spec.md §7. They
// are sentinel values rather than an exception hierarchy: callers compare
// with errors.Is, and the RPC layer maps each to a wire status.
package errs

import "errors"

var (
	// Unauthorized means the verifier rejected the caller's user-data. The
	// call never enters a queue.
	Unauthorized = errors.New("rrworker: caller not authorized")

	// InvalidSequenceNumber means the client submitted a sequence number
	// below the session's expected counter. The session continues.
	InvalidSequenceNumber = errors.New("rrworker: invalid sequence number")

	// SessionInactive means the package's session has a refcount of zero
	// at dispatch time. Packages hitting this are discarded silently; the
	// sentinel exists for logging and tests, not for commitment to a reply.
	SessionInactive = errors.New("rrworker: session inactive")

	// ReinitUnavailable means a session needed reinit but no payload
	// arrived within its grace period. The package is requeued; this
	// sentinel never reaches a client reply, only logs.
	ReinitUnavailable = errors.New("rrworker: reinit unavailable within grace period")

	// UploadRpcFailure means a client uploader's notify/pending/upload
	// call failed on every retry attempt.
	UploadRpcFailure = errors.New("rrworker: upload rpc failed")

	// Fatal marks a process-wide condition (fd exhaustion, a worker that
	// refuses to tear down) that should initiate server shutdown.
	Fatal = errors.New("rrworker: fatal condition")
)

// WorkerFault wraps an error returned by Worker.Work or Worker.PerformReinit.
// The worker is torn down whenever this occurs.
type WorkerFault struct {
	Err error
}

func (e *WorkerFault) Error() string {
	return "rrworker: worker fault: " + e.Err.Error()
}

func (e *WorkerFault) Unwrap() error {
	return e.Err
}

// NewWorkerFault wraps err as a WorkerFault.
func NewWorkerFault(err error) error {
	return &WorkerFault{Err: err}
}

// UploadFailure wraps the last error from an uploader RPC call that has
// exhausted its retries. errors.Is against UploadRpcFailure succeeds.
type UploadFailure struct {
	Err error
}

func (e *UploadFailure) Error() string {
	return "rrworker: upload rpc failed: " + e.Err.Error()
}

func (e *UploadFailure) Unwrap() error {
	return e.Err
}

func (e *UploadFailure) Is(target error) bool {
	return target == UploadRpcFailure
}

// NewUploadFailure wraps err as an UploadFailure.
func NewUploadFailure(err error) error {
	return &UploadFailure{Err: err}
}
