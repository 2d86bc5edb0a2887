// Package wire defines the JSON envelopes exchanged between rpcclient and
// rpc's HTTP handlers: the five methods of the §6 RPC surface
// (submit_work, reinit_notify, reinit_pending, reinit_upload,
// reinit_enforce), opaque payloads, and the sequence number and reinit-id
// fields that travel alongside them.
package wire

import "github.com/halvard-eide/rrworker/pkg/seqnum"

// UserData is carried on every request for authentication, per spec.md §6
// "each client call carries a user-data string used for authentication".
type UserData struct {
	UserData string `json:"user_data"`
}

// SubmitWorkRequest is the body of POST /rpc/submit_work.
type SubmitWorkRequest struct {
	UserData string                `json:"user_data"`
	Payload  []byte                `json:"payload"`
	Seq      seqnum.SequenceNumber `json:"seq"`
}

// SubmitWorkResponse is the body of a submit_work reply, successful or not.
type SubmitWorkResponse struct {
	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ReinitNotifyRequest is the body of POST /rpc/reinit_notify.
type ReinitNotifyRequest struct {
	UserData string `json:"user_data"`
	ID       uint32 `json:"id"`
}

// ReinitPendingRequest is the body of POST /rpc/reinit_pending.
type ReinitPendingRequest struct {
	UserData string `json:"user_data"`
	ID       uint32 `json:"id"`
}

// ReinitPendingResponse reports whether the client should proceed to
// upload (Proceed=true) or abandon the attempt (Proceed=false).
type ReinitPendingResponse struct {
	Proceed bool   `json:"proceed"`
	Error   string `json:"error,omitempty"`
}

// ReinitUploadRequest is the body of POST /rpc/reinit_upload.
type ReinitUploadRequest struct {
	UserData string `json:"user_data"`
	ID       uint32 `json:"id"`
	Payload  []byte `json:"payload"`
}

// ReinitEnforceRequest is the body of POST /rpc/reinit_enforce.
type ReinitEnforceRequest struct {
	UserData string `json:"user_data"`
}

// ErrorResponse is the body of any non-2xx RPC reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AdminEvent is one message pushed over the admin event-stream websocket:
// a scheduler lifecycle notification, not part of the worker RPC surface.
type AdminEvent struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
