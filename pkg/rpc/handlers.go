package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/halvard-eide/rrworker/pkg/errs"
	"github.com/halvard-eide/rrworker/pkg/wire"
	"github.com/halvard-eide/rrworker/pkg/work"
)

func (s *Server) decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body := io.LimitReader(r.Body, s.maxPayloadBytes)
	return json.NewDecoder(body).Decode(v)
}

// handleSubmitWork parks the handler goroutine on an httpReply until
// WorkerThread (or WorkerThreadReinit) commits a result or error, per
// spec.md §6 "Reply is asynchronous".
func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	var req wire.SubmitWorkRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	userID, sessionID, ok := s.verify(req.UserData)
	if !ok {
		writeError(w, statusFor(errs.Unauthorized), errs.Unauthorized)
		return
	}

	if sessionID != "" {
		s.store.AddRef(sessionID)
		defer s.store.Release(sessionID)
		s.store.SequenceFastForward(sessionID, req.Seq)
	}

	reply := newHTTPReply()
	pkg := &work.Package{
		UserID:    userID,
		SessionID: sessionID,
		Payload:   req.Payload,
		Seq:       req.Seq,
		Reply:     reply,
	}
	s.input.AddWork(pkg, s.sorter())

	timer := time.NewTimer(SubmitWorkTimeout)
	defer timer.Stop()

	select {
	case result := <-reply.resultCh:
		writeJSON(w, http.StatusOK, wire.SubmitWorkResponse{Result: result})
	case err := <-reply.errCh:
		writeJSON(w, http.StatusOK, wire.SubmitWorkResponse{Error: err.Error()})
	case <-r.Context().Done():
		// Client hung up; the package still runs to completion and its
		// result is simply discarded when committed.
	case <-timer.C:
		writeError(w, statusFor(errs.Fatal), errs.Fatal)
	}
}

// handleReinitNotify registers id as the latest reinit candidate for the
// caller's session. Per spec.md §4.4, unknown sessions are registered
// implicitly.
func (s *Server) handleReinitNotify(w http.ResponseWriter, r *http.Request) {
	var req wire.ReinitNotifyRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, sessionID, ok := s.verify(req.UserData)
	if !ok {
		writeError(w, statusFor(errs.Unauthorized), errs.Unauthorized)
		return
	}
	s.store.ReinitNotify(sessionID, req.ID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleReinitPending parks until the scheduler either needs the upload
// (true) or abandons it (false); a mismatched id resolves immediately with
// false and no side effects, per spec.md §4.4's failure-mode note.
func (s *Server) handleReinitPending(w http.ResponseWriter, r *http.Request) {
	var req wire.ReinitPendingRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, sessionID, ok := s.verify(req.UserData)
	if !ok {
		writeError(w, statusFor(errs.Unauthorized), errs.Unauthorized)
		return
	}

	reply := newHTTPPendingReply()
	if !s.store.ReinitPending(sessionID, req.ID, reply) {
		writeJSON(w, http.StatusOK, wire.ReinitPendingResponse{Proceed: false})
		return
	}

	select {
	case proceed := <-reply.proceedCh:
		writeJSON(w, http.StatusOK, wire.ReinitPendingResponse{Proceed: proceed})
	case <-r.Context().Done():
	}
}

// handleReinitUpload stores the uploaded payload if id still matches the
// session's notified/pending ids; a mismatch is dropped with a warning by
// sessions.Store itself.
func (s *Server) handleReinitUpload(w http.ResponseWriter, r *http.Request) {
	var req wire.ReinitUploadRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, sessionID, ok := s.verify(req.UserData)
	if !ok {
		writeError(w, statusFor(errs.Unauthorized), errs.Unauthorized)
		return
	}
	s.store.ReinitStore(sessionID, req.ID, req.Payload)
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleReinitEnforce marks the caller's session as requiring reinit
// before its next work unit, independent of the notify/pending handshake.
func (s *Server) handleReinitEnforce(w http.ResponseWriter, r *http.Request) {
	var req wire.ReinitEnforceRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, sessionID, ok := s.verify(req.UserData)
	if !ok {
		writeError(w, statusFor(errs.Unauthorized), errs.Unauthorized)
		return
	}
	s.store.ReinitSetNeeded(sessionID)
	writeJSON(w, http.StatusOK, struct{}{})
}
