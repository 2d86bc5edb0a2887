// Package rpc realizes the §6 RPC surface over HTTP: submit_work,
// reinit_notify, reinit_pending, reinit_upload, reinit_enforce. A parked
// reply (submit_work's asynchronous result, reinit_pending's
// needed-or-abandoned verdict) is, concretely, the serving goroutine
// blocked on a channel until the scheduler core commits a value — there is
// no separate RPC runtime thread pool to park it on.
package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/sessions"
)

// SubmitWorkTimeout bounds how long a submit_work call's HTTP handler
// blocks waiting for the worker. Spec.md §5 notes a client-side timeout on
// the order of a day for worker calls; this is the server-side mirror.
const SubmitWorkTimeout = 24 * time.Hour

// DefaultMaxPayloadBytes bounds the size of a decoded request body. The
// original RCF transport hardcoded a 1.25 GiB maximum incoming message
// length; this is the equivalent cap for the HTTP transport, generous but
// finite rather than effectively unbounded.
const DefaultMaxPayloadBytes = 64 << 20 // 64 MiB

// Server is the RPC surface's HTTP handler: request in, verify, translate
// to a work.Package or a sessions.Store call, and (for submit_work and
// reinit_pending) block the handler goroutine until the scheduler commits
// a reply.
type Server struct {
	log             *logrus.Logger
	input           *queue.InputQueue
	store           *sessions.Store
	verifier        Verifier
	sorterFn        func() queue.Sorter
	events          *EventHub
	maxPayloadBytes int64

	router *mux.Router
}

// NewServer constructs the RPC HTTP handler. A sorter factory installed
// afterwards with SetSorter is consulted fresh on every submit_work so a
// session-aware heap comparator (sessions.Store.HeapSorterMostCompleted)
// can be installed dynamically.
func NewServer(input *queue.InputQueue, store *sessions.Store, verifier Verifier, events *EventHub, log *logrus.Logger) *Server {
	if verifier == nil {
		verifier = DefaultVerifier{}
	}
	s := &Server{log: log, input: input, store: store, verifier: verifier, events: events, maxPayloadBytes: DefaultMaxPayloadBytes}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/rpc/submit_work", s.handleSubmitWork).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/reinit_notify", s.handleReinitNotify).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/reinit_pending", s.handleReinitPending).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/reinit_upload", s.handleReinitUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/reinit_enforce", s.handleReinitEnforce).Methods(http.MethodPost)
	if events != nil {
		s.router.HandleFunc("/admin/events", events.ServeHTTP)
	}
	return s
}

// SetSorter installs a dynamic heap comparator factory used for every
// submit_work's AddWork call. Nil means queue.BaseSorter.
func (s *Server) SetSorter(fn func() queue.Sorter) {
	s.sorterFn = fn
}

// SetMaxPayloadBytes overrides DefaultMaxPayloadBytes.
func (s *Server) SetMaxPayloadBytes(n int64) {
	s.maxPayloadBytes = n
}

func (s *Server) sorter() queue.Sorter {
	if s.sorterFn == nil {
		return queue.BaseSorter
	}
	if sorter := s.sorterFn(); sorter != nil {
		return sorter
	}
	return queue.BaseSorter
}

// ServeHTTP lets Server be used directly as an http.Handler (e.g. behind
// http.ListenAndServe).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) verify(userData string) (userID, sessionID string, ok bool) {
	return s.verifier.Verify(userData)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

// httpReply adapts a submit_work handler goroutine, blocked on resultCh, to
// work.ReplyContext.
type httpReply struct {
	resultCh chan []byte
	errCh    chan error
}

func newHTTPReply() *httpReply {
	return &httpReply{resultCh: make(chan []byte, 1), errCh: make(chan error, 1)}
}

func (r *httpReply) Commit(result []byte)  { r.resultCh <- result }
func (r *httpReply) CommitError(err error) { r.errCh <- err }

// httpPendingReply adapts a reinit_pending handler goroutine, blocked on
// proceedCh, to sessions.PendingReply.
type httpPendingReply struct {
	proceedCh chan bool
}

func newHTTPPendingReply() *httpPendingReply {
	return &httpPendingReply{proceedCh: make(chan bool, 1)}
}

func (r *httpPendingReply) Commit(proceed bool) { r.proceedCh <- proceed }
