// Package scheduler wires the round-robin core (InputQueue, OutputQueue,
// sessions.Store, worker.Thread/Transition/IdleTimeout) and the HTTP RPC
// surface into the single long-lived object spec.md §6's server CLI
// constructs, starts, and eventually tears down.
package scheduler

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/rpc"
	"github.com/halvard-eide/rrworker/pkg/sessions"
	"github.com/halvard-eide/rrworker/pkg/wire"
	"github.com/halvard-eide/rrworker/pkg/worker"
)

// Defaults mirror spec.md §5's "Scheduling model" paragraph: a pre-pool
// (RPC-accepting concurrency) and post-pool (OutputQueue) both default to
// four, independent of each other and of the single WorkerThread.
const (
	DefaultPrePoolSize     = 4
	DefaultPostPoolSize    = 4
	DefaultIdleTimeout     = 0 // disabled
	DefaultReleaseInterval = 0 * time.Second
)

// Config holds every value spec.md §6 lists as typical server CLI/env
// surface. Zero values fall back to the package defaults in Scheduler's
// constructor except where noted.
type Config struct {
	ListenAddr      string // host:port
	PrePoolSize     int
	PostPoolSize    int
	IdleTimeout     time.Duration // 0 disables the idle-shutdown driver
	ReleaseInterval time.Duration
	UserSlice       time.Duration // 0 falls back to queue.DefaultUserSlice
	MaxPayloadBytes int64         // 0 falls back to rpc.DefaultMaxPayloadBytes
	AdminToken      string        // empty disables the /admin/events token check
}

// Scheduler is the assembled server: one InputQueue, one OutputQueue, one
// sessions.Store, one worker.Thread wrapped in worker.Transition, one
// worker.IdleTimeout, and the rpc.Server/EventHub fronting them over HTTP.
// It is the Go analogue of the original's RcfServer: a single process-wide
// object whose constructor wires everything and whose Start/Stop bracket
// its lifetime.
type Scheduler struct {
	log *logrus.Logger
	cfg Config

	input  *queue.InputQueue
	output *queue.OutputQueue
	store  *sessions.Store

	thread     *worker.Thread
	transition *worker.Transition
	idle       *worker.IdleTimeout

	events    *EventHub
	rpcServer *rpc.Server
	httpSrv   *http.Server

	onIdleShutdown func()
}

// EventHub is re-exported so callers configuring a Scheduler never need to
// import pkg/rpc directly for this one type.
type EventHub = rpc.EventHub

// NewEventHub constructs an EventHub to pass as New's events argument.
func NewEventHub(log *logrus.Logger) *EventHub {
	return rpc.NewEventHub(log)
}

// New assembles a Scheduler around w, the exclusive hardware resource.
// verifier may be nil to accept rpc.DefaultVerifier's "user:session"
// convention. events may be nil to disable the /admin/events stream.
func New(cfg Config, w worker.Worker, verifier rpc.Verifier, events *EventHub, log *logrus.Logger) *Scheduler {
	cfg = applyDefaults(cfg)

	input := queue.NewInputQueue(cfg.UserSlice)
	output := queue.NewOutputQueue(cfg.PostPoolSize, log)
	store := sessions.New(log)

	thread := worker.NewThread(w, input, output, log)
	thread.SetReleaseInterval(cfg.ReleaseInterval)
	thread.SetSorter(store.HeapSorterMostCompleted)

	transition := worker.NewTransition(thread, store, input, store.HeapSorterMostCompleted, log)
	thread.SetHooks(transition.Hooks())

	if events != nil && cfg.AdminToken != "" {
		events.SetToken(cfg.AdminToken)
	}

	rpcServer := rpc.NewServer(input, store, verifier, events, log)
	rpcServer.SetSorter(store.HeapSorterMostCompleted)
	if cfg.MaxPayloadBytes > 0 {
		rpcServer.SetMaxPayloadBytes(cfg.MaxPayloadBytes)
	}

	s := &Scheduler{
		log:        log,
		cfg:        cfg,
		input:      input,
		output:     output,
		store:      store,
		thread:     thread,
		transition: transition,
		events:     events,
		rpcServer:  rpcServer,
	}

	store.SetOnEvicted(func(sessionID string) {
		s.publish("session_evicted", sessionID, "")
	})
	thread.SetOnWorkerUp(func() {
		s.publish("worker_up", "", "")
	})
	thread.SetOnWorkerDown(func() {
		s.publish("worker_down", "", "")
	})

	idleHandler := s.handleIdleTimeout
	s.idle = worker.NewIdleTimeout(thread, cfg.IdleTimeout, idleHandler, log)

	handler := prePoolLimit(cfg.PrePoolSize, rpcServer)
	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
		// reinit_pending may park for an arbitrary duration (spec.md §4.4);
		// the HTTP server must never time the write side out from under it.
		WriteTimeout: 0,
	}

	return s
}

func applyDefaults(cfg Config) Config {
	if cfg.PrePoolSize <= 0 {
		cfg.PrePoolSize = DefaultPrePoolSize
	}
	if cfg.PostPoolSize <= 0 {
		cfg.PostPoolSize = DefaultPostPoolSize
	}
	if cfg.UserSlice <= 0 {
		cfg.UserSlice = queue.DefaultUserSlice
	}
	return cfg
}

// SetReleaseInterval changes the idle-worker teardown interval. Per
// SPEC_FULL.md's note on `set_release_interval`, this is usable before
// Start, matching the original's post-construction setter.
func (s *Scheduler) SetReleaseInterval(d time.Duration) {
	s.thread.SetReleaseInterval(d)
}

// SetUserSlice changes the InputQueue's per-user round-robin time slice.
// Usable before or after Start.
func (s *Scheduler) SetUserSlice(d time.Duration) {
	s.input.SetUserSlice(d)
}

// OnIdleShutdown installs fn to be called, once, the moment the idle-timeout
// driver fires. cmd/server uses this to know which exit code to return.
func (s *Scheduler) OnIdleShutdown(fn func()) {
	s.onIdleShutdown = fn
}

// TotalRefcount and IsActive expose sessions.Store's diagnostics queries
// per SPEC_FULL.md's supplemented-features note, for a metrics endpoint or
// admin tooling to poll without reaching into pkg/sessions directly.
func (s *Scheduler) TotalRefcount() int             { return s.store.TotalRefcount() }
func (s *Scheduler) IsActive(sessionID string) bool { return s.store.IsActive(sessionID) }

// Start launches every background goroutine (WorkerThread, idle-timeout
// driver, OutputQueue is already running from New) and begins serving HTTP.
// It blocks until the HTTP server stops (via Stop, or a fatal listener
// error), mirroring net/http.Server.ListenAndServe's contract.
func (s *Scheduler) Start() error {
	s.thread.Start()
	s.idle.Start()
	s.publish("server_start", "", s.cfg.ListenAddr)

	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop tears the whole scheduler down: HTTP listener, idle driver,
// WorkerThread (releasing the hardware resource on its own goroutine),
// OutputQueue pool, and session-storage cleanup sweep, in that order.
func (s *Scheduler) Stop() {
	_ = s.httpSrv.Close()
	s.idle.Stop()
	s.thread.Stop()
	s.output.Stop()
	s.store.Stop()
	s.publish("server_stop", "", "")
}

func (s *Scheduler) handleIdleTimeout() {
	s.publish("idle_timeout", "", s.cfg.IdleTimeout.String())
	if s.onIdleShutdown != nil {
		s.onIdleShutdown()
	}
	_ = s.httpSrv.Close()
}

func (s *Scheduler) publish(kind, sessionID, detail string) {
	if s.events == nil {
		return
	}
	s.events.Publish(wire.AdminEvent{Kind: kind, SessionID: sessionID, Detail: detail})
}

// prePoolLimit bounds the number of RPC requests handled concurrently to
// size, the Go analogue of the original RcfServer's fixed-size
// RPC-accepting thread pool (spec.md §5, default 4). Requests beyond the
// limit block acquiring the semaphore rather than being rejected.
func prePoolLimit(size int, next http.Handler) http.Handler {
	if size <= 0 {
		return next
	}
	sem := make(chan struct{}, size)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sem <- struct{}{}
		defer func() { <-sem }()
		next.ServeHTTP(w, r)
	})
}
