// Package demoworker is the sample worker.Worker used by cmd/server when no
// real hardware resource is wired in: a stand-in that simulates variable
// runtime and enforces the same current-session assertion the original
// Worker::work does in waiting-worker.h, treating a work unit for the wrong
// session as corrupted state.
package demoworker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/utils"
)

// WorkUnit is the JSON payload format this worker expects, mirroring the
// original's WorkUnit{runtime, message, session_id, first_unit}.
type WorkUnit struct {
	RuntimeMillis uint32 `json:"runtime_ms"`
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
	FirstUnit     bool   `json:"first_unit"`
}

// ReinitUnit is the JSON payload format for a reinit program, mirroring
// ReinitWorkUnit{runtime, message, session_id}.
type ReinitUnit struct {
	RuntimeMillis uint32 `json:"runtime_ms"`
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
}

const undefinedSession = "<undefined>"

// Worker simulates a slow exclusive hardware resource. It is not safe for
// concurrent use, matching worker.Worker's contract: exactly one goroutine
// (the owning Thread) ever touches it.
type Worker struct {
	log              *logrus.Logger
	jobCount         int
	currentSessionID string
}

// New constructs a demo Worker.
func New(log *logrus.Logger) *Worker {
	return &Worker{log: log, currentSessionID: undefinedSession}
}

func (w *Worker) Setup() error {
	w.currentSessionID = undefinedSession
	return nil
}

// VerifyUser is unused by this worker: rpc.Verifier owns authentication.
// Kept to satisfy worker.Worker's capability set described in spec.md §2.
func (w *Worker) VerifyUser(userData string) (string, string, bool) {
	return "", "", false
}

// Work decodes payload as a WorkUnit, asserts it belongs to the session the
// worker is currently primed for (unless it's the first unit for a new
// session), sleeps for RuntimeMillis to simulate hardware latency, and
// echoes an acknowledgement.
func (w *Worker) Work(payload []byte) ([]byte, error) {
	var unit WorkUnit
	if err := json.Unmarshal(payload, &unit); err != nil {
		return nil, fmt.Errorf("demoworker: malformed work unit: %w", err)
	}

	if unit.FirstUnit {
		w.currentSessionID = unit.SessionID
		if w.log != nil {
			w.log.WithField("session_id", w.currentSessionID).Info("demoworker: first unit for session")
		}
	} else if unit.SessionID != w.currentSessionID {
		return nil, fmt.Errorf(
			"demoworker: worker set up for session %q, but work unit expected %q - reinit failed?",
			w.currentSessionID, unit.SessionID,
		)
	}

	w.jobCount++
	if unit.RuntimeMillis > 0 {
		time.Sleep(time.Duration(unit.RuntimeMillis) * time.Millisecond)
	}

	if w.log != nil {
		w.log.WithFields(logrus.Fields{
			"job_id":   w.jobCount,
			"checksum": utils.CreateChecksum(payload),
		}).Debug("demoworker: finished work unit")
	}

	return []byte(fmt.Sprintf("job #%d done: %s", w.jobCount, unit.Message)), nil
}

// PerformReinit decodes payload as a ReinitUnit, simulates the cost of
// restoring session state, and adopts its session as current.
func (w *Worker) PerformReinit(payload []byte) error {
	var unit ReinitUnit
	if err := json.Unmarshal(payload, &unit); err != nil {
		return fmt.Errorf("demoworker: malformed reinit unit: %w", err)
	}

	if w.log != nil {
		w.log.WithFields(logrus.Fields{
			"session_id": unit.SessionID,
			"checksum":   utils.CreateChecksum(payload),
		}).Info("demoworker: performing reinit")
	}

	if unit.RuntimeMillis > 0 {
		time.Sleep(time.Duration(unit.RuntimeMillis) * time.Millisecond)
	}
	w.currentSessionID = unit.SessionID
	return nil
}

func (w *Worker) Teardown() error {
	w.currentSessionID = undefinedSession
	return nil
}

// SimulatedRuntime returns a pseudo-random duration in [min, max), handy
// for demo clients generating WorkUnit payloads.
func SimulatedRuntime(min, max uint32) time.Duration {
	return time.Duration(utils.Uint32Random(min, max)) * time.Millisecond
}
