package uploader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halvard-eide/rrworker/pkg/errs"
)

type recordedCall struct {
	method string
	id     uint32
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   []recordedCall
	pending bool
	failN   map[string]int // remaining failures before success, per method
}

func newFakeCaller(pending bool) *fakeCaller {
	return &fakeCaller{pending: pending, failN: make(map[string]int)}
}

func (c *fakeCaller) record(method string, id uint32) {
	c.mu.Lock()
	c.calls = append(c.calls, recordedCall{method, id})
	c.mu.Unlock()
}

func (c *fakeCaller) shouldFail(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failN[method] > 0 {
		c.failN[method]--
		return true
	}
	return false
}

func (c *fakeCaller) Notify(ctx context.Context, sessionID string, id uint32) error {
	c.record("notify", id)
	if c.shouldFail("notify") {
		return errors.New("transient notify failure")
	}
	return nil
}

func (c *fakeCaller) Pending(ctx context.Context, sessionID string, id uint32) (bool, error) {
	c.record("pending", id)
	if c.shouldFail("pending") {
		return false, errors.New("transient pending failure")
	}
	return c.pending, nil
}

func (c *fakeCaller) Upload(ctx context.Context, sessionID string, id uint32, data []byte) error {
	c.record("upload", id)
	if c.shouldFail("upload") {
		return errors.New("transient upload failure")
	}
	return nil
}

func (c *fakeCaller) callCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.method == method {
			n++
		}
	}
	return n
}

func Test_uploader_happy_path_runs_notify_pending_upload(t *testing.T) {
	caller := newFakeCaller(true)
	u := New("sess-1", caller, nil)
	u.StartUpload([]byte("payload"))

	deadline := time.Now().Add(time.Second)
	for !u.IsUploaded() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !u.IsUploaded() {
		t.Fatal("expected upload to complete")
	}
	if !u.IsNotified() {
		t.Fatal("expected notified to be true")
	}
	if caller.callCount("notify") != 1 || caller.callCount("pending") != 1 || caller.callCount("upload") != 1 {
		t.Fatalf("expected exactly one call per method, got %+v", caller.calls)
	}
	u.Close()
}

func Test_uploader_pending_false_exits_without_upload(t *testing.T) {
	caller := newFakeCaller(false)
	u := New("sess-1", caller, nil)
	u.StartUpload([]byte("payload"))

	deadline := time.Now().Add(time.Second)
	for caller.callCount("pending") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	if u.IsUploaded() {
		t.Fatal("expected upload to never complete when pending reports false")
	}
	if caller.callCount("upload") != 0 {
		t.Fatal("expected upload to never be called when pending reports false")
	}
	u.Close()
}

func Test_uploader_retries_transient_failures(t *testing.T) {
	caller := newFakeCaller(true)
	caller.failN["notify"] = 2
	u := New("sess-1", caller, nil)

	start := time.Now()
	u.StartUpload([]byte("payload"))

	deadline := time.Now().Add(5 * time.Second)
	for !u.IsUploaded() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !u.IsUploaded() {
		t.Fatal("expected upload to eventually succeed after transient failures")
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Fatalf("expected at least two 1s backoff sleeps, elapsed %v", elapsed)
	}
	if caller.callCount("notify") != 3 {
		t.Fatalf("expected 3 notify attempts (2 failures + 1 success), got %d", caller.callCount("notify"))
	}
	u.Close()
}

func Test_uploader_aborts_after_exhausting_retries(t *testing.T) {
	caller := newFakeCaller(true)
	caller.failN["notify"] = 100 // more than maxConsecutiveFailures
	u := New("sess-1", caller, nil)
	u.StartUpload([]byte("payload"))

	deadline := time.Now().Add(15 * time.Second)
	for caller.callCount("notify") < maxConsecutiveFailures && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	u.Close()

	if u.IsNotified() {
		t.Fatal("expected notify to never succeed")
	}
	if caller.callCount("notify") != maxConsecutiveFailures {
		t.Fatalf("expected exactly %d notify attempts, got %d", maxConsecutiveFailures, caller.callCount("notify"))
	}
}

func Test_upload_failure_wraps_sentinel(t *testing.T) {
	err := errs.NewUploadFailure(errors.New("boom"))
	if !errors.Is(err, errs.UploadRpcFailure) {
		t.Fatal("expected wrapped upload failure to match the UploadRpcFailure sentinel")
	}
}

func Test_uploader_start_upload_stops_previous_loop(t *testing.T) {
	caller := newFakeCaller(true)
	u := New("sess-1", caller, nil)
	u.StartUpload([]byte("first"))
	u.StartUpload([]byte("second"))

	deadline := time.Now().Add(time.Second)
	for !u.IsUploaded() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !u.IsUploaded() {
		t.Fatal("expected the second upload to complete")
	}
	u.Close()
}
