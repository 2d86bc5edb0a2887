package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/seqnum"
	"github.com/halvard-eide/rrworker/pkg/sessions"
	"github.com/halvard-eide/rrworker/pkg/wire"
)

func newTestServer() (*Server, *queue.InputQueue, *sessions.Store) {
	input := queue.NewInputQueue(0)
	store := sessions.New(nil)
	srv := NewServer(input, store, DefaultVerifier{}, nil, nil)
	return srv, input, store
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func Test_submit_work_parks_and_commits_on_dispatch(t *testing.T) {
	srv, input, store := newTestServer()
	defer store.Stop()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	done := make(chan struct{})
	go func() {
		pkg, ok := input.RetrieveWork(queue.BaseSorter)
		if !ok {
			t.Error("expected to retrieve the submitted package")
			return
		}
		pkg.Reply.Commit([]byte("done"))
		close(done)
	}()

	resp := postJSON(t, ts, "/rpc/submit_work", wire.SubmitWorkRequest{
		UserData: "alice:sess1",
		Payload:  []byte("payload"),
		Seq:      seqnum.Ordered(0),
	})
	defer resp.Body.Close()

	var out wire.SubmitWorkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if string(out.Result) != "done" {
		t.Fatalf("unexpected result %q", out.Result)
	}
	<-done
}

func Test_submit_work_rejects_unauthorized_caller(t *testing.T) {
	srv, _, store := newTestServer()
	defer store.Stop()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp := postJSON(t, ts, "/rpc/submit_work", wire.SubmitWorkRequest{
		UserData: "no-colon-here",
		Payload:  []byte("payload"),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func Test_reinit_notify_pending_upload_round_trip_over_http(t *testing.T) {
	srv, _, store := newTestServer()
	defer store.Stop()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	user := "alice:sess1"

	resp := postJSON(t, ts, "/rpc/reinit_notify", wire.ReinitNotifyRequest{UserData: user, ID: 7})
	resp.Body.Close()

	pendingDone := make(chan wire.ReinitPendingResponse, 1)
	go func() {
		resp := postJSON(t, ts, "/rpc/reinit_pending", wire.ReinitPendingRequest{UserData: user, ID: 7})
		defer resp.Body.Close()
		var out wire.ReinitPendingResponse
		json.NewDecoder(resp.Body).Decode(&out)
		pendingDone <- out
	}()

	// Give the pending call time to park before enforcing/requesting.
	time.Sleep(20 * time.Millisecond)
	store.ReinitRequest("alice@sess1")

	select {
	case out := <-pendingDone:
		if !out.Proceed {
			t.Fatal("expected pending to resolve with proceed=true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending to resolve")
	}

	resp = postJSON(t, ts, "/rpc/reinit_upload", wire.ReinitUploadRequest{UserData: user, ID: 7, Payload: []byte("state")})
	resp.Body.Close()

	data, ok := store.ReinitGet("alice@sess1", 0)
	if !ok {
		t.Fatal("expected the uploaded payload to be stored")
	}
	if string(data) != "state" {
		t.Fatalf("unexpected stored payload %q", data)
	}
}

func Test_reinit_enforce_marks_session_needing_reinit(t *testing.T) {
	srv, _, store := newTestServer()
	defer store.Stop()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp := postJSON(t, ts, "/rpc/reinit_enforce", wire.ReinitEnforceRequest{UserData: "alice:sess1"})
	resp.Body.Close()

	if !store.ReinitIsNeeded("alice@sess1") {
		t.Fatal("expected reinit_enforce to mark the session as needing reinit")
	}
}
