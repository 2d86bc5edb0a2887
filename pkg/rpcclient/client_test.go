package rpcclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/halvard-eide/rrworker/pkg/queue"
	"github.com/halvard-eide/rrworker/pkg/rpc"
	"github.com/halvard-eide/rrworker/pkg/seqnum"
	"github.com/halvard-eide/rrworker/pkg/sessions"
)

func Test_submit_work_round_trip(t *testing.T) {
	input := queue.NewInputQueue(0)
	store := sessions.New(nil)
	defer store.Stop()
	srv := rpc.NewServer(input, store, rpc.DefaultVerifier{}, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	go func() {
		pkg, ok := input.RetrieveWork(queue.BaseSorter)
		if !ok {
			return
		}
		pkg.Reply.Commit([]byte("echo: " + string(pkg.Payload)))
	}()

	client := New(ts.URL, "alice:sess1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.SubmitWork(ctx, []byte("hello"), seqnum.Ordered(0))
	if err != nil {
		t.Fatal(err)
	}
	if string(result) != "echo: hello" {
		t.Fatalf("unexpected result %q", result)
	}
}

func Test_unauthorized_user_data_surfaces_sentinel(t *testing.T) {
	input := queue.NewInputQueue(0)
	store := sessions.New(nil)
	defer store.Stop()
	srv := rpc.NewServer(input, store, rpc.DefaultVerifier{}, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := New(ts.URL, "no-colon")
	_, err := client.SubmitWork(context.Background(), []byte("hello"), seqnum.Ordered(0))
	if err == nil {
		t.Fatal("expected an error for unauthorized user data")
	}
}
