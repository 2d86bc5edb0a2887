package sessions

import (
	"testing"
	"time"

	"github.com/halvard-eide/rrworker/pkg/seqnum"
)

type fakeReply struct {
	got chan bool
}

func newFakeReply() *fakeReply {
	return &fakeReply{got: make(chan bool, 1)}
}

func (f *fakeReply) Commit(proceed bool) {
	f.got <- proceed
}

func Test_three_id_protocol_happy_path(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.ReinitNotify("sess-1", 42)
	reply := newFakeReply()
	parked := s.ReinitPending("sess-1", 42, reply)
	if !parked {
		t.Fatal("expected pending with matching id to park")
	}

	s.ReinitRequest("sess-1")
	select {
	case v := <-reply.got:
		if !v {
			t.Fatal("expected request to commit true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request to commit the parked reply")
	}

	s.ReinitStore("sess-1", 42, []byte("payload"))

	data, ok := s.ReinitGet("sess-1", 0)
	if !ok {
		t.Fatal("expected up-to-date reinit data")
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected payload %q", data)
	}
}

func Test_pending_with_mismatched_id_does_not_park(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.ReinitNotify("sess-1", 1)
	reply := newFakeReply()
	parked := s.ReinitPending("sess-1", 2, reply)
	if parked {
		t.Fatal("expected mismatched id to not park")
	}
}

func Test_store_with_mismatched_id_is_dropped(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.ReinitNotify("sess-1", 1)
	reply := newFakeReply()
	s.ReinitPending("sess-1", 1, reply)
	s.ReinitStore("sess-1", 2, []byte("wrong"))

	_, ok := s.ReinitGet("sess-1", 0)
	if ok {
		t.Fatal("expected mismatched store to be dropped, leaving session not up to date")
	}
}

func Test_new_notify_aborts_stale_pending(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.ReinitNotify("sess-1", 1)
	reply := newFakeReply()
	parked := s.ReinitPending("sess-1", 1, reply)
	if !parked {
		t.Fatal("expected first pending to park")
	}

	s.ReinitNotify("sess-1", 2)

	select {
	case v := <-reply.got:
		if v {
			t.Fatal("expected stale pending to be aborted with false")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stale pending to be aborted")
	}

	reply2 := newFakeReply()
	parked = s.ReinitPending("sess-1", 2, reply2)
	if !parked {
		t.Fatal("expected pending for the new id to proceed normally")
	}
}

func Test_sequence_fast_forward_only_when_counter_is_zero(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.SequenceFastForward("sess-1", seqnum.Ordered(5))
	if got := s.SequenceGet("sess-1"); got.Value() != 5 {
		t.Fatalf("expected fast forward to 5, got %v", got)
	}

	s.SequenceFastForward("sess-1", seqnum.Ordered(2))
	if got := s.SequenceGet("sess-1"); got.Value() != 5 {
		t.Fatalf("expected fast forward to be a no-op once counter is non-zero, got %v", got)
	}
}

func Test_refcount_reaches_zero_only_after_release(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.AddRef("sess-1")
	s.AddRef("sess-1")
	if !s.IsActive("sess-1") {
		t.Fatal("expected session to be active with refcount 2")
	}

	s.Release("sess-1")
	if !s.IsActive("sess-1") {
		t.Fatal("expected session to still be active with refcount 1")
	}

	s.Release("sess-1")
	if s.IsActive("sess-1") {
		t.Fatal("expected session to become inactive at refcount 0")
	}

	// Releasing an already-zero refcount must not go negative.
	s.Release("sess-1")
	if s.IsActive("sess-1") {
		t.Fatal("expected refcount to stay at zero, not go negative")
	}
}

func Test_reinit_get_grace_period_picks_up_late_store(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.ReinitNotify("sess-1", 7)
	reply := newFakeReply()
	s.ReinitPending("sess-1", 7, reply)

	go func() {
		<-reply.got // wait for ReinitGet's implicit request to land
		s.ReinitStore("sess-1", 7, []byte("late"))
	}()

	data, ok := s.ReinitGet("sess-1", 200*time.Millisecond)
	if !ok {
		t.Fatal("expected grace period to observe the late store")
	}
	if string(data) != "late" {
		t.Fatalf("unexpected payload %q", data)
	}
}
