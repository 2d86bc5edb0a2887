package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/halvard-eide/rrworker/pkg/seqnum"
	"github.com/halvard-eide/rrworker/pkg/work"
)

func mustPkg(user string, seq seqnum.SequenceNumber) *work.Package {
	return &work.Package{UserID: user, Seq: seq}
}

func Test_add_retrieve_single_user_orders_by_sequence(t *testing.T) {
	q := NewInputQueue(time.Hour)

	q.AddWork(mustPkg("alice", seqnum.Ordered(4)), BaseSorter)
	q.AddWork(mustPkg("alice", seqnum.Ordered(2)), BaseSorter)
	q.AddWork(mustPkg("alice", seqnum.Ordered(0)), BaseSorter)
	q.AddWork(mustPkg("alice", seqnum.Ordered(3)), BaseSorter)
	q.AddWork(mustPkg("alice", seqnum.Ordered(1)), BaseSorter)

	for want := uint64(0); want <= 4; want++ {
		pkg, ok := q.RetrieveWork(BaseSorter)
		if !ok {
			t.Fatalf("unexpected stop")
		}
		if pkg.Seq.Value() != want {
			t.Fatalf("want seq %d, got %v", want, pkg.Seq)
		}
	}
	if !q.IsEmpty() {
		t.Error("expected queue to be empty after draining")
	}
}

func Test_round_robin_two_users_zero_slice(t *testing.T) {
	q := NewInputQueue(0)

	for i := 0; i < 5; i++ {
		q.AddWork(mustPkg("a", seqnum.OutOfOrder()), BaseSorter)
		q.AddWork(mustPkg("b", seqnum.OutOfOrder()), BaseSorter)
	}

	var order []string
	for i := 0; i < 10; i++ {
		pkg, ok := q.RetrieveWork(BaseSorter)
		if !ok {
			t.Fatalf("unexpected stop")
		}
		order = append(order, pkg.UserID)
	}

	for i := 0; i < len(order)-1; i++ {
		if order[i] == order[i+1] {
			t.Fatalf("expected alternating users with zero slice, got run at index %d: %v", i, order)
		}
	}
}

func Test_empty_user_queue_is_evicted_from_ring(t *testing.T) {
	q := NewInputQueue(time.Hour)

	q.AddWork(mustPkg("a", seqnum.OutOfOrder()), BaseSorter)
	q.AddWork(mustPkg("b", seqnum.OutOfOrder()), BaseSorter)

	pkg, _ := q.RetrieveWork(BaseSorter)
	if pkg.UserID != "a" {
		t.Fatalf("expected a first, got %s", pkg.UserID)
	}
	q.AdvanceUser()

	pkg, _ = q.RetrieveWork(BaseSorter)
	if pkg.UserID != "b" {
		t.Fatalf("expected b after advance, got %s", pkg.UserID)
	}

	q.mapMu.Lock()
	aIdx, bIdx := q.ringIndexLocked("a"), q.ringIndexLocked("b")
	q.mapMu.Unlock()
	if aIdx >= 0 {
		t.Fatal("expected user a's empty queue to be evicted from the ring by the advance")
	}
	if bIdx < 0 {
		t.Fatal("expected ring to still hold user b's now-empty queue until the next advance")
	}
}

func Test_retrieve_work_blocks_until_add_work(t *testing.T) {
	q := NewInputQueue(time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan *work.Package, 1)
	go func() {
		defer wg.Done()
		pkg, ok := q.RetrieveWork(BaseSorter)
		if ok {
			done <- pkg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.AddWork(mustPkg("alice", seqnum.OutOfOrder()), BaseSorter)

	select {
	case pkg := <-done:
		if pkg.UserID != "alice" {
			t.Fatalf("expected alice, got %s", pkg.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retrieve_work to unblock")
	}
	wg.Wait()
}

func Test_stop_unblocks_retrieve_work(t *testing.T) {
	q := NewInputQueue(time.Hour)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.RetrieveWork(BaseSorter)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected RetrieveWork to report stop")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop to unblock retrieve_work")
	}
}
