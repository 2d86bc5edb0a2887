package worker

import (
	"testing"
	"time"

	"github.com/halvard-eide/rrworker/pkg/queue"
)

func Test_idle_timeout_fires_after_sustained_idleness(t *testing.T) {
	input := queue.NewInputQueue(0)
	output := queue.NewOutputQueue(1, nil)
	thread := NewThread(&stubWorker{}, input, output, nil)
	thread.Start()
	defer thread.Stop()

	fired := make(chan struct{})
	it := NewIdleTimeout(thread, 30*time.Millisecond, func() { close(fired) }, nil)
	it.Start()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected idle timeout to fire")
	}
	if !it.Fired() {
		t.Fatal("expected Fired to report true after timing out")
	}
}

func Test_idle_timeout_zero_never_fires(t *testing.T) {
	input := queue.NewInputQueue(0)
	output := queue.NewOutputQueue(1, nil)
	thread := NewThread(&stubWorker{}, input, output, nil)
	thread.Start()
	defer thread.Stop()

	it := NewIdleTimeout(thread, 0, func() { t.Fatal("onTimeout must not fire when timeout is 0") }, nil)
	it.Start()
	time.Sleep(50 * time.Millisecond)
	it.Stop()

	if it.Fired() {
		t.Fatal("expected Fired to stay false")
	}
}

func Test_idle_timeout_stop_before_firing(t *testing.T) {
	input := queue.NewInputQueue(0)
	output := queue.NewOutputQueue(1, nil)
	thread := NewThread(&stubWorker{}, input, output, nil)
	thread.Start()
	defer thread.Stop()

	it := NewIdleTimeout(thread, time.Hour, func() { t.Fatal("onTimeout must not fire before Stop's deadline") }, nil)
	it.Start()
	it.Stop()

	if it.Fired() {
		t.Fatal("expected Fired to stay false when stopped before timing out")
	}
}
