package demoworker

import (
	"encoding/json"
	"testing"
)

func Test_first_unit_adopts_session(t *testing.T) {
	w := New(nil)
	payload, _ := json.Marshal(WorkUnit{SessionID: "alice@sess1", FirstUnit: true, Message: "hi"})
	if _, err := w.Work(payload); err != nil {
		t.Fatal(err)
	}
	if w.currentSessionID != "alice@sess1" {
		t.Fatalf("expected current session to be alice@sess1, got %q", w.currentSessionID)
	}
}

func Test_mismatched_session_is_rejected(t *testing.T) {
	w := New(nil)
	first, _ := json.Marshal(WorkUnit{SessionID: "alice@sess1", FirstUnit: true})
	if _, err := w.Work(first); err != nil {
		t.Fatal(err)
	}

	other, _ := json.Marshal(WorkUnit{SessionID: "bob@sess1", FirstUnit: false})
	if _, err := w.Work(other); err == nil {
		t.Fatal("expected a session-mismatch error")
	}
}

func Test_reinit_adopts_new_session(t *testing.T) {
	w := New(nil)
	reinit, _ := json.Marshal(ReinitUnit{SessionID: "carol@sess9"})
	if err := w.PerformReinit(reinit); err != nil {
		t.Fatal(err)
	}
	work, _ := json.Marshal(WorkUnit{SessionID: "carol@sess9", FirstUnit: false})
	if _, err := w.Work(work); err != nil {
		t.Fatal(err)
	}
}

func Test_teardown_resets_current_session(t *testing.T) {
	w := New(nil)
	reinit, _ := json.Marshal(ReinitUnit{SessionID: "dan@sess2"})
	_ = w.PerformReinit(reinit)
	if err := w.Teardown(); err != nil {
		t.Fatal(err)
	}
	if w.currentSessionID != undefinedSession {
		t.Fatalf("expected teardown to reset session, got %q", w.currentSessionID)
	}
}
