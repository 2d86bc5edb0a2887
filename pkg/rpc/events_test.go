package rpc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halvard-eide/rrworker/pkg/utils"
	"github.com/halvard-eide/rrworker/pkg/wire"
)

func dialEvents(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/admin/events" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func Test_event_hub_rejects_missing_token(t *testing.T) {
	hub := NewEventHub(nil)
	hub.SetToken("secret")
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer ts.Close()

	conn, _, err := dialEvents(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != utils.CloseCodeMissingAdminToken {
		t.Fatalf("expected close code %d, got %d", utils.CloseCodeMissingAdminToken, closeErr.Code)
	}
	if !utils.IsKnownAdminCloseCode(closeErr.Code) {
		t.Fatalf("expected %d to be a known admin close code", closeErr.Code)
	}
}

func Test_event_hub_accepts_matching_token_and_publishes(t *testing.T) {
	hub := NewEventHub(nil)
	hub.SetToken("secret")
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer ts.Close()

	conn, _, err := dialEvents(t, ts, "?token=secret")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	time.Sleep(10 * time.Millisecond)
	hub.Publish(wire.AdminEvent{Kind: "worker_up"})

	var got wire.AdminEvent
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != "worker_up" {
		t.Fatalf("unexpected event %+v", got)
	}
}
