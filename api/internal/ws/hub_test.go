package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads []string
	fail     bool
	closed   bool
}

func (r *recordingSubscriber) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("send failed")
	}
	r.payloads = append(r.payloads, string(payload))
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recordingSubscriber) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

// waitIdle waits for the hub loop to drain earlier requests.
func waitIdle(h *Hub, channel string) { h.Subscribers(channel) }

func TestSubscribeAcknowledges(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub := &recordingSubscriber{}
	hub.Subscribe("logs:d1", sub)
	waitIdle(hub, "logs:d1")

	got := sub.snapshot()
	if len(got) != 1 || got[0] != `{"log":"Subscribed to logs:d1"}` {
		t.Fatalf("unexpected ack %v", got)
	}
}

func TestPublishReachesOnlyChannelMembers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a, b := &recordingSubscriber{}, &recordingSubscriber{}
	hub.Subscribe("logs:d1", a)
	hub.Subscribe("logs:d2", b)
	hub.Publish("logs:d1", Frame("Build Started"))
	waitIdle(hub, "logs:d1")

	if got := a.snapshot(); len(got) != 2 || got[1] != `{"log":"Build Started"}` {
		t.Fatalf("expected ack then line, got %v", got)
	}
	if got := b.snapshot(); len(got) != 1 {
		t.Fatalf("expected only ack on other channel, got %v", got)
	}
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	hub.Publish("logs:d1", Frame("early"))
	late := &recordingSubscriber{}
	hub.Subscribe("logs:d1", late)
	waitIdle(hub, "logs:d1")

	if got := late.snapshot(); len(got) != 1 {
		t.Fatalf("expected only the ack, got %v", got)
	}
}

func TestRemoveAllLeavesEveryChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub := &recordingSubscriber{}
	hub.Subscribe("logs:d1", sub)
	hub.Subscribe("logs:d2", sub)
	hub.RemoveAll(sub)

	if n := hub.Subscribers("logs:d1") + hub.Subscribers("logs:d2"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	healthy := &recordingSubscriber{}
	broken := &recordingSubscriber{}
	hub.Subscribe("logs:d1", healthy)
	hub.Subscribe("logs:d1", broken)
	broken.mu.Lock()
	broken.fail = true
	broken.mu.Unlock()

	hub.Publish("logs:d1", Frame("line"))
	if n := hub.Subscribers("logs:d1"); n != 1 {
		t.Fatalf("expected broken subscriber to be dropped, got %d", n)
	}
	broken.mu.Lock()
	closed := broken.closed
	broken.mu.Unlock()
	if !closed {
		t.Fatalf("expected dropped subscriber to be closed")
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub := &recordingSubscriber{}
	hub.Subscribe("logs:d1", sub)
	hub.Unsubscribe("logs:d1", sub)
	hub.Publish("logs:d1", Frame("line"))
	waitIdle(hub, "logs:d1")
	if got := sub.snapshot(); len(got) != 1 {
		t.Fatalf("expected only the ack, got %v", got)
	}
}

func TestValidChannel(t *testing.T) {
	if !ValidChannel(ChannelFor("d1")) {
		t.Fatalf("expected logs:d1 to be valid")
	}
	for _, bad := range []string{"", "logs:", "d1", "metrics:d1"} {
		if ValidChannel(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

func TestWebsocketClientRoundTrip(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(conn, hub, 8, log).Serve()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(ClientFrame{Type: "subscribe", Channel: "logs:d1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var frame map[string]string
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if frame["log"] != "Subscribed to logs:d1" {
		t.Fatalf("unexpected ack %v", frame)
	}

	hub.Publish("logs:d1", Frame("Done"))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read line: %v", err)
	}
	if frame["log"] != "Done" {
		t.Fatalf("unexpected line %v", frame)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers("logs:d1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected disconnect to remove the client")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
