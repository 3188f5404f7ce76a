package notify

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/loppo-llc/muxd/internal/dispatch"
)

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *recordingSink) Send(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func TestBridge_RelaysNotifiableEventsToSinks(t *testing.T) {
	bus := dispatch.NewBus()
	sink := &recordingSink{}
	b := NewBridge(bus, sink)
	b.Start()
	defer b.Stop()

	bus.Publish(dispatch.Event{Kind: dispatch.EventPaneClosed, PaneID: "p1"})

	deadline := time.After(2 * time.Second)
	for {
		if sink.count() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected sink to receive a notification")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var payload notificationPayload
	sink.mu.Lock()
	_ = json.Unmarshal(sink.payloads[0], &payload)
	sink.mu.Unlock()
	if payload.PaneID != "p1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestBridge_IgnoresNonNotifiableEvents(t *testing.T) {
	bus := dispatch.NewBus()
	sink := &recordingSink{}
	b := NewBridge(bus, sink)
	b.Start()
	defer b.Stop()

	bus.Publish(dispatch.Event{Kind: dispatch.EventPaneCreated, PaneID: "p1"})
	time.Sleep(50 * time.Millisecond)

	if sink.count() != 0 {
		t.Fatalf("expected no notification for pane_created, got %d", sink.count())
	}
}
