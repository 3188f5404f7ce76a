package notify

import (
	"encoding/json"

	"github.com/loppo-llc/muxd/internal/dispatch"
)

// notifiableKinds is the subset of bus events worth surfacing as a push
// notification — matching spec.md's examples of user-facing lifecycle
// events (SessionDeleted, PaneClosed), not every chatty event like
// pane_created.
var notifiableKinds = map[dispatch.EventKind]string{
	dispatch.EventSessionDeleted: "Session ended",
	dispatch.EventPaneClosed:     "Pane closed",
}

type notificationPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	SessionID string `json:"session_id,omitempty"`
	PaneID    string `json:"pane_id,omitempty"`
}

// Bridge subscribes to a dispatch.Bus and fans notifiable events out to
// every registered Sink (web push, Slack, ...). One goroutine per
// Bridge; Stop unsubscribes and returns once draining is complete.
type Bridge struct {
	bus   *dispatch.Bus
	sinks []Sink
	sub   chan dispatch.Event
	done  chan struct{}
}

// Sink is anything that can deliver a rendered notification payload.
// *Manager (web push) and *SlackSink both implement it.
type Sink interface {
	Send(payload []byte)
}

// NewBridge constructs a Bridge over bus, delivering to every sink.
func NewBridge(bus *dispatch.Bus, sinks ...Sink) *Bridge {
	return &Bridge{bus: bus, sinks: sinks, done: make(chan struct{})}
}

// Start begins relaying events in the background.
func (b *Bridge) Start() {
	b.sub = b.bus.Subscribe()
	go b.loop()
}

// Stop unsubscribes from the bus and waits for the relay goroutine to
// exit.
func (b *Bridge) Stop() {
	b.bus.Unsubscribe(b.sub)
	<-b.done
}

func (b *Bridge) loop() {
	defer close(b.done)
	for ev := range b.sub {
		title, ok := notifiableKinds[ev.Kind]
		if !ok {
			continue
		}
		payload, err := json.Marshal(notificationPayload{
			Title: title, Body: string(ev.Kind), SessionID: ev.SessionID, PaneID: ev.PaneID,
		})
		if err != nil {
			continue
		}
		for _, sink := range b.sinks {
			sink.Send(payload)
		}
	}
}
