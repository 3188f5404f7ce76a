package dispatch

import (
	"sync"
	"time"
)

// EventKind tags a published event's variant.
type EventKind string

const (
	EventSessionCreated  EventKind = "session_created"
	EventSessionDeleted  EventKind = "session_deleted"
	EventPaneCreated     EventKind = "pane_created"
	EventPaneClosed      EventKind = "pane_closed"
	EventCommandExecuted EventKind = "command_executed"
	EventPaneRenamed     EventKind = "pane_renamed"
	EventPaneResized     EventKind = "pane_resized"
)

// Event is one item published on the bus. Every field beyond Kind/At is
// optional depending on Kind.
type Event struct {
	Kind      EventKind `json:"type"`
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
	PaneID    string    `json:"pane_id,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Command   string    `json:"command,omitempty"`
	Name      string    `json:"name,omitempty"`
	Width     uint16    `json:"width,omitempty"`
	Height    uint16    `json:"height,omitempty"`
}

// eventSubQueue is a single subscriber's bounded mailbox. A full queue
// drops the oldest entry to make room for the newest, so a slow
// subscriber never blocks the publisher — only ever loses its own
// backlog (spec.md §4.8), matching the drop-newest-on-full-readers-lag
// discipline already used by pane.Pane's broadcast, generalized here to
// drop-oldest since events (unlike output bytes) are meaningful
// individually and a subscriber that's behind cares more about the
// latest state than the earliest.
const eventQueueDepth = 256

// Bus is a multi-subscriber broadcast channel for Events. Publishers
// never block; each subscriber has its own bounded queue.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new receiver. Callers must Unsubscribe to avoid
// leaking the channel.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, eventQueueDepth)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber's channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish fans ev out to every subscriber. If a subscriber's queue is
// full, its oldest queued event is dropped to make room — the publisher
// itself never blocks or retries.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
