package muxsession

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loppo-llc/muxd/internal/backend"
	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/pane"
)

func testManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(cfg, logger)
}

func TestManager_CreateSessionRejectsEmptyName(t *testing.T) {
	m := testManager(t, DefaultConfig())
	if _, err := m.CreateSession(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestManager_CreateSessionRejectsIllegalChars(t *testing.T) {
	m := testManager(t, DefaultConfig())
	for _, name := range []string{"a.b", "a:b", "work:1", "v1.2"} {
		if _, err := m.CreateSession(name); err == nil {
			t.Fatalf("expected validation error for name %q", name)
		} else if kind, ok := muxerr.KindOf(err); !ok || kind != muxerr.Validation {
			t.Fatalf("expected Validation kind for name %q, got %v", name, err)
		}
	}
}

func TestManager_CreateSessionEnforcesMaxSessions(t *testing.T) {
	m := testManager(t, Config{MaxSessions: 2, MaxPanesPerSession: 4})
	if _, err := m.CreateSession("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateSession("b"); err != nil {
		t.Fatal(err)
	}
	_, err := m.CreateSession("c")
	if err == nil {
		t.Fatal("expected ResourceLimit at cap")
	}
	if kind, ok := muxerr.KindOf(err); !ok || kind != muxerr.ResourceLimit {
		t.Fatalf("expected ResourceLimit kind, got %v", err)
	}
}

func TestManager_CreatePaneRequiresExistingSession(t *testing.T) {
	m := testManager(t, DefaultConfig())
	_, err := m.CreatePane("nope", CreatePaneParams{Kind: pane.KindFileTree})
	if err == nil {
		t.Fatal("expected NotFound")
	}
}

func TestManager_CreatePaneEnforcesPerSessionCap(t *testing.T) {
	m := testManager(t, Config{MaxSessions: 4, MaxPanesPerSession: 1})
	s, err := m.CreateSession("work")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree}); err != nil {
		t.Fatal(err)
	}
	_, err = m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree})
	if err == nil {
		t.Fatal("expected ResourceLimit for panes per session")
	}
}

func TestManager_FirstPaneBecomesActive(t *testing.T) {
	m := testManager(t, DefaultConfig())
	s, _ := m.CreateSession("work")
	p, err := m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree})
	if err != nil {
		t.Fatal(err)
	}
	if s.ActivePaneID() != p.ID {
		t.Fatalf("expected first pane active, got %q", s.ActivePaneID())
	}
}

func TestManager_KillPaneReassignsActive(t *testing.T) {
	m := testManager(t, DefaultConfig())
	s, _ := m.CreateSession("work")
	p1, _ := m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree})
	p2, _ := m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree})

	if err := m.KillPane(s.ID(), p1.ID); err != nil {
		t.Fatal(err)
	}
	if s.ActivePaneID() != p2.ID {
		t.Fatalf("expected remaining pane to become active, got %q", s.ActivePaneID())
	}

	if err := m.KillPane(s.ID(), p2.ID); err != nil {
		t.Fatal(err)
	}
	if s.ActivePaneID() != "" {
		t.Fatalf("expected active pane cleared once session is empty, got %q", s.ActivePaneID())
	}
}

func TestManager_DeleteSessionIdempotency(t *testing.T) {
	m := testManager(t, DefaultConfig())
	if err := m.DeleteSession("nope", false); err == nil {
		t.Fatal("expected NotFound when not idempotent")
	}
	if err := m.DeleteSession("nope", true); err != nil {
		t.Fatal("expected nil error for idempotent delete of missing session")
	}
}

func TestManager_FindPaneSearchesAllSessions(t *testing.T) {
	m := testManager(t, DefaultConfig())
	s1, _ := m.CreateSession("one")
	s2, _ := m.CreateSession("two")
	_, _ = m.CreatePane(s1.ID(), CreatePaneParams{Kind: pane.KindFileTree})
	p2, _ := m.CreatePane(s2.ID(), CreatePaneParams{Kind: pane.KindFileTree})

	found, foundSession, ok := m.FindPane(p2.ID)
	if !ok || found.ID != p2.ID || foundSession.ID() != s2.ID() {
		t.Fatal("expected to find pane in second session")
	}
}

func TestManager_CleanupDeadPanesRemovesExited(t *testing.T) {
	m := testManager(t, DefaultConfig())
	s, _ := m.CreateSession("work")
	p, err := m.CreatePane(s.ID(), CreatePaneParams{
		Kind:    pane.KindTerminal,
		Command: []string{"true"},
	})
	if err != nil {
		t.Skipf("cannot spawn test pty in this environment: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected pane to exit")
	}

	m.CleanupDeadPanes()
	if s.PaneCount() != 0 {
		t.Fatalf("expected dead pane swept, got count %d", s.PaneCount())
	}
}

func TestManager_EventsEmittedOnSessionAndPaneLifecycle(t *testing.T) {
	m := testManager(t, DefaultConfig())
	var events []Event
	m.OnEvent = func(ev Event) { events = append(events, ev) }

	s, _ := m.CreateSession("work")
	_, _ = m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree})
	_ = m.DeleteSession(s.ID(), false)

	if len(events) != 3 {
		t.Fatalf("expected 3 events (created/pane_created/deleted), got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventSessionCreated || events[1].Kind != EventPaneCreated || events[2].Kind != EventSessionDeleted {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestManager_MirrorsLifecycleIntoBackendWhenSet(t *testing.T) {
	m := testManager(t, DefaultConfig())
	mock := backend.NewMockBackend()
	m.Backend = mock

	s, err := m.CreateSession("work")
	if err != nil {
		t.Fatal(err)
	}
	p, err := m.CreatePane(s.ID(), CreatePaneParams{Kind: pane.KindFileTree})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.KillPane(s.ID(), p.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSession(s.ID(), false); err != nil {
		t.Fatal(err)
	}

	sessions, _ := mock.ListSessions()
	if len(sessions) != 0 {
		t.Fatalf("expected backend session to be mirrored and killed, got %+v", sessions)
	}
}
