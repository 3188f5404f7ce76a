package backend

import (
	"testing"

	"github.com/loppo-llc/muxd/internal/muxerr"
)

func TestMockBackend_CreateSessionRejectsEmptyName(t *testing.T) {
	b := NewMockBackend()
	if _, err := b.CreateSession(""); err == nil {
		t.Fatal("expected error for empty session name")
	}
}

func TestMockBackend_CreateSessionRejectsDuplicate(t *testing.T) {
	b := NewMockBackend()
	if _, err := b.CreateSession("work"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.CreateSession("work"); err == nil {
		t.Fatal("expected error for duplicate session name")
	}
}

func TestMockBackend_DeterministicIDs(t *testing.T) {
	b := NewMockBackend()
	sid, err := b.CreateSession("editor")
	if err != nil {
		t.Fatal(err)
	}
	if sid != "mock-session-editor" {
		t.Fatalf("expected deterministic session ID, got %q", sid)
	}
	pid, err := b.CreatePane(sid, SplitNone)
	if err != nil {
		t.Fatal(err)
	}
	if pid != "mock-pane-1" {
		t.Fatalf("expected deterministic pane ID, got %q", pid)
	}
}

func TestMockBackend_CreatePaneRequiresExistingSession(t *testing.T) {
	b := NewMockBackend()
	if _, err := b.CreatePane("nope", SplitNone); err == nil {
		t.Fatal("expected NotFound for unknown session")
	} else if kind, ok := muxerr.KindOf(err); !ok || kind != muxerr.NotFound {
		t.Fatalf("expected NotFound kind, got %v", err)
	}
}

func TestMockBackend_SendKeysRecordsHistoryAndSimulatesOutput(t *testing.T) {
	b := NewMockBackend()
	sid, _ := b.CreateSession("s")
	pid, _ := b.CreatePane(sid, SplitNone)

	if err := b.SendKeys(pid, "echo hello"); err != nil {
		t.Fatal(err)
	}
	out, err := b.CapturePane(pid)
	if err != nil {
		t.Fatal(err)
	}
	if out != "$ echo hello\nhello\n" {
		t.Fatalf("unexpected captured output: %q", out)
	}

	hist := b.CommandHistory()
	if len(hist) != 1 || hist[0].Command != "echo hello" || hist[0].PaneID != pid {
		t.Fatalf("unexpected command history: %+v", hist)
	}
}

func TestMockBackend_FailModeFailsEveryOperation(t *testing.T) {
	b := NewMockBackend()
	b.SetFailMode(true)
	if _, err := b.CreateSession("s"); err == nil {
		t.Fatal("expected failure in fail mode")
	}
}

func TestMockBackend_KillSessionCascadesToPanes(t *testing.T) {
	b := NewMockBackend()
	sid, _ := b.CreateSession("s")
	pid, _ := b.CreatePane(sid, SplitNone)

	if err := b.KillSession(sid); err != nil {
		t.Fatal(err)
	}
	if _, err := b.CapturePane(pid); err == nil {
		t.Fatal("expected pane to be gone after session kill")
	}
}

func TestMockBackend_SelectPaneExclusiveActive(t *testing.T) {
	b := NewMockBackend()
	sid, _ := b.CreateSession("s")
	p1, _ := b.CreatePane(sid, SplitNone)
	p2, _ := b.CreatePane(sid, SplitHorizontal)

	if err := b.SelectPane(p2); err != nil {
		t.Fatal(err)
	}
	panes, err := b.ListPanes(sid)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range panes {
		if p.ID == p1 && p.Active {
			t.Fatal("expected p1 to be inactive after selecting p2")
		}
		if p.ID == p2 && !p.Active {
			t.Fatal("expected p2 to be active")
		}
	}
}

func TestMockBackend_ResizePaneRejectsZeroSize(t *testing.T) {
	b := NewMockBackend()
	sid, _ := b.CreateSession("s")
	pid, _ := b.CreatePane(sid, SplitNone)
	if err := b.ResizePane(pid, PaneSize{Width: 0, Height: 24}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestMockBackend_ClearResetsState(t *testing.T) {
	b := NewMockBackend()
	sid, _ := b.CreateSession("s")
	b.Clear()
	if _, err := b.ListPanes(sid); err == nil {
		t.Fatal("expected session gone after Clear")
	}
}
