package dispatch

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/muxsession"
	"github.com/loppo-llc/muxd/internal/pane"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := muxsession.NewManager(muxsession.DefaultConfig(), logger)
	return New(mgr, nil, logger)
}

func TestDispatcher_CreateSessionThenPane(t *testing.T) {
	d := testDispatcher(t)

	res, err := d.Execute(Action{Type: ActionCreateSession, Name: "work"})
	if err != nil {
		t.Fatal(err)
	}
	var info muxsession.Info
	if err := json.Unmarshal(res, &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "work" {
		t.Fatalf("expected name preserved, got %q", info.Name)
	}

	res, err = d.Execute(Action{
		Type: ActionCreatePane, SessionID: info.ID, PaneType: pane.KindFileTree,
	})
	if err != nil {
		t.Fatal(err)
	}
	var pinfo pane.Info
	if err := json.Unmarshal(res, &pinfo); err != nil {
		t.Fatal(err)
	}
	if pinfo.Kind != pane.KindFileTree {
		t.Fatalf("expected file_tree pane kind, got %v", pinfo.Kind)
	}
}

func TestDispatcher_CreatePaneUnknownSessionReturnsNotFound(t *testing.T) {
	d := testDispatcher(t)
	_, err := d.Execute(Action{Type: ActionCreatePane, SessionID: "nope", PaneType: pane.KindFileTree})
	if kind, ok := muxerr.KindOf(err); !ok || kind != muxerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDispatcher_UnknownActionTypeReturnsValidation(t *testing.T) {
	d := testDispatcher(t)
	_, err := d.Execute(Action{Type: "not_a_real_action"})
	if kind, ok := muxerr.KindOf(err); !ok || kind != muxerr.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestDispatcher_FileActionWithoutManagerReturnsInvalidState(t *testing.T) {
	d := testDispatcher(t)
	_, err := d.Execute(Action{Type: ActionCreateFile, Path: "/tmp/x"})
	if kind, ok := muxerr.KindOf(err); !ok || kind != muxerr.InvalidState {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestDispatcher_SessionLifecycleEventsPublishToBus(t *testing.T) {
	d := testDispatcher(t)
	sub := d.Bus().Subscribe()
	defer d.Bus().Unsubscribe(sub)

	res, err := d.Execute(Action{Type: ActionCreateSession, Name: "work"})
	if err != nil {
		t.Fatal(err)
	}
	var info muxsession.Info
	_ = json.Unmarshal(res, &info)

	select {
	case ev := <-sub:
		if ev.Kind != EventSessionCreated || ev.SessionID != info.ID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected session_created event")
	}
}

type stubFiles struct{ created []string }

func (s *stubFiles) CreateFile(path, content string) error { s.created = append(s.created, path); return nil }
func (s *stubFiles) ReadFile(path string) (string, error)   { return "contents", nil }
func (s *stubFiles) DeleteFile(path string) error            { return nil }
func (s *stubFiles) RenameFile(oldPath, newPath string) error { return nil }
func (s *stubFiles) CopyFile(src, dst string) error          { return nil }
func (s *stubFiles) MoveFile(src, dst string) error          { return nil }
func (s *stubFiles) CreateDirectory(path string) error       { return nil }
func (s *stubFiles) ListDirectory(path string) ([]string, error) { return []string{"a", "b"}, nil }

func TestDispatcher_FileActionsDelegateToFileManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := muxsession.NewManager(muxsession.DefaultConfig(), logger)
	files := &stubFiles{}
	d := New(mgr, files, logger)

	if _, err := d.Execute(Action{Type: ActionCreateFile, Path: "/tmp/x", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if len(files.created) != 1 || files.created[0] != "/tmp/x" {
		t.Fatalf("expected delegate called, got %+v", files.created)
	}

	res, err := d.Execute(Action{Type: ActionOpenFile, Path: "/tmp/x"})
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	_ = json.Unmarshal(res, &body)
	if body["content"] != "contents" {
		t.Fatalf("unexpected read result: %+v", body)
	}
}
