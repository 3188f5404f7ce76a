package store

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loppo-llc/muxd/internal/muxsession"
	"github.com/loppo-llc/muxd/internal/pane"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot() muxsession.Snapshot {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return muxsession.Snapshot{
		Version: "1.0",
		SavedAt: now,
		Sessions: []muxsession.SessionSnapshot{
			{
				ID: "sess-1", Name: "work", CreatedAt: now, UpdatedAt: now,
				ActivePaneID: "pane-1",
				Panes: []muxsession.PaneSnapshot{
					{
						ID: "pane-1", Kind: pane.KindTerminal, Rows: 24, Cols: 80,
						Title: "shell", Cwd: "/home/user", Command: []string{"bash"},
						OutputTail: []byte("hello\n"), CreatedAt: now,
					},
				},
			},
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	snap := sampleSnapshot()

	if err := s.Save(snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(loaded.Sessions))
	}
	ls := loaded.Sessions[0]
	if ls.ID != "sess-1" || ls.Name != "work" {
		t.Fatalf("unexpected session: %+v", ls)
	}
	if len(ls.Panes) != 1 || ls.Panes[0].ID != "pane-1" {
		t.Fatalf("unexpected panes: %+v", ls.Panes)
	}
	if string(ls.Panes[0].OutputTail) != "hello\n" {
		t.Fatalf("expected output tail preserved, got %q", ls.Panes[0].OutputTail)
	}
}

func TestStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	s := testStore(t)
	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Sessions) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", loaded)
	}
}

func TestStore_SessionBackupRoundTrip(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	ss, ok, err := s.LoadSessionBackup("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected session backup to exist")
	}
	if ss.Name != "work" {
		t.Fatalf("unexpected backup content: %+v", ss)
	}

	if err := s.DeleteSessionBackup("sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.LoadSessionBackup("sess-1"); err != nil || ok {
		t.Fatalf("expected backup removed, ok=%v err=%v", ok, err)
	}
}

func TestStore_DeleteSessionBackupIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.DeleteSessionBackup("never-existed"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestStore_CleanupOldStatesRemovesStaleIndexEntries(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Force the index row to look ancient.
	if _, err := s.idx.Exec(`UPDATE sessions SET last_saved_at = ?`, "2000-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}

	if err := s.CleanupOldStates(DefaultRetention); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.LoadSessionBackup("sess-1"); err != nil || ok {
		t.Fatalf("expected stale backup swept, ok=%v err=%v", ok, err)
	}
}
