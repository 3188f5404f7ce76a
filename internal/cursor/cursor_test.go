package cursor

import "testing"

func TestTracker_DefaultPosition(t *testing.T) {
	tr := New()
	if p := tr.Position(); p != (Position{Row: 1, Col: 1}) {
		t.Fatalf("expected default (1,1), got %+v", p)
	}
}

func TestTracker_SaveRestore(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 5, Col: 10})
	tr.Save()
	tr.SetPosition(Position{Row: 15, Col: 25})
	if err := tr.Restore(); err != nil {
		t.Fatal(err)
	}
	if p := tr.Position(); p != (Position{Row: 5, Col: 10}) {
		t.Fatalf("expected restored (5,10), got %+v", p)
	}
}

func TestTracker_RestoreWithoutSaveErrors(t *testing.T) {
	tr := New()
	if err := tr.Restore(); err == nil {
		t.Fatal("expected error restoring without a save")
	}
}

func TestTracker_SecondSaveOverwritesFirst(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 2, Col: 2})
	tr.Save()
	tr.SetPosition(Position{Row: 3, Col: 3})
	tr.Save()
	tr.SetPosition(Position{Row: 4, Col: 4})
	_ = tr.Restore()
	if p := tr.Position(); p != (Position{Row: 3, Col: 3}) {
		t.Fatalf("expected single-depth save to keep only the latest, got %+v", p)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 9, Col: 9})
	tr.Save()
	tr.Reset()
	if p := tr.Position(); p != (Position{Row: 1, Col: 1}) {
		t.Fatalf("expected (1,1) after reset, got %+v", p)
	}
	if err := tr.Restore(); err == nil {
		t.Fatal("expected reset to clear the saved position")
	}
}

func TestTracker_ProcessOutput_AbsoluteMove(t *testing.T) {
	tr := New()
	events := tr.ProcessOutput([]byte("\x1b[5;10H"))
	if len(events) != 1 || events[0].Kind != EventPosition || events[0].Pos != (Position{Row: 5, Col: 10}) {
		t.Fatalf("expected one position event to (5,10), got %+v", events)
	}
}

func TestTracker_ProcessOutput_DefaultsToOne(t *testing.T) {
	tr := New()
	tr.ProcessOutput([]byte("\x1b[H"))
	if p := tr.Position(); p != (Position{Row: 1, Col: 1}) {
		t.Fatalf("expected default move to (1,1), got %+v", p)
	}
}

func TestTracker_ProcessOutput_RelativeMovesClampAtOne(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 2, Col: 2})
	tr.ProcessOutput([]byte("\x1b[5A"))
	if p := tr.Position(); p != (Position{Row: 1, Col: 2}) {
		t.Fatalf("expected row clamped to 1, got %+v", p)
	}
}

func TestTracker_ProcessOutput_SaveRestoreSequences(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 7, Col: 7})
	events := tr.ProcessOutput([]byte("\x1b[s"))
	if len(events) != 1 || events[0].Kind != EventSave {
		t.Fatalf("expected a save event, got %+v", events)
	}
	tr.SetPosition(Position{Row: 1, Col: 1})
	events = tr.ProcessOutput([]byte("\x1b[u"))
	if len(events) != 1 || events[0].Kind != EventRestore || events[0].Pos != (Position{Row: 7, Col: 7}) {
		t.Fatalf("expected restore to (7,7), got %+v", events)
	}
}

func TestTracker_ProcessOutput_ESC78Shorthand(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 3, Col: 4})
	tr.ProcessOutput([]byte("\x1b7"))
	tr.SetPosition(Position{Row: 9, Col: 9})
	tr.ProcessOutput([]byte("\x1b8"))
	if p := tr.Position(); p != (Position{Row: 3, Col: 4}) {
		t.Fatalf("expected ESC8 to restore (3,4), got %+v", p)
	}
}

func TestTracker_ProcessOutput_DoesNotHandleDSRRequestOrReport(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 2, Col: 2})
	events := tr.ProcessOutput([]byte("\x1b[6n"))
	if len(events) != 0 {
		t.Fatalf("expected DSR request to have no local cursor effect, got %+v", events)
	}
	events = tr.ProcessOutput([]byte("\x1b[5;5R"))
	if len(events) != 0 {
		t.Fatalf("expected a DSR report to be ignored by ProcessOutput, got %+v", events)
	}
	if p := tr.Position(); p != (Position{Row: 2, Col: 2}) {
		t.Fatalf("position should be unaffected by DSR bytes via ProcessOutput, got %+v", p)
	}
}

func TestTracker_ExtractReport(t *testing.T) {
	tr := New()
	pos, ok := tr.ExtractReport([]byte("\x1b[12;34R"))
	if !ok {
		t.Fatal("expected a parsed report")
	}
	if pos != (Position{Row: 12, Col: 34}) {
		t.Fatalf("expected (12,34), got %+v", pos)
	}
	tr.UpdateFromReport(pos)
	if p := tr.Position(); p != pos {
		t.Fatalf("expected tracker position updated to report, got %+v", p)
	}
}

func TestTracker_InBoundsAndRelative(t *testing.T) {
	tr := New()
	tr.SetPosition(Position{Row: 12, Col: 40})
	if !tr.InBounds(24, 80) {
		t.Fatal("expected position within 24x80 bounds")
	}
	if tr.InBounds(10, 80) {
		t.Fatal("expected out-of-bounds row to fail InBounds")
	}
	row, col, err := tr.Relative(24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if row != 0.5 || col != 0.5 {
		t.Fatalf("expected relative (0.5, 0.5), got (%v, %v)", row, col)
	}
	if _, _, err := tr.Relative(0, 80); err == nil {
		t.Fatal("expected error for zero-size relative computation")
	}
}
