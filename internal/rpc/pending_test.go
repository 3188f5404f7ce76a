package rpc

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPendingTable_NextIDMonotonic(t *testing.T) {
	tbl := newPendingTable(time.Second)
	a := tbl.NextID()
	b := tbl.NextID()
	if b <= a {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a, b)
	}
}

func TestPendingTable_ResolveDeliversResult(t *testing.T) {
	tbl := newPendingTable(time.Second)
	id := tbl.NextID()
	pc := tbl.register(id)

	go tbl.resolve(id, json.RawMessage(`"hi"`), nil)

	select {
	case result := <-pc.resultCh:
		if string(result) != `"hi"` {
			t.Fatalf("unexpected result: %s", result)
		}
	case <-time.After(time.Second):
		t.Fatal("expected result delivered")
	}
}

func TestPendingTable_ResolveDeliversError(t *testing.T) {
	tbl := newPendingTable(time.Second)
	id := tbl.NextID()
	pc := tbl.register(id)

	go tbl.resolve(id, nil, &Error{Code: CodeInternalError, Message: "boom"})

	select {
	case err := <-pc.errCh:
		if err.Code != CodeInternalError {
			t.Fatalf("unexpected error: %+v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected error delivered")
	}
}

func TestPendingTable_ResolveUnknownIDIsNoop(t *testing.T) {
	tbl := newPendingTable(time.Second)
	tbl.resolve(999, json.RawMessage(`null`), nil)
}

func TestPendingTable_DrainAllFailsOutstandingCalls(t *testing.T) {
	tbl := newPendingTable(time.Second)
	id := tbl.NextID()
	pc := tbl.register(id)

	tbl.drainAll()

	select {
	case err := <-pc.errCh:
		if err.Code != CodeTimeout {
			t.Fatalf("expected timeout code, got %+v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected drainAll to fail the pending call")
	}
}
