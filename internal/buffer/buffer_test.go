package buffer

import (
	"strings"
	"testing"
	"time"
)

func TestScrollback_CapEvictsOldest(t *testing.T) {
	sb := NewScrollback(10, 0)
	for i := 0; i < 20; i++ {
		sb.AddOutput([]byte("Line " + itoa(i) + "\n"))
	}
	lines := sb.GetLines(0, 100)
	if len(lines) != 10 {
		t.Fatalf("expected 10 lines, got %d", len(lines))
	}
	if !strings.Contains(string(lines[0].Content), "Line 10") {
		t.Fatalf("expected first retained line to contain 'Line 10', got %q", lines[0].Content)
	}
}

func TestScrollback_SearchCaseSensitivity(t *testing.T) {
	sb := NewScrollback(0, 0)
	sb.AddOutput([]byte("Hello World\n"))
	sb.AddOutput([]byte("hello world\n"))
	sb.AddOutput([]byte("HELLO WORLD\n"))

	_, total, _, err := sb.Search("Hello", true, false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("case-sensitive search: expected 1 match, got %d", total)
	}

	_, total, _, err = sb.Search("hello", false, false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("case-insensitive search: expected 3 matches, got %d", total)
	}
}

func TestScrollback_RegexSearch(t *testing.T) {
	sb := NewScrollback(0, 0)
	sb.AddOutput([]byte("error: disk full\n"))
	sb.AddOutput([]byte("info: ok\n"))
	sb.AddOutput([]byte("error: timeout\n"))

	matches, total, truncated, err := sb.Search(`^error:`, true, true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(matches) != 2 {
		t.Fatalf("expected 2 regex matches, got %d (%d returned)", total, len(matches))
	}
	if truncated {
		t.Fatal("did not expect truncation")
	}
}

func TestScrollback_IncompleteTrailingLine(t *testing.T) {
	sb := NewScrollback(0, 0)
	sb.AddOutput([]byte("first\n"))
	sb.AddOutput([]byte("partial"))
	lines := sb.GetLastLines(1)
	if len(lines) != 1 || string(lines[0].Content) != "first\npartial" {
		t.Fatalf("expected partial tail appended to last line 'first\\npartial', got %+v", lines)
	}
	sb.AddOutput([]byte(" done\n"))
	lines = sb.GetLastLines(1)
	if string(lines[0].Content) != " done\n" {
		t.Fatalf("expected next chunk as its own line ' done\\n', got %q", lines[0].Content)
	}
}

func TestScrollback_EmptyBufferStartsLineZero(t *testing.T) {
	sb := NewScrollback(0, 0)
	if sb.LineCount() != 0 {
		t.Fatalf("expected 0 lines initially")
	}
	sb.AddOutput([]byte("x"))
	lines := sb.GetLastLines(1)
	if lines[0].LineNumber != 0 {
		t.Fatalf("expected first partial line to be numbered 0, got %d", lines[0].LineNumber)
	}
}

func TestScrollback_ByteCap(t *testing.T) {
	sb := NewScrollback(0, 20)
	for i := 0; i < 5; i++ {
		sb.AddOutput([]byte("0123456789\n"))
	}
	if sb.TotalBytes() > 20 {
		t.Fatalf("expected total bytes <= 20, got %d", sb.TotalBytes())
	}
}

func TestCoalescer_FlushesOnThreshold(t *testing.T) {
	c := NewCoalescer(8, time.Hour)
	if out := c.Push([]byte("1234")); out != nil {
		t.Fatalf("did not expect a flush yet, got %q", out)
	}
	out := c.Push([]byte("5678"))
	if string(out) != "12345678" {
		t.Fatalf("expected flush of '12345678', got %q", out)
	}
}

func TestCoalescer_SplitsOversizedInput(t *testing.T) {
	c := NewCoalescer(4, time.Hour)
	out := c.Push([]byte("0123456789"))
	if string(out) != "01234567" {
		t.Fatalf("expected two 4-byte chunks flushed, got %q", out)
	}
	if tail := c.ForceFlush(); string(tail) != "89" {
		t.Fatalf("expected remainder '89', got %q", tail)
	}
}

func TestCoalescer_ForceFlushEmpty(t *testing.T) {
	c := NewCoalescer(64, time.Hour)
	if out := c.ForceFlush(); out != nil {
		t.Fatalf("expected nil force-flush on empty buffer, got %q", out)
	}
}

func TestSeedRing_WrapsAtCapacity(t *testing.T) {
	r := NewSeedRing(4)
	r.Write([]byte("abcdef"))
	if got := string(r.Bytes()); got != "cdef" {
		t.Fatalf("expected 'cdef' after wraparound, got %q", got)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
