// Package cursor parses a narrow subset of ANSI/CSI sequences out of raw
// PTY output to maintain authoritative cursor (row, col) state — no
// terminal grid is emulated (spec.md §4.3, C3).
package cursor

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/loppo-llc/muxd/internal/muxerr"
)

// Position is a 1-based cursor coordinate.
type Position struct {
	Row int
	Col int
}

// EventKind tags the effect a parsed sequence had on cursor state.
type EventKind string

const (
	EventPosition EventKind = "position"
	EventSave     EventKind = "save"
	EventRestore  EventKind = "restore"
)

// Event is emitted for every recognized effect, in the order encountered
// in the stream.
type Event struct {
	Kind EventKind
	Pos  Position
}

// csiRe matches `ESC [ params letter` CSI sequences; escRe matches the
// two-character ESC 7 / ESC 8 save/restore shorthands.
var (
	csiRe = regexp.MustCompile(`\x1b\[([0-9;]*)([A-Za-z])`)
	escRe = regexp.MustCompile(`\x1b([78])`)
	dsrRe = regexp.MustCompile(`\x1b\[([0-9]+);([0-9]+)R`)
)

// cursorHit is a pending sequence effect, ordered by its byte offset in
// the scanned chunk so effects apply in encounter order even though the
// two regexes are scanned separately.
type cursorHit struct {
	start int
	apply func() Event
}

// Tracker holds one pane's cursor state: current position, a
// single-depth saved position, and nothing else — stack depth 1 means a
// second Save overwrites the first, per spec.md §4.3.
type Tracker struct {
	mu    sync.Mutex
	pos   Position
	saved *Position
}

// New returns a Tracker reset to the default position (1,1) with no
// saved position.
func New() *Tracker {
	return &Tracker{pos: Position{Row: 1, Col: 1}}
}

// Position returns the current cursor position.
func (t *Tracker) Position() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// SetPosition sets the cursor position directly (e.g. in response to a
// caller-driven `cursor.set`).
func (t *Tracker) SetPosition(p Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = p
}

// Save stores the current position as the (single) saved position.
func (t *Tracker) Save() {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pos
	t.saved = &p
}

// Restore sets the position to the saved position. Errors if nothing was
// saved.
func (t *Tracker) Restore() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.saved == nil {
		return muxerr.NewInvalidState("no saved cursor position available")
	}
	t.pos = *t.saved
	return nil
}

// Reset returns the position to (1,1) and clears any saved position.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = Position{Row: 1, Col: 1}
	t.saved = nil
}

// InBounds reports whether the current position is within a size of
// (rows, cols).
func (t *Tracker) InBounds(rows, cols int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos.Row <= rows && t.pos.Col <= cols
}

// Relative returns the cursor position as a fraction of (rows, cols).
// Errors if either dimension is zero.
func (t *Tracker) Relative(rows, cols int) (float64, float64, error) {
	if rows == 0 || cols == 0 {
		return 0, 0, muxerr.NewInvalidState("pane size cannot be zero")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos.Row) / float64(rows), float64(t.pos.Col) / float64(cols), nil
}

// ProcessOutput scans data for the CSI subset in spec.md §4.3 (absolute
// and relative moves, save/restore) and applies their effects in
// encounter order, returning an Event per effect. It deliberately does
// NOT interpret `ESC[6n` (the DSR request has no local effect — the
// tracker never synthesizes the reply) nor `ESC[r;cR` (the report is
// handled by ExtractReport, called separately and first, per the
// ordering documented for cursor_handler's process_pty_output).
func (t *Tracker) ProcessOutput(data []byte) []Event {
	s := string(data)

	var hits []cursorHit

	for _, m := range csiRe.FindAllStringSubmatchIndex(s, -1) {
		params := s[m[2]:m[3]]
		letter := s[m[4]:m[5]]
		start := m[0]
		switch letter {
		case "H", "f":
			n, mm := parsePair(params)
			hits = append(hits, cursorHit{start, func() Event {
				t.mu.Lock()
				t.pos = Position{Row: n, Col: mm}
				p := t.pos
				t.mu.Unlock()
				return Event{Kind: EventPosition, Pos: p}
			}})
		case "A":
			n := parseOne(params)
			hits = append(hits, cursorHit{start, func() Event { return t.moveBy(-n, 0) }})
		case "B":
			n := parseOne(params)
			hits = append(hits, cursorHit{start, func() Event { return t.moveBy(n, 0) }})
		case "C":
			n := parseOne(params)
			hits = append(hits, cursorHit{start, func() Event { return t.moveBy(0, n) }})
		case "D":
			n := parseOne(params)
			hits = append(hits, cursorHit{start, func() Event { return t.moveBy(0, -n) }})
		case "s":
			hits = append(hits, cursorHit{start, func() Event {
				t.Save()
				return Event{Kind: EventSave, Pos: t.Position()}
			}})
		case "u":
			hits = append(hits, cursorHit{start, func() Event {
				_ = t.Restore()
				return Event{Kind: EventRestore, Pos: t.Position()}
			}})
		}
	}

	for _, m := range escRe.FindAllStringSubmatchIndex(s, -1) {
		marker := s[m[2]:m[3]]
		start := m[0]
		switch marker {
		case "7":
			hits = append(hits, cursorHit{start, func() Event {
				t.Save()
				return Event{Kind: EventSave, Pos: t.Position()}
			}})
		case "8":
			hits = append(hits, cursorHit{start, func() Event {
				_ = t.Restore()
				return Event{Kind: EventRestore, Pos: t.Position()}
			}})
		}
	}

	sortHitsByStart(hits)

	events := make([]Event, 0, len(hits))
	for _, h := range hits {
		events = append(events, h.apply())
	}
	return events
}

func (t *Tracker) moveBy(dRow, dCol int) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos.Row += dRow
	t.pos.Col += dCol
	if t.pos.Row < 1 {
		t.pos.Row = 1
	}
	if t.pos.Col < 1 {
		t.pos.Col = 1
	}
	return Event{Kind: EventPosition, Pos: t.pos}
}

// ExtractReport parses a `ESC[r;cR` device status report out of data and
// returns the reported position, if present. Per spec.md §9's ordering
// note, callers must invoke this on a chunk before ProcessOutput.
func (t *Tracker) ExtractReport(data []byte) (Position, bool) {
	m := dsrRe.FindStringSubmatch(string(data))
	if m == nil {
		return Position{}, false
	}
	row, _ := strconv.Atoi(m[1])
	col, _ := strconv.Atoi(m[2])
	return Position{Row: row, Col: col}, true
}

// UpdateFromReport sets the authoritative position from a parsed DSR
// report.
func (t *Tracker) UpdateFromReport(p Position) {
	t.SetPosition(p)
}

func parseOne(params string) int {
	if params == "" {
		return 1
	}
	n, err := strconv.Atoi(params)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func parsePair(params string) (int, int) {
	parts := strings.SplitN(params, ";", 2)
	n, m := 1, 1
	if len(parts) > 0 && parts[0] != "" {
		if v, err := strconv.Atoi(parts[0]); err == nil && v >= 1 {
			n = v
		}
	}
	if len(parts) > 1 && parts[1] != "" {
		if v, err := strconv.Atoi(parts[1]); err == nil && v >= 1 {
			m = v
		}
	}
	return n, m
}

func sortHitsByStart(hits []cursorHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].start < hits[j-1].start; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
