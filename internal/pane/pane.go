// Package pane implements one PTY-backed pane: its PTY, its output
// buffer, its cursor tracker, and its subscriber fan-out (spec.md §4.4,
// C4).
package pane

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loppo-llc/muxd/internal/buffer"
	"github.com/loppo-llc/muxd/internal/cursor"
	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/ptyio"
)

// Kind tags what a pane is for. New kinds are added as new variants, not
// as a class hierarchy (spec.md §9).
type Kind string

const (
	KindTerminal Kind = "terminal"
	KindEditor   Kind = "editor"
	KindFileTree Kind = "file_tree"
	KindOutput   Kind = "output"
	KindCustom   Kind = "custom"
)

// CustomMeta carries the extra attributes a Kind=Custom pane needs,
// per spec.md §3's Pane attributes.
type CustomMeta struct {
	Name           string
	Category       string
	Tags           []string
	Attributes     map[string]string
	Priority       int // 1-10
	AutoRestore    bool
	RestoreCommand []string
	Env            []string
	Cwd            string
}

// Size is a pane's character-cell dimensions.
type Size struct {
	Rows uint16
	Cols uint16
}

// Info is a point-in-time, lock-free snapshot of a pane's metadata, safe
// to hand to callers or serialize.
type Info struct {
	ID           string
	SessionID    string
	Kind         Kind
	Rows         uint16
	Cols         uint16
	Title        string
	Cwd          string
	CreatedAt    time.Time
	LastActivity time.Time
	ExitCode     *int
	Active       bool
}

// subscriberBuffer is the per-subscriber queue depth; a slow subscriber's
// own channel fills and further sends are dropped (never the producer).
const subscriberBuffer = 256

// Pane is one PTY process plus its buffer and cursor state. The zero
// value is not usable; construct with New.
type Pane struct {
	ID        string
	SessionID string
	Kind      Kind
	Custom    *CustomMeta

	mu           sync.RWMutex
	title        string
	cwd          string
	createdAt    time.Time
	lastActivity time.Time
	size         Size
	exitCode     *int
	active       bool

	handle *ptyio.Handle
	buf    *buffer.Buffer
	cursor *cursor.Tracker

	subMu       sync.Mutex
	subscribers map[chan []byte]struct{}

	done      chan struct{}
	closeOnce sync.Once

	// OnExit, when set, is invoked exactly once after the pane transitions
	// to Exited, off any lock. OnCursorEvent, when set, is invoked for
	// every cursor.Event produced while processing PTY output.
	OnExit        func(exitCode int)
	OnCursorEvent func(cursor.Event)
}

// New constructs an unstarted pane. bufCfg configures its output buffer;
// zero value uses the spec defaults.
func New(id, sessionID string, kind Kind, bufCfg buffer.Config) *Pane {
	return &Pane{
		ID:          id,
		SessionID:   sessionID,
		Kind:        kind,
		createdAt:   time.Now().UTC(),
		buf:         buffer.New(bufCfg),
		cursor:      cursor.New(),
		subscribers: make(map[chan []byte]struct{}),
		done:        make(chan struct{}),
	}
}

// Start allocates a PTY, resizes it to size (defaulting to 24x80),
// spawns command (or the default shell), and launches the reader
// worker. At most one PTY per pane — a second Start returns
// InvalidState, per spec.md §4.4.
func (p *Pane) Start(command []string, cwd string, env []string, size Size) (int, error) {
	p.mu.Lock()
	if p.handle != nil {
		p.mu.Unlock()
		return 0, muxerr.NewInvalidState("pane already started")
	}
	if size.Rows == 0 || size.Cols == 0 {
		size = Size{Rows: 24, Cols: 80}
	}
	p.mu.Unlock()

	h, err := ptyio.Spawn(command, cwd, env, ptyio.Size{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.handle = h
	p.cwd = cwd
	p.size = size
	p.lastActivity = time.Now().UTC()
	p.mu.Unlock()

	go p.readLoop(h)

	return h.PID(), nil
}

// Write forwards bytes to the PTY. Fails if the pane was never started
// or has already exited.
func (p *Pane) Write(data []byte) (int, error) {
	p.mu.RLock()
	h := p.handle
	exited := p.exitCode != nil
	p.mu.RUnlock()
	if h == nil {
		return 0, muxerr.NewInvalidState("pane not started")
	}
	if exited {
		return 0, muxerr.NewInvalidState("pane has exited")
	}
	return h.Write(data)
}

// Resize updates the pane's size and, if a PTY is attached, propagates
// it. Zero dimensions are rejected.
func (p *Pane) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return muxerr.NewValidation("size", "rows and cols must be > 0")
	}
	p.mu.Lock()
	h := p.handle
	p.size = Size{Rows: rows, Cols: cols}
	p.mu.Unlock()
	if h != nil {
		return h.Resize(rows, cols)
	}
	return nil
}

// Size returns the pane's current dimensions.
func (p *Pane) Size() Size {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// ReadOutput decodes the scrollback's last n lines as UTF-8, replacing
// invalid sequences.
func (p *Pane) ReadOutput(n int) string {
	lines := p.buf.Scrollback.GetLastLines(n)
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(toValidUTF8(l.Content))
	}
	return b.String()
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// SeedScrollback writes a persisted output tail directly into the
// scrollback, without touching cursor state or the subscriber fan-out.
// Used by restore_state to give a reattached pane context before live
// output resumes (spec.md §4.6 and §4.10).
func (p *Pane) SeedScrollback(tail []byte) {
	p.buf.Scrollback.AddOutput(tail)
}

// SearchOutput delegates to the scrollback search, per spec.md §4.2.
func (p *Pane) SearchOutput(query string, caseSensitive, useRegex bool, maxResults, startLine int) ([]buffer.Match, int, bool, error) {
	return p.buf.Scrollback.Search(query, caseSensitive, useRegex, maxResults, startLine)
}

// Kill terminates the PTY. Idempotent.
func (p *Pane) Kill() error {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()
	if h == nil {
		p.markExited(0)
		return nil
	}
	return h.Kill()
}

// IsAlive reports whether the pane has not yet exited.
func (p *Pane) IsAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode == nil
}

// Done returns a channel closed once the pane has exited.
func (p *Pane) Done() <-chan struct{} {
	return p.done
}

// Info snapshots the pane's current metadata.
func (p *Pane) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ec *int
	if p.exitCode != nil {
		v := *p.exitCode
		ec = &v
	}
	return Info{
		ID: p.ID, SessionID: p.SessionID, Kind: p.Kind,
		Rows: p.size.Rows, Cols: p.size.Cols,
		Title: p.title, Cwd: p.cwd,
		CreatedAt: p.createdAt, LastActivity: p.lastActivity,
		ExitCode: ec, Active: p.active,
	}
}

// SetTitle updates the pane's title.
func (p *Pane) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
}

// SetActive marks whether this pane is its session's active pane.
func (p *Pane) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = active
}

// Subscribe registers a new output subscriber and returns its channel
// plus a snapshot of the current seed-ring tail, so late subscribers see
// recent context before live output resumes.
func (p *Pane) Subscribe() (chan []byte, []byte) {
	ch := make(chan []byte, subscriberBuffer)
	p.subMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subMu.Unlock()
	return ch, p.buf.SeedTail()
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (p *Pane) Unsubscribe(ch chan []byte) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if _, ok := p.subscribers[ch]; ok {
		delete(p.subscribers, ch)
		close(ch)
	}
}

func (p *Pane) broadcast(data []byte) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subscribers {
		select {
		case ch <- data:
		default:
			// Slow subscriber: drop rather than block the reader thread.
		}
	}
}

// readLoop is the pane's dedicated OS-thread-equivalent blocking reader
// (spec.md §5): it never shares its goroutine with cooperative work, and
// every mutation it makes happens under the pane's own lock before the
// broadcast, so no lock is held across the channel send.
func (p *Pane) readLoop(h *ptyio.Handle) {
	r := h.Reader()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.processChunk(chunk)
		}
		if err != nil {
			break
		}
	}
	code := h.Wait()
	p.markExited(code)
}

func (p *Pane) processChunk(chunk []byte) {
	if pos, ok := p.cursor.ExtractReport(chunk); ok {
		p.cursor.UpdateFromReport(pos)
	}
	events := p.cursor.ProcessOutput(chunk)
	if p.OnCursorEvent != nil {
		for _, ev := range events {
			p.OnCursorEvent(ev)
		}
	}

	flushed := p.buf.Write(chunk)

	p.mu.Lock()
	p.lastActivity = time.Now().UTC()
	p.mu.Unlock()

	if flushed != nil {
		p.broadcast(flushed)
	}
}

func (p *Pane) markExited(code int) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		c := code
		p.exitCode = &c
		p.mu.Unlock()
		close(p.done)
		if p.OnExit != nil {
			p.OnExit(code)
		}
	})
}
