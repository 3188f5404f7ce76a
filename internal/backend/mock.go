package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/loppo-llc/muxd/internal/muxerr"
)

// commandRecord is one entry in a MockBackend's command history.
type commandRecord struct {
	PaneID  string
	Command string
}

type mockPane struct {
	pane   Pane
	output string
}

// MockBackend is an in-memory Backend fixture for tests, grounded on the
// original source's mock multiplexer backend: deterministic IDs, a
// fail-mode toggle, and recorded command history for assertions.
type MockBackend struct {
	mu            sync.Mutex
	sessions      map[string]Session
	panes         map[string]*mockPane
	nextPaneID    int
	failMode      bool
	commandLog    []commandRecord
}

// NewMockBackend constructs an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		sessions:   make(map[string]Session),
		panes:      make(map[string]*mockPane),
		nextPaneID: 1,
	}
}

// SetFailMode toggles whether every operation returns an error, for
// exercising failure-handling paths.
func (b *MockBackend) SetFailMode(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failMode = fail
}

// CommandHistory returns a copy of every SendKeys call recorded so far.
func (b *MockBackend) CommandHistory() []struct{ PaneID, Command string } {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]struct{ PaneID, Command string }, len(b.commandLog))
	for i, r := range b.commandLog {
		out[i] = struct{ PaneID, Command string }{r.PaneID, r.Command}
	}
	return out
}

// Clear resets all state, useful between tests.
func (b *MockBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]Session)
	b.panes = make(map[string]*mockPane)
	b.nextPaneID = 1
	b.commandLog = nil
}

// SetPaneOutput seeds a pane's captured output directly, for testing
// CapturePane without driving SendKeys.
func (b *MockBackend) SetPaneOutput(paneID, output string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mp, ok := b.panes[paneID]
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	mp.output = output
	return nil
}

func (b *MockBackend) failErr(op string) error {
	return muxerr.NewBackendError(op, fmt.Errorf("mock failure mode enabled"))
}

func (b *MockBackend) CreateSession(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return "", b.failErr("create_session")
	}
	if name == "" {
		return "", muxerr.NewInvalidState("session name cannot be empty")
	}
	for _, s := range b.sessions {
		if s.Name == name {
			return "", muxerr.NewBackendError("create_session", fmt.Errorf("session %q already exists", name))
		}
	}
	id := "mock-session-" + name
	b.sessions[id] = Session{ID: id, Name: name, CreatedAt: time.Now().UTC(), WindowCount: 1}
	return id, nil
}

func (b *MockBackend) CreatePane(sessionID string, split SplitType) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return "", b.failErr("create_pane")
	}
	if _, ok := b.sessions[sessionID]; !ok {
		return "", muxerr.NewNotFound("session", sessionID)
	}
	idx := b.nextPaneID
	b.nextPaneID++
	paneID := fmt.Sprintf("mock-pane-%d", idx)
	b.panes[paneID] = &mockPane{pane: Pane{
		ID: paneID, SessionID: sessionID, Index: idx, Title: "Mock Terminal",
		Active: true, Size: PaneSize{Width: 80, Height: 24},
	}}
	return paneID, nil
}

func (b *MockBackend) SendKeys(paneID string, keys string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("send_keys")
	}
	mp, ok := b.panes[paneID]
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	mp.output += "$ " + keys + "\n"
	switch {
	case len(keys) > 5 && keys[:5] == "echo ":
		mp.output += keys[5:] + "\n"
	case keys == "pwd":
		mp.output += "/mock/working/directory\n"
	case keys == "ls":
		mp.output += "file1.txt\nfile2.txt\ndirectory/\n"
	}
	b.commandLog = append(b.commandLog, commandRecord{PaneID: paneID, Command: keys})
	return nil
}

func (b *MockBackend) CapturePane(paneID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return "", b.failErr("capture_pane")
	}
	mp, ok := b.panes[paneID]
	if !ok {
		return "", muxerr.NewNotFound("pane", paneID)
	}
	return mp.output, nil
}

func (b *MockBackend) ListSessions() ([]Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return nil, b.failErr("list_sessions")
	}
	out := make([]Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (b *MockBackend) KillSession(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("kill_session")
	}
	if _, ok := b.sessions[sessionID]; !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	delete(b.sessions, sessionID)
	for id, mp := range b.panes {
		if mp.pane.SessionID == sessionID {
			delete(b.panes, id)
		}
	}
	return nil
}

func (b *MockBackend) KillPane(paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("kill_pane")
	}
	if _, ok := b.panes[paneID]; !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	delete(b.panes, paneID)
	return nil
}

func (b *MockBackend) ResizePane(paneID string, size PaneSize) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("resize_pane")
	}
	if size.Width == 0 || size.Height == 0 {
		return muxerr.NewValidation("size", "invalid pane size")
	}
	mp, ok := b.panes[paneID]
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	mp.pane.Size = size
	return nil
}

func (b *MockBackend) SelectPane(paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("select_pane")
	}
	mp, ok := b.panes[paneID]
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	sessionID := mp.pane.SessionID
	for _, other := range b.panes {
		if other.pane.SessionID == sessionID {
			other.pane.Active = false
		}
	}
	mp.pane.Active = true
	return nil
}

func (b *MockBackend) ListPanes(sessionID string) ([]Pane, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return nil, b.failErr("list_panes")
	}
	if _, ok := b.sessions[sessionID]; !ok {
		return nil, muxerr.NewNotFound("session", sessionID)
	}
	var out []Pane
	for _, mp := range b.panes {
		if mp.pane.SessionID == sessionID {
			out = append(out, mp.pane)
		}
	}
	return out, nil
}

func (b *MockBackend) AttachSession(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("attach_session")
	}
	s, ok := b.sessions[sessionID]
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	s.Attached = true
	b.sessions[sessionID] = s
	return nil
}

func (b *MockBackend) DetachSession(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMode {
		return b.failErr("detach_session")
	}
	s, ok := b.sessions[sessionID]
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	s.Attached = false
	b.sessions[sessionID] = s
	return nil
}

var _ Backend = (*MockBackend)(nil)
