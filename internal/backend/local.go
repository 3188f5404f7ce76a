package backend

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/ptyio"
)

// localPane is one PTY directly owned by LocalBackend, with a rolling
// capture buffer standing in for tmux's capture-pane.
type localPane struct {
	mu        sync.Mutex
	pane      Pane
	handle    *ptyio.Handle
	captured  []byte
}

const localCaptureCap = 256 * 1024

func (lp *localPane) append(data []byte) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.captured = append(lp.captured, data...)
	if len(lp.captured) > localCaptureCap {
		lp.captured = lp.captured[len(lp.captured)-localCaptureCap:]
	}
}

// LocalBackend is a minimal, self-contained Backend that spawns real PTYs
// directly rather than shelling out to an external multiplexer. It does
// not depend on the session/pane packages — it is its own independent
// capability set, per spec.md §4.7's requirement that backends be
// swappable without coupling to the Session Manager.
type LocalBackend struct {
	mu       sync.Mutex
	sessions map[string]*Session
	panes    map[string]*localPane
}

// NewLocalBackend constructs an empty LocalBackend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		sessions: make(map[string]*Session),
		panes:    make(map[string]*localPane),
	}
}

func (b *LocalBackend) CreateSession(name string) (string, error) {
	if name == "" {
		return "", muxerr.NewInvalidState("session name cannot be empty")
	}
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = &Session{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (b *LocalBackend) CreatePane(sessionID string, split SplitType) (string, error) {
	b.mu.Lock()
	sess, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return "", muxerr.NewNotFound("session", sessionID)
	}

	h, err := ptyio.Spawn(nil, "", nil, ptyio.Size{Rows: 24, Cols: 80})
	if err != nil {
		return "", muxerr.NewBackendError("create_pane", err)
	}

	id := uuid.NewString()
	lp := &localPane{pane: Pane{
		ID: id, SessionID: sessionID, Active: true, Size: PaneSize{Width: 80, Height: 24},
	}, handle: h}

	b.mu.Lock()
	lp.pane.Index = len(b.panesForSessionLocked(sessionID))
	b.panes[id] = lp
	sess.WindowCount++
	b.mu.Unlock()

	go func() {
		r := h.Reader()
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				lp.append(chunk)
			}
			if err != nil {
				return
			}
		}
	}()

	return id, nil
}

// panesForSessionLocked must be called with b.mu held.
func (b *LocalBackend) panesForSessionLocked(sessionID string) []*localPane {
	var out []*localPane
	for _, lp := range b.panes {
		if lp.pane.SessionID == sessionID {
			out = append(out, lp)
		}
	}
	return out
}

func (b *LocalBackend) SendKeys(paneID string, keys string) error {
	b.mu.Lock()
	lp, ok := b.panes[paneID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	_, err := lp.handle.Write([]byte(keys + "\n"))
	if err != nil {
		return muxerr.NewBackendError("send_keys", err)
	}
	return nil
}

func (b *LocalBackend) CapturePane(paneID string) (string, error) {
	b.mu.Lock()
	lp, ok := b.panes[paneID]
	b.mu.Unlock()
	if !ok {
		return "", muxerr.NewNotFound("pane", paneID)
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return string(lp.captured), nil
}

func (b *LocalBackend) ListSessions() ([]Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (b *LocalBackend) KillSession(sessionID string) error {
	b.mu.Lock()
	if _, ok := b.sessions[sessionID]; !ok {
		b.mu.Unlock()
		return muxerr.NewNotFound("session", sessionID)
	}
	var toKill []*localPane
	for id, lp := range b.panes {
		if lp.pane.SessionID == sessionID {
			toKill = append(toKill, lp)
			delete(b.panes, id)
		}
	}
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	for _, lp := range toKill {
		_ = lp.handle.Kill()
	}
	return nil
}

func (b *LocalBackend) KillPane(paneID string) error {
	b.mu.Lock()
	lp, ok := b.panes[paneID]
	if ok {
		delete(b.panes, paneID)
	}
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	return lp.handle.Kill()
}

func (b *LocalBackend) ResizePane(paneID string, size PaneSize) error {
	if size.Width == 0 || size.Height == 0 {
		return muxerr.NewValidation("size", "invalid pane size")
	}
	b.mu.Lock()
	lp, ok := b.panes[paneID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	if err := lp.handle.Resize(uint16(size.Height), uint16(size.Width)); err != nil {
		return muxerr.NewBackendError("resize_pane", err)
	}
	lp.mu.Lock()
	lp.pane.Size = size
	lp.mu.Unlock()
	return nil
}

func (b *LocalBackend) SelectPane(paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	lp, ok := b.panes[paneID]
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	for _, other := range b.panes {
		if other.pane.SessionID == lp.pane.SessionID {
			other.pane.Active = false
		}
	}
	lp.pane.Active = true
	return nil
}

func (b *LocalBackend) ListPanes(sessionID string) ([]Pane, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return nil, muxerr.NewNotFound("session", sessionID)
	}
	var out []Pane
	for _, lp := range b.panesForSessionLocked(sessionID) {
		out = append(out, lp.pane)
	}
	return out, nil
}

// AttachSession/DetachSession are no-ops: a direct-PTY backend has no
// separate attach surface, it is always "attached" via its readers.
func (b *LocalBackend) AttachSession(sessionID string) error {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	return nil
}

func (b *LocalBackend) DetachSession(sessionID string) error {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	return nil
}

var _ Backend = (*LocalBackend)(nil)
