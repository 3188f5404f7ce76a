package muxsession

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loppo-llc/muxd/internal/backend"
	"github.com/loppo-llc/muxd/internal/buffer"
	"github.com/loppo-llc/muxd/internal/cursor"
	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/pane"
)

// Config bounds the Manager's capacity, per spec.md §4.6.
type Config struct {
	MaxSessions        int
	MaxPanesPerSession int
	BufferConfig       buffer.Config
}

// DefaultConfig matches the spec's suggested small, bounded defaults.
func DefaultConfig() Config {
	return Config{MaxSessions: 64, MaxPanesPerSession: 64}
}

// CreatePaneParams describes a new pane's construction, mirroring the
// Action Dispatcher's CreatePane fields (spec.md §4.8).
type CreatePaneParams struct {
	Kind    pane.Kind
	Command []string
	Cwd     string
	Env     []string
	Size    pane.Size
	Custom  *pane.CustomMeta
}

// Manager enforces capacity limits and owns every Session's lifecycle.
// Lock ordering: the session map lock (mu) is always released before
// acquiring any individual Session's lock, per spec.md §5.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	// backendSessionIDs/backendPaneIDs map this Manager's own IDs to the
	// opaque IDs Backend assigned, so later Kill* calls mirror against
	// the right backend-side record. Only populated when Backend != nil.
	backendSessionIDs map[string]string
	backendPaneIDs    map[string]string

	// OnEvent, when set, is invoked for every lifecycle event this Manager
	// produces (SessionCreated, PaneCreated, PaneClosed, ...). Wired to the
	// dispatch event bus by the caller; nil is valid (events dropped).
	OnEvent func(Event)

	// OnCursorEvent, when set, is invoked for every cursor.Event any live
	// pane produces, tagged with its session and pane IDs. Wired to the
	// wire adapter's cursor.event notification; nil is valid (dropped).
	OnCursorEvent func(sessionID, paneID string, ev cursor.Event)

	// Backend, when set, is mirrored alongside the Manager's own
	// direct-PTY bookkeeping: every session/pane created or killed here
	// is also reflected into Backend (resizes are not). The Manager's own
	// state remains authoritative (matching the original project, where
	// the equivalent manager creates panes directly and its MuxBackend
	// lives client-side); Backend failures are logged and never fail
	// the caller's request. nil is valid (no backend is mirrored).
	Backend backend.Backend
}

// NewManager constructs an empty Manager bounded by cfg.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.MaxPanesPerSession <= 0 {
		cfg.MaxPanesPerSession = DefaultConfig().MaxPanesPerSession
	}
	return &Manager{
		cfg:               cfg,
		logger:            logger,
		sessions:          make(map[string]*Session),
		backendSessionIDs: make(map[string]string),
		backendPaneIDs:    make(map[string]string),
	}
}

func (m *Manager) emit(ev Event) {
	if m.OnEvent != nil {
		ev.At = time.Now().UTC()
		m.OnEvent(ev)
	}
}

// CreateSession creates a new, empty session. Fails with ResourceLimit
// once max_sessions is reached.
func (m *Manager) CreateSession(name string) (*Session, error) {
	if name == "" {
		return nil, muxerr.NewValidation("name", "session name cannot be empty")
	}
	if strings.ContainsAny(name, ":.") {
		return nil, muxerr.NewValidation("name", "session name cannot contain ':' or '.'")
	}
	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, muxerr.NewResourceLimit("sessions", m.cfg.MaxSessions)
	}
	id := uuid.NewString()
	s := newSession(id, name)
	m.sessions[id] = s
	m.mu.Unlock()

	if m.Backend != nil {
		if backendID, err := m.Backend.CreateSession(name); err != nil {
			m.logger.Warn("backend mirror: create session failed", "session_id", id, "err", err)
		} else {
			m.mu.Lock()
			m.backendSessionIDs[id] = backendID
			m.mu.Unlock()
		}
	}

	m.emit(Event{Kind: EventSessionCreated, SessionID: id})
	return s, nil
}

// GetSession returns the session with id, if any.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ListSessions returns a metadata snapshot of every session.
func (m *Manager) ListSessions() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.Info()
	}
	return out
}

// DeleteSession kills every pane in the session, then removes it. If
// idempotent is false, a missing ID returns NotFound; if true, a missing
// ID is treated as already-deleted.
func (m *Manager) DeleteSession(id string, idempotent bool) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		if idempotent {
			return nil
		}
		return muxerr.NewNotFound("session", id)
	}

	for _, p := range s.ListPanes() {
		_ = p.Kill()
	}
	if m.Backend != nil {
		m.mu.Lock()
		backendID, ok := m.backendSessionIDs[id]
		delete(m.backendSessionIDs, id)
		m.mu.Unlock()
		if ok {
			if err := m.Backend.KillSession(backendID); err != nil {
				m.logger.Warn("backend mirror: kill session failed", "session_id", id, "err", err)
			}
		}
	}
	m.emit(Event{Kind: EventSessionDeleted, SessionID: id})
	return nil
}

// CreatePane enforces the per-session pane cap, constructs a new Pane,
// starts its PTY when params.Kind is Terminal, and registers it
// with the session.
func (m *Manager) CreatePane(sessionID string, params CreatePaneParams) (*pane.Pane, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return nil, muxerr.NewNotFound("session", sessionID)
	}
	if s.PaneCount() >= m.cfg.MaxPanesPerSession {
		return nil, muxerr.NewResourceLimit("panes per session", m.cfg.MaxPanesPerSession)
	}

	id := uuid.NewString()
	p := pane.New(id, sessionID, params.Kind, m.cfg.BufferConfig)
	p.Custom = params.Custom

	if params.Kind == pane.KindTerminal {
		if _, err := p.Start(params.Command, params.Cwd, params.Env, params.Size); err != nil {
			return nil, err
		}
		p.OnExit = func(exitCode int) {
			m.emit(Event{Kind: EventPaneClosed, SessionID: sessionID, PaneID: id, ExitCode: &exitCode})
		}
		p.OnCursorEvent = func(ev cursor.Event) {
			if m.OnCursorEvent != nil {
				m.OnCursorEvent(sessionID, id, ev)
			}
		}
	}

	s.addPane(p, spawnParams{command: params.Command, cwd: params.Cwd, env: params.Env})

	if m.Backend != nil {
		m.mu.Lock()
		backendSessionID, ok := m.backendSessionIDs[sessionID]
		m.mu.Unlock()
		if ok {
			if backendPaneID, err := m.Backend.CreatePane(backendSessionID, backend.SplitNone); err != nil {
				m.logger.Warn("backend mirror: create pane failed", "session_id", sessionID, "pane_id", id, "err", err)
			} else {
				m.mu.Lock()
				m.backendPaneIDs[id] = backendPaneID
				m.mu.Unlock()
			}
		}
	}

	m.emit(Event{Kind: EventPaneCreated, SessionID: sessionID, PaneID: id})
	return p, nil
}

// GetPane looks up a pane within a specific session.
func (m *Manager) GetPane(sessionID, paneID string) (*pane.Pane, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return nil, muxerr.NewNotFound("session", sessionID)
	}
	p, ok := s.GetPane(paneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", paneID)
	}
	return p, nil
}

// FindPane searches every session for paneID. O(sessions × panes), which
// is acceptable given the small configured caps (spec.md §4.6).
func (m *Manager) FindPane(paneID string) (*pane.Pane, *Session, bool) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if p, ok := s.GetPane(paneID); ok {
			return p, s, true
		}
	}
	return nil, nil, false
}

// ListPanes lists every pane in a session.
func (m *Manager) ListPanes(sessionID string) ([]*pane.Pane, error) {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return nil, muxerr.NewNotFound("session", sessionID)
	}
	return s.ListPanes(), nil
}

// KillPane kills the pane's PTY and removes it from its session,
// reassigning the active pane deterministically.
func (m *Manager) KillPane(sessionID, paneID string) error {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	p, ok := s.GetPane(paneID)
	if !ok {
		return muxerr.NewNotFound("pane", paneID)
	}
	// p.OnExit (wired in CreatePane) emits EventPaneClosed once the PTY
	// actually exits; Kill only triggers that transition.
	if err := p.Kill(); err != nil {
		return err
	}
	s.removePane(paneID)
	if m.Backend != nil {
		m.mu.Lock()
		backendPaneID, ok := m.backendPaneIDs[paneID]
		delete(m.backendPaneIDs, paneID)
		m.mu.Unlock()
		if ok {
			if err := m.Backend.KillPane(backendPaneID); err != nil {
				m.logger.Warn("backend mirror: kill pane failed", "session_id", sessionID, "pane_id", paneID, "err", err)
			}
		}
	}
	return nil
}

// SetActivePane validates membership and updates the session's pointer.
func (m *Manager) SetActivePane(sessionID, paneID string) error {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	return s.SetActivePane(paneID)
}

// CleanupDeadPanes sweeps every session, removing panes whose PTY has
// exited, reassigning active panes as needed. Nothing in cmd/muxd or
// the store scheduler calls it; it runs only when a caller invokes it.
func (m *Manager) CleanupDeadPanes() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		var dead []string
		for _, p := range s.ListPanes() {
			if !p.IsAlive() {
				dead = append(dead, p.ID)
			}
		}
		for _, id := range dead {
			// The pane's own OnExit already emitted EventPaneClosed when
			// it died; this sweep only reconciles session bookkeeping.
			s.removePane(id)
		}
	}
}

// Event is a lifecycle notification the Manager produces as a side
// effect of a state-mutating operation (spec.md §4.8's event bus).
type Event struct {
	Kind      EventKind
	SessionID string
	PaneID    string
	ExitCode  *int
	At        time.Time
}

// EventKind tags an Event's variant.
type EventKind string

const (
	EventSessionCreated EventKind = "session_created"
	EventSessionDeleted EventKind = "session_deleted"
	EventPaneCreated    EventKind = "pane_created"
	EventPaneClosed     EventKind = "pane_closed"
)
