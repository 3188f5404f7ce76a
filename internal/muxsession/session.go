// Package muxsession implements the Session (C5) and Session Manager (C6):
// ordered pane containers with bounded capacity, active-pane tracking, and
// snapshot persistence of session topology.
package muxsession

import (
	"sync"
	"time"

	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/pane"
)

// Info is a point-in-time, lock-free snapshot of a session's metadata.
type Info struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaneIDs      []string
	ActivePaneID string
	Attached     bool
	Metadata     map[string]string
}

// Session is an ordered collection of panes with an active-pane pointer.
// Capacity enforcement lives one level up, in the Manager — a Session
// itself never refuses a pane.
type Session struct {
	id string

	mu           sync.RWMutex
	name         string
	createdAt    time.Time
	updatedAt    time.Time
	paneOrder    []string
	panes        map[string]*pane.Pane
	activePaneID string
	attached     bool
	metadata     map[string]string

	// spawnParams records how each pane was started, so save_state can
	// persist enough to restart it later. Not all panes have a PTY (e.g.
	// FileTree), in which case no entry is recorded.
	spawnParams map[string]spawnParams
}

// spawnParams is the command/cwd/env a pane's PTY was started with.
type spawnParams struct {
	command []string
	cwd     string
	env     []string
}

func newSession(id, name string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        id,
		name:      name,
		createdAt: now,
		updatedAt: now,
		panes:       make(map[string]*pane.Pane),
		metadata:    make(map[string]string),
		spawnParams: make(map[string]spawnParams),
	}
}

func (s *Session) ID() string { return s.id }

// Info snapshots the session's current metadata.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.paneOrder))
	copy(ids, s.paneOrder)
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return Info{
		ID: s.id, Name: s.name, CreatedAt: s.createdAt, UpdatedAt: s.updatedAt,
		PaneIDs: ids, ActivePaneID: s.activePaneID, Attached: s.attached, Metadata: meta,
	}
}

// ListPanes returns the session's panes in creation order.
func (s *Session) ListPanes() []*pane.Pane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pane.Pane, 0, len(s.paneOrder))
	for _, id := range s.paneOrder {
		if p, ok := s.panes[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// GetPane returns the pane with id, if it belongs to this session.
func (s *Session) GetPane(id string) (*pane.Pane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.panes[id]
	return p, ok
}

// PaneCount returns the number of panes currently in the session.
func (s *Session) PaneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paneOrder)
}

// addPane registers p as the session's newest pane, making it active if it
// is the first. Callers (the Manager) are responsible for cap enforcement
// before calling this.
func (s *Session) addPane(p *pane.Pane, params spawnParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panes[p.ID] = p
	s.paneOrder = append(s.paneOrder, p.ID)
	if params.command != nil || params.cwd != "" || params.env != nil {
		s.spawnParams[p.ID] = params
	}
	if s.activePaneID == "" {
		s.activePaneID = p.ID
	}
	s.touchLocked()
}

// removePane removes pane id from the session. If it was the active pane,
// the first remaining pane becomes active, or the pointer clears.
func (s *Session) removePane(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.panes[id]; !ok {
		return false
	}
	delete(s.panes, id)
	delete(s.spawnParams, id)
	for i, pid := range s.paneOrder {
		if pid == id {
			s.paneOrder = append(s.paneOrder[:i], s.paneOrder[i+1:]...)
			break
		}
	}
	if s.activePaneID == id {
		if len(s.paneOrder) > 0 {
			s.activePaneID = s.paneOrder[0]
		} else {
			s.activePaneID = ""
		}
	}
	s.touchLocked()
	return true
}

// SetActivePane validates membership and updates the active-pane pointer.
func (s *Session) SetActivePane(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.panes[id]; !ok {
		return muxerr.NewNotFound("pane", id)
	}
	s.activePaneID = id
	s.touchLocked()
	return nil
}

// ActivePaneID returns the current active pane ID, or "" if none.
func (s *Session) ActivePaneID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePaneID
}

// SetMetadata merges k=v into the session's free-form metadata map and
// bumps updated_at.
func (s *Session) SetMetadata(k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[k] = v
	s.touchLocked()
}

// SetAttached marks whether a client is attached to this session.
func (s *Session) SetAttached(attached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = attached
	s.touchLocked()
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

// spawnParamsFor returns the recorded spawn params for pane id, if any.
func (s *Session) spawnParamsFor(id string) (spawnParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.spawnParams[id]
	return p, ok
}
