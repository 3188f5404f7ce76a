package backend

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loppo-llc/muxd/internal/muxerr"
)

// tmuxPrefix namespaces every tmux session this backend creates so a
// shared tmux server can be used alongside unrelated sessions.
const tmuxPrefix = "muxd_"

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func loginShellPath() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}
	return shell
}

// TmuxBackend drives a real tmux server as the multiplexer, mapping this
// module's Session/Pane vocabulary onto tmux sessions/panes. Grounded on
// the teacher's internal/session/tmux.go exec.Command primitives.
type TmuxBackend struct {
	mu       sync.Mutex
	sessions map[string]string // sessionID -> tmux session name
	names    map[string]string // sessionID -> display name
	created  map[string]time.Time
}

// NewTmuxBackend constructs a TmuxBackend. It does not start a tmux
// server; the first CreateSession call does, same as the tmux CLI.
func NewTmuxBackend() *TmuxBackend {
	return &TmuxBackend{
		sessions: make(map[string]string),
		names:    make(map[string]string),
		created:  make(map[string]time.Time),
	}
}

func (b *TmuxBackend) CreateSession(name string) (string, error) {
	if name == "" {
		return "", muxerr.NewInvalidState("session name cannot be empty")
	}
	id := tmuxPrefix + name
	shell := loginShellPath()
	wrapped := "unset PATH; " + shellQuote(shell) + " -l"
	args := []string{"new-session", "-d", "-s", id, "-x", "80", "-y", "24", wrapped}
	if out, err := exec.Command("tmux", args...).CombinedOutput(); err != nil {
		return "", muxerr.NewBackendError("create_session", fmt.Errorf("tmux new-session: %w (%s)", err, strings.TrimSpace(string(out))))
	}
	_ = exec.Command("tmux", "set-option", "-t", id, "remain-on-exit", "on").Run()
	_ = exec.Command("tmux", "set-option", "-t", id, "default-terminal", "xterm-256color").Run()

	b.mu.Lock()
	b.sessions[id] = id
	b.names[id] = name
	b.created[id] = time.Now().UTC()
	b.mu.Unlock()
	return id, nil
}

func (b *TmuxBackend) CreatePane(sessionID string, split SplitType) (string, error) {
	b.mu.Lock()
	name, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return "", muxerr.NewNotFound("session", sessionID)
	}

	var args []string
	switch split {
	case SplitHorizontal:
		args = []string{"split-window", "-v", "-t", name, "-P", "-F", "#{pane_id}"}
	case SplitVertical:
		args = []string{"split-window", "-h", "-t", name, "-P", "-F", "#{pane_id}"}
	default:
		args = []string{"new-window", "-t", name, "-P", "-F", "#{pane_id}"}
	}
	out, err := exec.Command("tmux", args...).Output()
	if err != nil {
		return "", muxerr.NewBackendError("create_pane", fmt.Errorf("tmux %v: %w", args, err))
	}
	return strings.TrimSpace(string(out)), nil
}

func (b *TmuxBackend) SendKeys(paneID string, keys string) error {
	if err := exec.Command("tmux", "send-keys", "-t", paneID, keys, "Enter").Run(); err != nil {
		return muxerr.NewBackendError("send_keys", err)
	}
	return nil
}

func (b *TmuxBackend) CapturePane(paneID string) (string, error) {
	out, err := exec.Command("tmux", "capture-pane", "-t", paneID, "-p", "-e").Output()
	if err != nil {
		return "", muxerr.NewBackendError("capture_pane", err)
	}
	return string(out), nil
}

func (b *TmuxBackend) ListSessions() ([]Session, error) {
	out, err := exec.Command("tmux", "list-sessions", "-F", "#{session_name}:#{session_windows}:#{session_attached}").Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil // no tmux server running yet
		}
		return nil, muxerr.NewBackendError("list_sessions", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, tmuxPrefix) {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		id := parts[0]
		windows, _ := strconv.Atoi(parts[1])
		sessions = append(sessions, Session{
			ID:          id,
			Name:        b.names[id],
			CreatedAt:   b.created[id],
			WindowCount: windows,
			Attached:    parts[2] == "1",
		})
	}
	return sessions, nil
}

func (b *TmuxBackend) KillSession(sessionID string) error {
	b.mu.Lock()
	name, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	if err := exec.Command("tmux", "kill-session", "-t", name).Run(); err != nil {
		return muxerr.NewBackendError("kill_session", err)
	}
	b.mu.Lock()
	delete(b.sessions, sessionID)
	delete(b.names, sessionID)
	delete(b.created, sessionID)
	b.mu.Unlock()
	return nil
}

func (b *TmuxBackend) KillPane(paneID string) error {
	if err := exec.Command("tmux", "kill-pane", "-t", paneID).Run(); err != nil {
		return muxerr.NewBackendError("kill_pane", err)
	}
	return nil
}

func (b *TmuxBackend) ResizePane(paneID string, size PaneSize) error {
	if size.Width == 0 || size.Height == 0 {
		return muxerr.NewValidation("size", "invalid pane size")
	}
	args := []string{"resize-pane", "-t", paneID, "-x", strconv.Itoa(size.Width), "-y", strconv.Itoa(size.Height)}
	if err := exec.Command("tmux", args...).Run(); err != nil {
		return muxerr.NewBackendError("resize_pane", err)
	}
	return nil
}

func (b *TmuxBackend) SelectPane(paneID string) error {
	if err := exec.Command("tmux", "select-pane", "-t", paneID).Run(); err != nil {
		return muxerr.NewBackendError("select_pane", err)
	}
	return nil
}

func (b *TmuxBackend) ListPanes(sessionID string) ([]Pane, error) {
	b.mu.Lock()
	name, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, muxerr.NewNotFound("session", sessionID)
	}
	out, err := exec.Command("tmux", "list-panes", "-t", name, "-F",
		"#{pane_id}:#{pane_index}:#{pane_title}:#{pane_active}:#{pane_width}:#{pane_height}").Output()
	if err != nil {
		return nil, muxerr.NewBackendError("list_panes", err)
	}
	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.SplitN(line, ":", 6)
		if len(parts) != 6 {
			continue
		}
		idx, _ := strconv.Atoi(parts[1])
		w, _ := strconv.Atoi(parts[4])
		h, _ := strconv.Atoi(parts[5])
		panes = append(panes, Pane{
			ID: parts[0], SessionID: sessionID, Index: idx, Title: parts[2],
			Active: parts[3] == "1", Size: PaneSize{Width: w, Height: h},
		})
	}
	return panes, nil
}

// AttachSession and DetachSession are no-ops here: tmux attach-session
// requires a real controlling terminal, which this daemon does not own
// (clients attach over the wire protocol instead, per spec.md's Open
// Question on attach semantics — resolved in SPEC_FULL.md §4.7).
func (b *TmuxBackend) AttachSession(sessionID string) error {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	return nil
}

func (b *TmuxBackend) DetachSession(sessionID string) error {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return muxerr.NewNotFound("session", sessionID)
	}
	return nil
}

var _ Backend = (*TmuxBackend)(nil)
