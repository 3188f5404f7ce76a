// Package ptyio wraps OS pseudo-terminal allocation behind a single
// interface so the rest of the runtime never imports a platform-specific
// PTY library directly.
package ptyio

import (
	"io"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"sync"

	"github.com/creack/pty/v2"

	"github.com/loppo-llc/muxd/internal/muxerr"
)

// Size is a terminal size in character cells.
type Size struct {
	Rows uint16
	Cols uint16
}

// Handle is one pty-backed child process: spawn, resize, read/write, kill.
// It satisfies spec.md §4.1 (C1).
type Handle struct {
	mu  sync.Mutex
	cmd *exec.Cmd
	pty *os.File
	pid int

	killed bool
}

// Spawn allocates a pty pair and execs command (or the default shell when
// command is empty) with cwd and env, wiring stdio to the pty slave.
func Spawn(command []string, cwd string, env []string, size Size) (*Handle, error) {
	if len(command) == 0 {
		command = []string{defaultShell()}
	}

	cmd := exec.Command(command[0], command[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = mergeEnv(os.Environ(), env)

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, muxerr.NewBackendError("spawn", err)
	}

	h := &Handle{cmd: cmd, pty: f}
	if cmd.Process != nil {
		h.pid = cmd.Process.Pid
	}

	if size.Rows > 0 && size.Cols > 0 {
		if err := h.Resize(size.Rows, size.Cols); err != nil {
			_ = h.Kill()
			return nil, err
		}
	}

	return h, nil
}

func mergeEnv(base []string, overrides []string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)
	out = append(out, overrides...)
	return out
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	switch runtime.GOOS {
	case "windows":
		return "powershell.exe"
	case "darwin":
		return "/bin/zsh"
	default:
		if u, err := user.Current(); err == nil && u.Username == "root" {
			return "/bin/bash"
		}
		return "/bin/bash"
	}
}

// Resize propagates the new size to the kernel and stores it. Zero
// dimensions are rejected per spec.md §4.1.
func (h *Handle) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return muxerr.NewValidation("size", "rows and cols must be > 0")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pty == nil {
		return muxerr.NewInvalidState("pty not started")
	}
	if err := pty.Setsize(h.pty, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return muxerr.NewBackendError("resize", err)
	}
	return nil
}

// Write sends bytes to the pty's input side. Errors once the pty has
// been killed.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	f := h.pty
	killed := h.killed
	h.mu.Unlock()
	if killed || f == nil {
		return 0, muxerr.NewInvalidState("pty terminated")
	}
	n, err := f.Write(p)
	if err != nil {
		return n, muxerr.NewBackendError("write", err)
	}
	return n, nil
}

// Reader returns the blocking byte stream for the pty's output side. The
// caller is responsible for running reads on a thread that may block;
// Reader itself does not spawn one (see pane.Pane's reader worker).
func (h *Handle) Reader() io.Reader {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pty
}

// Kill sends a termination signal to the child and closes the pty side.
// Idempotent.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killed {
		return nil
	}
	h.killed = true
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	if h.pty != nil {
		_ = h.pty.Close()
	}
	h.pid = 0
	return nil
}

// PID returns the current child PID, or 0 if the pty has been killed.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Wait blocks until the child process exits and returns its exit code.
func (h *Handle) Wait() int {
	if h.cmd == nil {
		return 0
	}
	err := h.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}
