// Package config parses daemon configuration the way the teacher does
// in cmd/kojo/main.go: standard library flag, no cobra, with a handful
// of $SHELL-style environment overrides layered on top.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/loppo-llc/muxd/internal/buffer"
	"github.com/loppo-llc/muxd/internal/muxsession"
)

// Config collects every flag/env-derived setting cmd/muxd needs to
// construct its components.
type Config struct {
	Addr     string
	StateDir string
	Dev      bool
	Local    bool
	Version  bool

	MaxSessions        int
	MaxPanesPerSession int
	RetentionDays      int

	RPCTimeout time.Duration
	Buffer     buffer.Config

	// Shell is the default shell new terminal panes launch, resolved
	// from $SHELL the same way the teacher resolves its login shell.
	Shell string
}

// Defaults matches spec.md's stated defaults: 64KiB coalescing chunk,
// 16ms flush, 10000 max scrollback lines, 10MiB max scrollback bytes,
// 30s RPC timeout, 7-day persistence retention, 64 sessions/panes caps.
func Defaults() Config {
	return Config{
		Addr:               ":7890",
		StateDir:           defaultStateDir(),
		MaxSessions:        muxsession.DefaultConfig().MaxSessions,
		MaxPanesPerSession: muxsession.DefaultConfig().MaxPanesPerSession,
		RetentionDays:      7,
		RPCTimeout:         30 * time.Second,
		Buffer: buffer.Config{
			MaxChunkSize:    buffer.MaxChunkSize,
			FlushIntervalMS: int(buffer.FlushInterval / time.Millisecond),
			MaxLines:        buffer.DefaultMaxLines,
			MaxTotalBytes:   buffer.DefaultMaxTotalBytes,
		},
		Shell: defaultShell(),
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".muxd"
	}
	return home + "/.local/state/muxd"
}

func defaultShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// Parse builds a Config by parsing args with its own FlagSet over
// Defaults() (which reads $SHELL), mirroring
// the teacher's -port/-dev/-local/-version flag set extended with this
// daemon's session-manager and persistence knobs.
func Parse(args []string) (Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("muxd", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for session snapshots")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "enable dev mode (debug logging)")
	fs.BoolVar(&cfg.Local, "local", cfg.Local, "listen on localhost only (no Tailscale)")
	fs.BoolVar(&cfg.Version, "version", cfg.Version, "show version")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "maximum concurrent sessions")
	fs.IntVar(&cfg.MaxPanesPerSession, "max-panes-per-session", cfg.MaxPanesPerSession, "maximum panes per session")
	fs.IntVar(&cfg.RetentionDays, "retention-days", cfg.RetentionDays, "days to retain session backup files")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("max-sessions must be > 0")
	}
	if cfg.MaxPanesPerSession <= 0 {
		return Config{}, fmt.Errorf("max-panes-per-session must be > 0")
	}
	if cfg.RetentionDays <= 0 {
		return Config{}, fmt.Errorf("retention-days must be > 0")
	}
	return cfg, nil
}

// RetentionDuration converts RetentionDays to a time.Duration for
// internal/store.
func (c Config) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SessionConfig projects the subset muxsession.Manager needs.
func (c Config) SessionConfig() muxsession.Config {
	return muxsession.Config{
		MaxSessions:        c.MaxSessions,
		MaxPanesPerSession: c.MaxPanesPerSession,
		BufferConfig:       c.Buffer,
	}
}
