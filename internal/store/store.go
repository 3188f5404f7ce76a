// Package store implements Persistence (C10): an atomic JSON snapshot of
// session topology, per-session backup files, and age-based cleanup,
// grounded on the teacher's internal/session/store.go write protocol and
// the original source's state/persistence.rs shapes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/muxsession"
	"github.com/loppo-llc/muxd/internal/pane"
)

const (
	stateFileName = "muxd_state.json"
	indexFileName = "muxd_index.db"

	// DefaultRetention matches the 7-day window the teacher's Store.Load
	// uses to filter stale entries.
	DefaultRetention = 7 * 24 * time.Hour

	snapshotVersion = "1.0"
)

// Store persists session topology to a JSON snapshot file plus one backup
// file per session, and maintains a small SQLite index of session IDs to
// last-saved-at for fast retention sweeps without re-parsing every file.
type Store struct {
	stateDir string
	logger   *slog.Logger
	idx      *sql.DB
}

// Open constructs a Store rooted at stateDir, creating it if necessary,
// and opens (creating if absent) the SQLite index database alongside it.
func Open(stateDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, muxerr.NewPersistence("open", fmt.Errorf("create state dir: %w", err))
	}
	db, err := sql.Open("sqlite", filepath.Join(stateDir, indexFileName))
	if err != nil {
		return nil, muxerr.NewPersistence("open", fmt.Errorf("open index db: %w", err))
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		last_saved_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, muxerr.NewPersistence("open", fmt.Errorf("migrate index db: %w", err))
	}
	return &Store{stateDir: stateDir, logger: logger, idx: db}, nil
}

// Close releases the index database handle.
func (s *Store) Close() error {
	return s.idx.Close()
}

func (s *Store) statePath() string {
	return filepath.Join(s.stateDir, stateFileName)
}

func (s *Store) sessionBackupPath(id string) string {
	return filepath.Join(s.stateDir, fmt.Sprintf("session_%s.json", id))
}

// Save writes snap to the live snapshot file via the teacher's
// write-tmp-then-rename protocol, then backs up each session
// individually and records it in the index.
func (s *Store) Save(snap muxsession.Snapshot) error {
	wire := toWire(snap)
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return muxerr.NewPersistence("save", fmt.Errorf("marshal state: %w", err))
	}

	path := s.statePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return muxerr.NewPersistence("save", fmt.Errorf("write tmp: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return muxerr.NewPersistence("save", fmt.Errorf("rename: %w", err))
	}

	for _, ws := range wire.Sessions {
		if err := s.backupSession(ws); err != nil {
			s.logger.Warn("session backup failed", "session", ws.ID, "err", err)
			continue
		}
		if _, err := s.idx.Exec(
			`INSERT INTO sessions(id, last_saved_at) VALUES(?, ?)
			 ON CONFLICT(id) DO UPDATE SET last_saved_at=excluded.last_saved_at`,
			ws.ID, wire.SavedAt.Format(time.RFC3339)); err != nil {
			s.logger.Warn("index update failed", "session", ws.ID, "err", err)
		}
	}

	s.logger.Info("state saved", "path", path, "sessions", len(wire.Sessions))
	return nil
}

func (s *Store) backupSession(ws wireSession) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(s.sessionBackupPath(ws.ID), data, 0o644)
}

// Load reads the live snapshot file. A missing file is not an error: it
// returns an empty Snapshot, matching spec.md §4.10's "readers tolerate a
// missing file" requirement.
func (s *Store) Load() (muxsession.Snapshot, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return muxsession.Snapshot{}, nil
		}
		return muxsession.Snapshot{}, muxerr.NewPersistence("load", fmt.Errorf("read state: %w", err))
	}
	var wire wireState
	if err := json.Unmarshal(data, &wire); err != nil {
		return muxsession.Snapshot{}, muxerr.NewPersistence("load", fmt.Errorf("unmarshal state: %w", err))
	}
	return fromWire(wire), nil
}

// LoadSessionBackup reads a single session's backup file, if present.
func (s *Store) LoadSessionBackup(sessionID string) (muxsession.SessionSnapshot, bool, error) {
	data, err := os.ReadFile(s.sessionBackupPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return muxsession.SessionSnapshot{}, false, nil
		}
		return muxsession.SessionSnapshot{}, false, muxerr.NewPersistence("load_session_backup", err)
	}
	var ws wireSession
	if err := json.Unmarshal(data, &ws); err != nil {
		return muxsession.SessionSnapshot{}, false, muxerr.NewPersistence("load_session_backup", err)
	}
	return fromWireSession(ws), true, nil
}

// DeleteSessionBackup removes a session's backup file and index entry.
// Idempotent.
func (s *Store) DeleteSessionBackup(sessionID string) error {
	if err := os.Remove(s.sessionBackupPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return muxerr.NewPersistence("delete_session_backup", err)
	}
	if _, err := s.idx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		s.logger.Warn("index delete failed", "session", sessionID, "err", err)
	}
	return nil
}

// CleanupOldStates removes `session_*.json` backup files (and their
// index rows) whose last-saved-at predates retention. The live
// muxd_state.json file itself is never removed by this sweep.
func (s *Store) CleanupOldStates(retention time.Duration) error {
	rows, err := s.idx.Query(`SELECT id, last_saved_at FROM sessions`)
	if err != nil {
		return muxerr.NewPersistence("cleanup_old_states", fmt.Errorf("query index: %w", err))
	}
	defer rows.Close()

	cutoff := time.Now().Add(-retention)
	var stale []string
	for rows.Next() {
		var id, savedAt string
		if err := rows.Scan(&id, &savedAt); err != nil {
			continue
		}
		t, err := time.Parse(time.RFC3339, savedAt)
		if err != nil || t.Before(cutoff) {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		if err := s.DeleteSessionBackup(id); err != nil {
			s.logger.Error("failed to delete stale session backup", "session", id, "err", err)
		}
	}

	// Also sweep any session_*.json on disk with no index entry at all
	// (e.g. crash between WriteFile and the index INSERT above).
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		return muxerr.NewPersistence("cleanup_old_states", fmt.Errorf("read state dir: %w", err))
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > retention {
			os.Remove(filepath.Join(s.stateDir, name))
		}
	}

	s.logger.Info("cleanup complete", "stale_sessions", len(stale))
	return nil
}

func toWire(snap muxsession.Snapshot) wireState {
	wire := wireState{Version: snap.Version, SavedAt: snap.SavedAt}
	if wire.Version == "" {
		wire.Version = snapshotVersion
	}
	for _, ss := range snap.Sessions {
		ws := wireSession{
			ID: ss.ID, Name: ss.Name, CreatedAt: ss.CreatedAt,
			UpdatedAt: ss.UpdatedAt, ActivePaneID: ss.ActivePaneID,
		}
		for _, ps := range ss.Panes {
			ws.Panes = append(ws.Panes, wirePane{
				ID: ps.ID, PaneType: string(ps.Kind), Rows: ps.Rows, Cols: ps.Cols,
				Title: ps.Title, WorkingDir: ps.Cwd, Command: ps.Command, Env: ps.Env,
				OutputBuffer: ps.OutputTail, CreatedAt: ps.CreatedAt,
			})
		}
		wire.Sessions = append(wire.Sessions, ws)
	}
	return wire
}

func fromWire(wire wireState) muxsession.Snapshot {
	snap := muxsession.Snapshot{Version: wire.Version, SavedAt: wire.SavedAt}
	for _, ws := range wire.Sessions {
		snap.Sessions = append(snap.Sessions, fromWireSession(ws))
	}
	return snap
}

func fromWireSession(ws wireSession) muxsession.SessionSnapshot {
	ss := muxsession.SessionSnapshot{
		ID: ws.ID, Name: ws.Name, CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt, ActivePaneID: ws.ActivePaneID,
	}
	for _, wp := range ws.Panes {
		ss.Panes = append(ss.Panes, muxsession.PaneSnapshot{
			ID: wp.ID, Kind: pane.Kind(wp.PaneType), Rows: wp.Rows, Cols: wp.Cols,
			Title: wp.Title, Cwd: wp.WorkingDir, Command: wp.Command, Env: wp.Env,
			OutputTail: wp.OutputBuffer, CreatedAt: wp.CreatedAt,
		})
	}
	return ss
}

var _ muxsession.Persister = (*Store)(nil)
