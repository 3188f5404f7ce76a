// Package dispatch implements the Action Dispatcher & Event Bus (C8): a
// single polymorphic entry point that turns typed requests into state
// transitions against the session manager and fans resulting events out
// to every subscriber, generalized from the per-pane broadcast drop
// discipline already used inside internal/pane.
package dispatch

import (
	"encoding/json"

	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/pane"
)

// ActionType tags the variant of an Action, serializing as snake_case
// per spec.md §6's "Action surface" wire convention.
type ActionType string

const (
	ActionCreateSession  ActionType = "create_session"
	ActionCreatePane     ActionType = "create_pane"
	ActionClosePane      ActionType = "close_pane"
	ActionSendKeys       ActionType = "send_keys"
	ActionRunCommand     ActionType = "run_command"
	ActionGetPaneOutput  ActionType = "get_pane_output"
	ActionResizePane     ActionType = "resize_pane"
	ActionRenamePane     ActionType = "rename_pane"
	ActionCreateFile     ActionType = "create_file"
	ActionOpenFile       ActionType = "open_file"
	ActionDeleteFile     ActionType = "delete_file"
	ActionRenameFile     ActionType = "rename_file"
	ActionCopyFile       ActionType = "copy_file"
	ActionMoveFile       ActionType = "move_file"
	ActionCreateDir      ActionType = "create_directory"
	ActionListDir        ActionType = "list_directory"
)

// Action is a tagged request. Exactly one of the typed field groups
// below is populated, selected by Type; Execute does not validate that
// callers only set the fields matching Type — extra fields are ignored.
type Action struct {
	Type ActionType `json:"type"`

	// CreateSession
	Name string `json:"name,omitempty"`

	// CreatePane / ClosePane / SendKeys / RunCommand / GetPaneOutput /
	// ResizePane / RenamePane / file actions share pane/session/path
	// addressing fields.
	SessionID string    `json:"session_id,omitempty"`
	PaneID    string    `json:"pane_id,omitempty"`
	PaneType  pane.Kind `json:"pane_type,omitempty"`
	Command   []string  `json:"command,omitempty"`
	ShellType string    `json:"shell_type,omitempty"`

	Keys    string `json:"keys,omitempty"`
	RunLine string `json:"command_line,omitempty"`
	Lines   int    `json:"lines,omitempty"`
	Width   uint16 `json:"width,omitempty"`
	Height  uint16 `json:"height,omitempty"`

	// CreateFile / OpenFile / ... — delegated to the external File
	// Manager collaborator (spec.md §6), never handled locally.
	Path     string `json:"path,omitempty"`
	DestPath string `json:"dest_path,omitempty"`
	Content  string `json:"content,omitempty"`
}

// FileManager is the external collaborator file actions delegate to
// (spec.md §6). Core never touches the filesystem on the caller's
// behalf except through this boundary.
type FileManager interface {
	CreateFile(path, content string) error
	ReadFile(path string) (string, error)
	DeleteFile(path string) error
	RenameFile(oldPath, newPath string) error
	CopyFile(src, dst string) error
	MoveFile(src, dst string) error
	CreateDirectory(path string) error
	ListDirectory(path string) ([]string, error)
}

// Result is what Execute returns on success: a JSON value, opaque to the
// dispatcher itself (each action case shapes its own payload).
type Result = json.RawMessage

func marshal(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, muxerr.NewInternal("marshal action result", err)
	}
	return data, nil
}
