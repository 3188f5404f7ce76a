package dispatch

import (
	"log/slog"
	"sync"

	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/muxsession"
	"github.com/loppo-llc/muxd/internal/pane"
)

// Dispatcher is the single entry point that turns Actions into state
// transitions against a muxsession.Manager, publishing resulting events
// to its Bus. One Dispatcher per daemon instance.
type Dispatcher struct {
	mgr    *muxsession.Manager
	files  FileManager
	bus    *Bus
	logger *slog.Logger

	// sessionLocks serializes state-mutating actions per session
	// (spec.md §5's "session-level write locks serialize state-mutating
	// actions per session"), independent of muxsession.Session's own
	// internal RWMutex which only protects its field reads/writes, not
	// multi-step action sequences like CreatePane-then-emit.
	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New constructs a Dispatcher wired to mgr. files may be nil if no File
// Manager collaborator is configured; file actions then fail with
// InvalidState.
func New(mgr *muxsession.Manager, files FileManager, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		mgr:          mgr,
		files:        files,
		bus:          NewBus(),
		logger:       logger,
		sessionLocks: make(map[string]*sync.Mutex),
	}
	mgr.OnEvent = d.relayManagerEvent
	return d
}

// Bus returns the dispatcher's event bus for subscribers (the wire
// adapter, notification manager, plugins).
func (d *Dispatcher) Bus() *Bus {
	return d.bus
}

func (d *Dispatcher) relayManagerEvent(ev muxsession.Event) {
	kind := map[muxsession.EventKind]EventKind{
		muxsession.EventSessionCreated: EventSessionCreated,
		muxsession.EventSessionDeleted: EventSessionDeleted,
		muxsession.EventPaneCreated:    EventPaneCreated,
		muxsession.EventPaneClosed:     EventPaneClosed,
	}[ev.Kind]
	d.bus.Publish(Event{
		Kind: kind, At: ev.At, SessionID: ev.SessionID,
		PaneID: ev.PaneID, ExitCode: ev.ExitCode,
	})
}

func (d *Dispatcher) sessionLock(sessionID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		d.sessionLocks[sessionID] = l
	}
	return l
}

// Execute runs a single Action to completion, returning its JSON result.
// Every action either mutates state (and publishes an event) or only
// reads state; no action does both (spec.md §4.8).
func (d *Dispatcher) Execute(a Action) (Result, error) {
	switch a.Type {
	case ActionCreateSession:
		return d.createSession(a)
	case ActionCreatePane:
		return d.createPane(a)
	case ActionClosePane:
		return d.closePane(a)
	case ActionSendKeys:
		return d.sendKeys(a)
	case ActionRunCommand:
		return d.runCommand(a)
	case ActionGetPaneOutput:
		return d.getPaneOutput(a)
	case ActionResizePane:
		return d.resizePane(a)
	case ActionRenamePane:
		return d.renamePane(a)
	case ActionCreateFile, ActionOpenFile, ActionDeleteFile, ActionRenameFile,
		ActionCopyFile, ActionMoveFile, ActionCreateDir, ActionListDir:
		return d.fileAction(a)
	default:
		return nil, muxerr.NewValidation("type", "unknown action type: "+string(a.Type))
	}
}

func (d *Dispatcher) createSession(a Action) (Result, error) {
	s, err := d.mgr.CreateSession(a.Name)
	if err != nil {
		return nil, err
	}
	return marshal(s.Info())
}

func (d *Dispatcher) createPane(a Action) (Result, error) {
	lock := d.sessionLock(a.SessionID)
	lock.Lock()
	defer lock.Unlock()

	p, err := d.mgr.CreatePane(a.SessionID, muxsession.CreatePaneParams{
		Kind:    a.PaneType,
		Command: a.Command,
		Size:    pane.Size{Rows: a.Height, Cols: a.Width},
	})
	if err != nil {
		return nil, err
	}
	if a.Name != "" {
		p.SetTitle(a.Name)
	}
	return marshal(p.Info())
}

func (d *Dispatcher) closePane(a Action) (Result, error) {
	_, s, ok := d.mgr.FindPane(a.PaneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", a.PaneID)
	}
	lock := d.sessionLock(s.ID())
	lock.Lock()
	defer lock.Unlock()

	if err := d.mgr.KillPane(s.ID(), a.PaneID); err != nil {
		return nil, err
	}
	return marshal(map[string]string{"pane_id": a.PaneID})
}

func (d *Dispatcher) sendKeys(a Action) (Result, error) {
	p, _, ok := d.mgr.FindPane(a.PaneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", a.PaneID)
	}
	n, err := p.Write([]byte(a.Keys))
	if err != nil {
		return nil, err
	}
	return marshal(map[string]int{"bytes_written": n})
}

func (d *Dispatcher) runCommand(a Action) (Result, error) {
	p, s, ok := d.mgr.FindPane(a.PaneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", a.PaneID)
	}
	line := a.RunLine
	if line == "" {
		line = a.Keys
	}
	if _, err := p.Write([]byte(line + "\n")); err != nil {
		return nil, err
	}
	d.bus.Publish(Event{Kind: EventCommandExecuted, SessionID: s.ID(), PaneID: a.PaneID, Command: line})
	return marshal(map[string]string{"pane_id": a.PaneID})
}

func (d *Dispatcher) getPaneOutput(a Action) (Result, error) {
	p, _, ok := d.mgr.FindPane(a.PaneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", a.PaneID)
	}
	lines := a.Lines
	if lines <= 0 {
		lines = 100
	}
	return marshal(map[string]string{"output": p.ReadOutput(lines)})
}

func (d *Dispatcher) resizePane(a Action) (Result, error) {
	p, _, ok := d.mgr.FindPane(a.PaneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", a.PaneID)
	}
	if err := p.Resize(a.Height, a.Width); err != nil {
		return nil, err
	}
	return marshal(map[string]uint16{"width": a.Width, "height": a.Height})
}

func (d *Dispatcher) renamePane(a Action) (Result, error) {
	p, s, ok := d.mgr.FindPane(a.PaneID)
	if !ok {
		return nil, muxerr.NewNotFound("pane", a.PaneID)
	}
	p.SetTitle(a.Name)
	d.bus.Publish(Event{Kind: EventPaneRenamed, SessionID: s.ID(), PaneID: a.PaneID, Name: a.Name})
	return marshal(p.Info())
}

// fileAction delegates every file-system action to the external File
// Manager collaborator (spec.md §6) — core never touches the
// filesystem on the caller's behalf outside this boundary.
func (d *Dispatcher) fileAction(a Action) (Result, error) {
	if d.files == nil {
		return nil, muxerr.NewInvalidState("no file manager configured")
	}
	switch a.Type {
	case ActionCreateFile:
		return marshal(map[string]bool{"ok": d.files.CreateFile(a.Path, a.Content) == nil})
	case ActionOpenFile:
		content, err := d.files.ReadFile(a.Path)
		if err != nil {
			return nil, muxerr.NewBackendError("open_file", err)
		}
		return marshal(map[string]string{"content": content})
	case ActionDeleteFile:
		if err := d.files.DeleteFile(a.Path); err != nil {
			return nil, muxerr.NewBackendError("delete_file", err)
		}
		return marshal(map[string]bool{"ok": true})
	case ActionRenameFile:
		if err := d.files.RenameFile(a.Path, a.DestPath); err != nil {
			return nil, muxerr.NewBackendError("rename_file", err)
		}
		return marshal(map[string]bool{"ok": true})
	case ActionCopyFile:
		if err := d.files.CopyFile(a.Path, a.DestPath); err != nil {
			return nil, muxerr.NewBackendError("copy_file", err)
		}
		return marshal(map[string]bool{"ok": true})
	case ActionMoveFile:
		if err := d.files.MoveFile(a.Path, a.DestPath); err != nil {
			return nil, muxerr.NewBackendError("move_file", err)
		}
		return marshal(map[string]bool{"ok": true})
	case ActionCreateDir:
		if err := d.files.CreateDirectory(a.Path); err != nil {
			return nil, muxerr.NewBackendError("create_directory", err)
		}
		return marshal(map[string]bool{"ok": true})
	case ActionListDir:
		entries, err := d.files.ListDirectory(a.Path)
		if err != nil {
			return nil, muxerr.NewBackendError("list_directory", err)
		}
		return marshal(map[string][]string{"entries": entries})
	default:
		return nil, muxerr.NewInternal("fileAction", nil)
	}
}
