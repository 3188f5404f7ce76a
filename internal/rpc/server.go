package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pquerna/otp/totp"

	"github.com/loppo-llc/muxd/internal/cursor"
	"github.com/loppo-llc/muxd/internal/dispatch"
	"github.com/loppo-llc/muxd/internal/muxerr"
	"github.com/loppo-llc/muxd/internal/muxsession"
	"github.com/loppo-llc/muxd/internal/pane"
)

// defaultOriginPatterns matches the teacher's websocket.go allowlist:
// Tailscale CGNAT range, MagicDNS suffix, and local dev addresses.
var defaultOriginPatterns = []string{"100.*.*.*", "*.ts.net", "localhost:*", "127.0.0.1:*"}

// methodError maps a *muxerr.Error's Kind to a stable JSON-RPC code, the
// wire adapter being the only place that translation happens (spec.md §7).
func methodError(err error) *Error {
	kind, ok := muxerr.KindOf(err)
	if !ok {
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
	code := CodeInternalError
	switch kind {
	case muxerr.NotFound:
		code = CodeMethodNotFound
	case muxerr.Validation, muxerr.InvalidState:
		code = CodeInvalidParams
	case muxerr.BackendTimeout:
		code = CodeTimeout
	}
	return &Error{Code: code, Message: err.Error()}
}

// Server mounts the Wire Adapter over HTTP, translating JSON-RPC 2.0
// requests to Dispatcher Actions (or direct Manager queries for the
// list/delete methods the Action table omits) and bridging the
// dispatch event bus plus every live pane's output to notifications
// pushed to every connected client.
type Server struct {
	mgr            *muxsession.Manager
	d              *dispatch.Dispatcher
	logger         *slog.Logger
	originPatterns []string

	mu    sync.Mutex
	conns map[*Conn]struct{}

	// totpSecret, when non-empty, requires every connection to present a
	// valid TOTP code (?code=) before the websocket upgrade completes —
	// an optional challenge for exposing the wire adapter outside
	// localhost/tailnet, where the transport itself carries no auth.
	totpSecret string
}

// RequireTOTP enables a TOTP challenge on every incoming connection,
// gating ServeHTTP the way a bearer token would.
func (s *Server) RequireTOTP(secret string) {
	s.totpSecret = secret
}

// NewServer constructs a Server. Call Start to begin bridging bus
// events before accepting connections. mgr.OnCursorEvent is claimed by
// the Server to push cursor.event notifications.
func NewServer(mgr *muxsession.Manager, d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	s := &Server{
		mgr:            mgr,
		d:              d,
		logger:         logger,
		originPatterns: defaultOriginPatterns,
		conns:          make(map[*Conn]struct{}),
	}
	mgr.OnCursorEvent = s.handleCursorEvent
	return s
}

func (s *Server) handleCursorEvent(sessionID, paneID string, ev cursor.Event) {
	s.broadcast("cursor.event", map[string]any{
		"pane_id": paneID,
		"event":   map[string]any{"kind": ev.Kind, "row": ev.Pos.Row, "col": ev.Pos.Col},
	})
}

// Start begins relaying dispatch bus events to every connected client as
// notifications, and forwarding newly created panes' live output.
func (s *Server) Start(ctx context.Context) {
	sub := s.d.Bus().Subscribe()
	go func() {
		defer s.d.Bus().Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				s.handleBusEvent(ctx, ev)
			}
		}
	}()
}

func (s *Server) handleBusEvent(ctx context.Context, ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventPaneCreated:
		if p, _, ok := s.mgr.FindPane(ev.PaneID); ok {
			go s.forwardPaneOutput(ctx, p)
		}
	case dispatch.EventPaneClosed:
		s.broadcast("pane.exit", map[string]any{"pane_id": ev.PaneID, "exit_code": exitCodeOf(ev.ExitCode)})
		return
	}
	s.broadcast(string(ev.Kind), ev)
}

func exitCodeOf(ec *int) int {
	if ec == nil {
		return 0
	}
	return *ec
}

// forwardPaneOutput subscribes to p's broadcast channel and pushes each
// chunk as a pane.output notification until the pane exits or the
// server shuts down.
func (s *Server) forwardPaneOutput(ctx context.Context, p *pane.Pane) {
	ch, seed := p.Subscribe()
	defer p.Unsubscribe(ch)

	if len(seed) > 0 {
		s.broadcast("pane.output", map[string]any{"pane_id": p.ID, "data": encodeOutput(seed)})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast("pane.output", map[string]any{"pane_id": p.ID, "data": encodeOutput(data)})
		}
	}
}

func (s *Server) broadcast(method string, params any) {
	data, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("failed to marshal notification params", "method", method, "err", err)
		return
	}
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Notify(method, json.RawMessage(data))
	}
}

// ServeHTTP upgrades the request to a websocket JSON-RPC connection and
// serves it until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.totpSecret != "" {
		code := r.URL.Query().Get("code")
		if code == "" || !totp.Validate(code, s.totpSecret) {
			http.Error(w, "invalid or missing totp code", http.StatusUnauthorized)
			return
		}
	}

	conn, err := Accept(w, r, s.originPatterns, s.handleMethod, s.logger)
	if err != nil {
		s.logger.Error("rpc accept failed", "err", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	conn.Serve(r.Context())
}

// handleMethod is the Handler passed to every accepted Conn: it
// translates a wire method name to either a Dispatcher Action or a
// direct Manager query.
func (s *Server) handleMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "session.list":
		return json.Marshal(s.mgr.ListSessions())
	case "session.delete":
		var p struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		if err := s.mgr.DeleteSession(p.SessionID, false); err != nil {
			return nil, methodError(err)
		}
		return json.Marshal(map[string]bool{"ok": true})
	case "pane.list":
		var p struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		panes, err := s.mgr.ListPanes(p.SessionID)
		if err != nil {
			return nil, methodError(err)
		}
		infos := make([]any, len(panes))
		for i, pn := range panes {
			infos[i] = pn.Info()
		}
		return json.Marshal(infos)
	case "pane.kill":
		return s.dispatchAction(dispatch.ActionClosePane, params)
	case "session.create":
		return s.dispatchAction(dispatch.ActionCreateSession, params)
	case "pane.create":
		return s.dispatchAction(dispatch.ActionCreatePane, params)
	case "pane.write":
		return s.dispatchAction(dispatch.ActionSendKeys, params)
	case "pane.read":
		return s.dispatchAction(dispatch.ActionGetPaneOutput, params)
	case "pane.resize":
		return s.dispatchAction(dispatch.ActionResizePane, params)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "unknown method: " + method}
	}
}

func (s *Server) dispatchAction(actionType dispatch.ActionType, params json.RawMessage) (json.RawMessage, error) {
	var a dispatch.Action
	if len(params) > 0 {
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
	}
	a.Type = actionType
	result, err := s.d.Execute(a)
	if err != nil {
		return nil, methodError(err)
	}
	return result, nil
}

func encodeOutput(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
