package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/loppo-llc/muxd/internal/dispatch"
	"github.com/loppo-llc/muxd/internal/pane"
)

// layoutPane is one cell of a TemplatePlugin layout: a pane kind plus an
// optional title, translated from session_plugin.rs's LayoutPane
// (width/height percentages are dropped — this runtime has no layout
// engine to consume them, only pane creation order).
type layoutPane struct {
	Kind  pane.Kind
	Title string
}

type sessionTemplate struct {
	Name        string
	Description string
	Panes       []layoutPane
}

// TemplatePlugin supplements the spec's plugin runtime with the
// session-creation-from-template feature of session_plugin.rs: a
// session plus a fixed set of panes created in one call instead of one
// CreateSession + N CreatePane round trips.
type TemplatePlugin struct {
	ctx       *Context
	templates map[string]sessionTemplate
}

// NewTemplatePlugin constructs a TemplatePlugin seeded with the "dev"
// and "test" templates from session_plugin.rs, adapted to this
// runtime's pane kinds.
func NewTemplatePlugin() *TemplatePlugin {
	return &TemplatePlugin{
		templates: map[string]sessionTemplate{
			"dev": {
				Name:        "Development",
				Description: "Standard development layout",
				Panes: []layoutPane{
					{Kind: pane.KindFileTree, Title: "Files"},
					{Kind: pane.KindEditor, Title: "Editor"},
					{Kind: pane.KindTerminal, Title: "Terminal"},
					{Kind: pane.KindOutput, Title: "Output"},
				},
			},
			"test": {
				Name:        "Testing",
				Description: "Layout optimized for testing",
				Panes: []layoutPane{
					{Kind: pane.KindEditor, Title: "Test Files"},
					{Kind: pane.KindOutput, Title: "Test Output"},
				},
			},
		},
	}
}

func (p *TemplatePlugin) ID() string { return "session-templates" }

func (p *TemplatePlugin) Metadata() Metadata {
	return Metadata{
		Name:         "Session Templates",
		Version:      "1.0.0",
		Author:       "muxd",
		Description:  "Create sessions pre-populated with a fixed pane layout",
		Capabilities: []string{"session.createFromTemplate"},
	}
}

func (p *TemplatePlugin) Init(ctx *Context) error {
	p.ctx = ctx
	ctx.Subscribe("session_created", "pane_created")
	return nil
}

// HandleEvent is a no-op: this plugin only reacts to direct requests,
// not bus events, but still subscribes so it shows up correctly in
// topic-routing tests and diagnostics.
func (p *TemplatePlugin) HandleEvent(ev dispatch.Event) error { return nil }

type createFromTemplateParams struct {
	Template string `json:"template"`
	Name     string `json:"name"`
}

type createFromTemplateResult struct {
	SessionID string   `json:"session_id"`
	PaneIDs   []string `json:"pane_ids"`
}

func (p *TemplatePlugin) HandleRequest(method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "session.createFromTemplate":
		return p.createFromTemplate(params)
	case "session.listTemplates":
		names := make([]string, 0, len(p.templates))
		for name := range p.templates {
			names = append(names, name)
		}
		return json.Marshal(names)
	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

func (p *TemplatePlugin) createFromTemplate(raw json.RawMessage) (json.RawMessage, error) {
	var params createFromTemplateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	tmpl, ok := p.templates[params.Template]
	if !ok {
		return nil, fmt.Errorf("unknown template: %s", params.Template)
	}
	name := params.Name
	if name == "" {
		name = tmpl.Name
	}

	sessionRes, err := p.ctx.Submit(dispatch.Action{Type: dispatch.ActionCreateSession, Name: name})
	if err != nil {
		return nil, err
	}
	var session struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(sessionRes, &session); err != nil {
		return nil, err
	}

	var paneIDs []string
	for _, lp := range tmpl.Panes {
		paneRes, err := p.ctx.Submit(dispatch.Action{
			Type: dispatch.ActionCreatePane, SessionID: session.ID,
			PaneType: lp.Kind, Name: lp.Title,
		})
		if err != nil {
			// Partial structural changes are kept, not rolled back
			// (spec.md §5's cancellation policy) — the caller inspects
			// pane_ids to see what actually landed.
			break
		}
		var pn struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(paneRes, &pn); err == nil {
			paneIDs = append(paneIDs, pn.ID)
		}
	}

	return json.Marshal(createFromTemplateResult{SessionID: session.ID, PaneIDs: paneIDs})
}

func (p *TemplatePlugin) Shutdown() error { return nil }

var _ Plugin = (*TemplatePlugin)(nil)
