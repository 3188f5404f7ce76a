// Package plugin implements the Plugin Runtime (C9): a small trait-style
// contract translated from the Tauri desktop app's session plugin, plus
// a runtime that routes bus events to subscribed plugins and exposes
// their request surface both in-process and over MCP.
package plugin

import (
	"encoding/json"

	"github.com/loppo-llc/muxd/internal/dispatch"
)

// Metadata describes a plugin statically, mirroring session_plugin.rs's
// PluginMetadata{name, version, author, description, capabilities[]}.
type Metadata struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Author       string   `json:"author"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// Plugin is the Go translation of session_plugin.rs's Plugin trait:
// id/metadata/init/handle_event/handle_request/shutdown.
type Plugin interface {
	ID() string
	Metadata() Metadata
	Init(ctx *Context) error
	HandleEvent(ev dispatch.Event) error
	HandleRequest(method string, params json.RawMessage) (json.RawMessage, error)
	Shutdown() error
}

// Context is handed to a plugin at Init. It never exposes a live
// pane/session reference — only the ability to submit Actions back
// through the Dispatcher by value, matching spec.md §9's guidance that
// plugins must not hold structural references that could outlive or
// race the core's own lock discipline.
type Context struct {
	pluginID string
	d        *dispatch.Dispatcher
	subs     []string
}

// Submit routes an Action through the Dispatcher exactly as any other
// caller would: the plugin gets no privileged path around the
// invariants the Dispatcher enforces.
func (c *Context) Submit(a dispatch.Action) (dispatch.Result, error) {
	return c.d.Execute(a)
}

// Subscribe records the event topic names this plugin wants delivered
// to HandleEvent. Called during Init.
func (c *Context) Subscribe(topics ...string) {
	c.subs = append(c.subs, topics...)
}

// eventTopic maps a dispatch.EventKind to the string topic name plugins
// subscribe by, matching session_plugin.rs's snake_case topic strings
// ("session_created", "pane_created", ...).
func eventTopic(k dispatch.EventKind) string {
	return string(k)
}

// record pairs a registered plugin with its Context and subscription
// list, used by Runtime's dispatch loop.
type record struct {
	plugin Plugin
	ctx    *Context
	topics map[string]struct{}
}

func newRecord(p Plugin, d *dispatch.Dispatcher) *record {
	return &record{
		plugin: p,
		ctx:    &Context{pluginID: p.ID(), d: d},
		topics: make(map[string]struct{}),
	}
}

func (r *record) finalizeTopics() {
	for _, t := range r.ctx.subs {
		r.topics[t] = struct{}{}
	}
}

func (r *record) wants(topic string) bool {
	_, ok := r.topics[topic]
	return ok
}
