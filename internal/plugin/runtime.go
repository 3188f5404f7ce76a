package plugin

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/loppo-llc/muxd/internal/dispatch"
	"github.com/loppo-llc/muxd/internal/muxerr"
)

// Runtime owns every registered Plugin, fans subscribed bus events out
// to them off the bus's own goroutine (handle_event must not block the
// bus, per spec.md §4.9), and exposes execute_plugin_command.
type Runtime struct {
	d      *dispatch.Dispatcher
	logger *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*record

	stop chan struct{}
	sub  chan dispatch.Event
}

// NewRuntime constructs a Runtime wired to d's bus. Call Start to begin
// relaying events.
func NewRuntime(d *dispatch.Dispatcher, logger *slog.Logger) *Runtime {
	return &Runtime{
		d:       d,
		logger:  logger,
		plugins: make(map[string]*record),
		stop:    make(chan struct{}),
	}
}

// Register runs p's Init and adds it to the runtime. Must be called
// before Start.
func (rt *Runtime) Register(p Plugin) error {
	rec := newRecord(p, rt.d)
	if err := p.Init(rec.ctx); err != nil {
		return muxerr.NewPlugin(p.ID(), "init", err)
	}
	rec.finalizeTopics()

	rt.mu.Lock()
	rt.plugins[p.ID()] = rec
	rt.mu.Unlock()
	return nil
}

// Start begins relaying bus events to every plugin's HandleEvent off
// a dedicated goroutine, so a slow plugin only delays its own delivery,
// never the bus or other plugins.
func (rt *Runtime) Start() {
	rt.sub = rt.d.Bus().Subscribe()
	go rt.loop()
}

func (rt *Runtime) loop() {
	for {
		select {
		case <-rt.stop:
			return
		case ev, ok := <-rt.sub:
			if !ok {
				return
			}
			rt.dispatchEvent(ev)
		}
	}
}

func (rt *Runtime) dispatchEvent(ev dispatch.Event) {
	topic := eventTopic(ev.Kind)
	rt.mu.RLock()
	recs := make([]*record, 0, len(rt.plugins))
	for _, r := range rt.plugins {
		if r.wants(topic) {
			recs = append(recs, r)
		}
	}
	rt.mu.RUnlock()

	for _, r := range recs {
		// handle_event must not block the bus (spec.md §4.9); each
		// plugin's delivery runs on its own goroutine so one slow
		// plugin cannot delay another's.
		go func(r *record) {
			if err := r.plugin.HandleEvent(ev); err != nil {
				rt.logger.Warn("plugin event handler failed", "plugin", r.plugin.ID(), "err", err)
			}
		}(r)
	}
}

// ExecutePluginCommand implements execute_plugin_command(plugin_id,
// method, params): unknown plugin IDs or methods return an error.
func (rt *Runtime) ExecutePluginCommand(pluginID, method string, params json.RawMessage) (json.RawMessage, error) {
	rt.mu.RLock()
	rec, ok := rt.plugins[pluginID]
	rt.mu.RUnlock()
	if !ok {
		return nil, muxerr.NewNotFound("plugin", pluginID)
	}
	result, err := rec.plugin.HandleRequest(method, params)
	if err != nil {
		return nil, muxerr.NewPlugin(pluginID, method, err)
	}
	return result, nil
}

// List returns the metadata of every registered plugin.
func (rt *Runtime) List() []Metadata {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Metadata, 0, len(rt.plugins))
	for _, r := range rt.plugins {
		out = append(out, r.plugin.Metadata())
	}
	return out
}

// Shutdown calls every plugin's Shutdown, best-effort: plugins must
// tolerate concurrent shutdown and late event delivery (spec.md §4.9),
// so a failure from one plugin does not stop the sweep.
func (rt *Runtime) Shutdown() {
	close(rt.stop)
	if rt.sub != nil {
		rt.d.Bus().Unsubscribe(rt.sub)
	}

	rt.mu.RLock()
	recs := make([]*record, 0, len(rt.plugins))
	for _, r := range rt.plugins {
		recs = append(recs, r)
	}
	rt.mu.RUnlock()

	for _, r := range recs {
		if err := r.plugin.Shutdown(); err != nil {
			rt.logger.Warn("plugin shutdown failed", "plugin", r.plugin.ID(), "err", err)
		}
	}
}
