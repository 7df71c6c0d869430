// Package plugin holds the registry of worker task kinds. Each plugin declares the range of
// engine versions it supports, and the range is checked once when the plugin is registered.
package plugin

import (
	"context"
	"slices"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Emitter sends an intermediate event for the running task.
type Emitter func(event string, data []byte)

// Handler executes one task of a plugin's kind and returns its result payload.
type Handler func(ctx context.Context, payload []byte, emit Emitter) ([]byte, error)

// Plugin binds a task kind to its handler.
type Plugin struct {
	// Kind is the event name tasks of this plugin are sent with.
	Kind string
	// Engines is the range of engine versions the plugin supports, e.g. ">=v1.0.0 <v2.0.0".
	Engines string
	Handle  Handler
}

// Registry maps task kinds to plugins.
type Registry struct {
	engine string

	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry for the given engine version.
func NewRegistry(engine string) *Registry {
	return &Registry{
		engine:  engine,
		plugins: make(map[string]Plugin),
	}
}

// Register validates p against the engine version and adds it.
func (r *Registry) Register(p Plugin) error {
	if p.Kind == "" || p.Handle == nil {
		return zerr.With(zerr.New("plugin needs a kind and a handler"), "kind", p.Kind)
	}
	if p.Kind == domain.EventCancel || p.Kind == domain.EventFinished {
		return zerr.With(zerr.Wrap(domain.ErrPluginAlreadyRegistered, "task kind is reserved"), "kind", p.Kind)
	}

	rng, err := ParseRange(p.Engines)
	if err != nil {
		return zerr.With(err, "kind", p.Kind)
	}
	if !rng.Allows(r.engine) {
		err := zerr.With(zerr.Wrap(domain.ErrPluginIncompatible, "engine version outside plugin range"), "kind", p.Kind)
		err = zerr.With(err, "engine", r.engine)
		return zerr.With(err, "range", p.Engines)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[p.Kind]; ok {
		return zerr.With(zerr.Wrap(domain.ErrPluginAlreadyRegistered, "duplicate task kind"), "kind", p.Kind)
	}
	r.plugins[p.Kind] = p
	return nil
}

// MustRegister is Register for plugins compiled into the binary.
func (r *Registry) MustRegister(plugins ...Plugin) *Registry {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the plugin for kind.
func (r *Registry) Lookup(kind string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[kind]
	if !ok {
		return Plugin{}, zerr.With(zerr.Wrap(domain.ErrUnknownTaskKind, "no plugin for task kind"), "kind", kind)
	}
	return p, nil
}

// Kinds returns the registered task kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.plugins))
	for k := range r.plugins {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
