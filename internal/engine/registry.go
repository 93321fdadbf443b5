package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/Cyclone1070/qgate/internal/config"
)

// Factory builds an engine from its configuration.
type Factory func(cfg config.EngineConfig, exec CommandExecutor) (Engine, error)

// Registry maps engine kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in command-backed kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, kind := range []Kind{KindLinter, KindFormatter, KindTypechecker} {
		r.Register(string(kind), commandFactory(kind))
	}
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates one engine per config, preserving order. A config that
// cannot be built yields an engine whose every Check fails with the build
// error, so the problem is reported against that engine alone.
func (r *Registry) Build(cfgs []config.EngineConfig, exec CommandExecutor) []Engine {
	engines := make([]Engine, 0, len(cfgs))
	for _, cfg := range cfgs {
		r.mu.RLock()
		f, ok := r.factories[cfg.Kind]
		r.mu.RUnlock()

		if !ok {
			engines = append(engines, &failedEngine{
				desc: descriptorFor(cfg),
				err:  &UnknownEngineError{Engine: cfg.Name, Kind: cfg.Kind},
			})
			continue
		}
		e, err := f(cfg, exec)
		if err != nil {
			engines = append(engines, &failedEngine{desc: descriptorFor(cfg), err: err})
			continue
		}
		engines = append(engines, e)
	}
	return engines
}

func commandFactory(kind Kind) Factory {
	return func(cfg config.EngineConfig, exec CommandExecutor) (Engine, error) {
		return NewCommandEngine(CommandSpec{
			Descriptor: descriptorFor(cfg),
			Kind:       kind,
			Command:    cfg.Command,
			FixArgs:    cfg.FixArgs,
			Files:      cfg.Files,
			Pattern:    cfg.Pattern,
			CacheEnv:   cfg.CacheEnv,
		}, cfg.Options, exec)
	}
}

// descriptorFor derives fixability from the kind unless set explicitly.
func descriptorFor(cfg config.EngineConfig) Descriptor {
	fixable := Kind(cfg.Kind) == KindLinter || Kind(cfg.Kind) == KindFormatter
	if cfg.Fixable != nil {
		fixable = *cfg.Fixable
	}
	return Descriptor{Name: cfg.Name, Fixable: fixable, Critical: cfg.Critical}
}

// failedEngine stands in for an engine that could not be built.
type failedEngine struct {
	desc Descriptor
	err  error
}

func (f *failedEngine) Descriptor() Descriptor { return f.desc }

func (f *failedEngine) Check(context.Context, Request) (*Result, error) {
	return nil, f.err
}
