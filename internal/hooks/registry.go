// Package hooks supplies the text corpus for graph builds. Implementations
// are registered by name at program start; configuration selects one with
// hooks.module.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
)

// Hooks is the data-source capability. FullData returns the entire corpus;
// IncrementalData returns chunks produced since the given version. How
// "since" is interpreted is the implementation's responsibility — the core
// only forwards the base version.
type Hooks interface {
	FullData(ctx context.Context) ([]string, error)
	IncrementalData(ctx context.Context, sinceVersion string) ([]string, error)
}

// Factory builds a Hooks implementation from configuration.
type Factory func(ctx context.Context, cfg config.HooksConfig, log *logrus.Logger) (Hooks, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a named hooks factory. Later registrations under the same
// name win, so tests can override built-ins.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Load resolves cfg.Module against the registry and builds the hooks.
func Load(ctx context.Context, cfg config.HooksConfig, log *logrus.Logger) (Hooks, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Module]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown hooks module %q (registered: %v)", cfg.Module, names())
	}

	hooks, err := factory(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing hooks module %q: %w", cfg.Module, err)
	}

	return hooks, nil
}

func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}
