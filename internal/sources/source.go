// Package sources holds the signal source adapters and the registry they register into.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

var (
	// ErrUnknownSource is returned when a name has no registered factory.
	ErrUnknownSource = errors.New("unknown source")
	// ErrDuplicateSource is returned when a name is registered twice.
	ErrDuplicateSource = errors.New("source already registered")
)

// Params carries per-scan inputs shared by every adapter.
type Params struct {
	// SignalPhrases are user-flagged phrases; some adapters add them as extra search queries.
	SignalPhrases []string
}

// Adapter collects raw signals from one upstream.
type Adapter interface {
	Name() string
	Collect(ctx context.Context, params Params) ([]domain.RawSignal, error)
	// ValidateConfig reports whether required credentials are present, listing any that are missing.
	ValidateConfig() (bool, []string)
	IsEnabled() bool
}

// Deps are the shared collaborators handed to every factory.
type Deps struct {
	HTTPClient *http.Client
	Logger     infralogger.Logger
}

// Factory builds an adapter from its configuration.
type Factory func(cfg config.SourceConfig, deps Deps) (Adapter, error)

// Registry maps source names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	r.factories[name] = factory
	return nil
}

// Build instantiates the named adapter.
func (r *Registry) Build(name string, cfg config.SourceConfig, deps Deps) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return factory(cfg.WithDefaults(), deps)
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the registry every built-in adapter registers into.
func Default() *Registry {
	return defaultRegistry
}

func mustRegister(name string, factory Factory) {
	if err := defaultRegistry.Register(name, factory); err != nil {
		panic(err)
	}
}

// Info describes one configured source for listings.
type Info struct {
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	ConfigValid bool     `json:"config_valid"`
	Missing     []string `json:"missing_keys,omitempty"`
	RateLimit   int      `json:"rate_limit"`
	TimeoutSecs float64  `json:"timeout_seconds"`
	Error       string   `json:"error,omitempty"`
}

// Catalog is the set of adapters built from configuration at startup.
type Catalog struct {
	adapters map[string]Adapter
	infos    []Info
}

// NewCatalog builds every registered adapter. Adapters that fail to build are recorded in Infos
// and never selected.
func NewCatalog(reg *Registry, cfgs map[string]config.SourceConfig, deps Deps) *Catalog {
	log := deps.Logger
	if log == nil {
		log = infralogger.NewNop()
	}

	c := &Catalog{adapters: make(map[string]Adapter)}
	for _, name := range reg.Names() {
		cfg := cfgs[name].WithDefaults()
		info := Info{Name: name, RateLimit: cfg.RateLimit, TimeoutSecs: cfg.Timeout.Seconds()}

		adapter, err := reg.Build(name, cfg, deps)
		if err != nil {
			info.Error = err.Error()
			log.Warn("Source adapter could not be built", infralogger.Source(name), infralogger.Error(err))
			c.infos = append(c.infos, info)
			continue
		}

		info.Enabled = adapter.IsEnabled()
		info.ConfigValid, info.Missing = adapter.ValidateConfig()
		if info.Enabled && !info.ConfigValid {
			log.Warn("Source adapter misconfigured, skipping",
				infralogger.Source(name),
				infralogger.Strings("missing_keys", info.Missing))
		}

		c.adapters[name] = adapter
		c.infos = append(c.infos, info)
	}
	return c
}

// Infos lists every registered source and its state.
func (c *Catalog) Infos() []Info {
	return slices.Clone(c.infos)
}

// Select returns the runnable adapters. An empty names list selects every enabled adapter with a
// valid configuration; naming an unregistered source is an error.
func (c *Catalog) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = make([]string, 0, len(c.infos))
		for _, info := range c.infos {
			names = append(names, info.Name)
		}
	}

	selected := make([]Adapter, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		adapter, ok := c.adapters[name]
		if !ok {
			if !slices.ContainsFunc(c.infos, func(i Info) bool { return i.Name == name }) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
			}
			continue
		}
		if !adapter.IsEnabled() {
			continue
		}
		if ok, _ := adapter.ValidateConfig(); !ok {
			continue
		}
		selected = append(selected, adapter)
	}
	return selected, nil
}
