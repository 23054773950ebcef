package gateway

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"modelgate/internal/config"
	"modelgate/internal/provider"
)

// Registry holds one adapter per configured provider and rebuilds them when
// the configuration reloads. Rebuilding discards rotation state; a reload is
// the operator's way of installing fresh keys.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
}

// NewRegistry builds adapters for every provider entry and subscribes to
// config reloads. Entries that fail to build are skipped with a log line so
// one bad entry does not take down the rest.
func NewRegistry(manager *config.Manager) *Registry {
	r := &Registry{providers: make(map[string]provider.Provider)}
	r.rebuild(manager.Get())
	manager.OnChange(r.rebuild)
	return r
}

// Provider returns the adapter for a configured name.
func (r *Registry) Provider(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Names returns the configured provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

func (r *Registry) rebuild(cfg *config.FileConfig) {
	next := make(map[string]provider.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p, err := ForProvider(name, pc, cfg)
		if err != nil {
			log.WithError(err).WithField("provider", name).Warn("skipping provider entry")
			continue
		}
		next[name] = p
	}

	r.mu.Lock()
	r.providers = next
	r.mu.Unlock()
	log.WithField("providers", len(next)).Info("provider registry built")
}
