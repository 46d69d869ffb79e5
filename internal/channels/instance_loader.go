package channels

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/botparty/internal/config"
)

// ChannelFactory creates a Channel for one agent from its resolved config.
type ChannelFactory func(cfg config.AgentConfig) (Channel, error)

// InstanceLoader maps platform names to channel factories.
type InstanceLoader struct {
	mu        sync.RWMutex
	factories map[string]ChannelFactory
}

// NewInstanceLoader creates an empty loader.
func NewInstanceLoader() *InstanceLoader {
	return &InstanceLoader{factories: make(map[string]ChannelFactory)}
}

// RegisterFactory registers a factory for a platform (e.g. "slack", "discord").
func (l *InstanceLoader) RegisterFactory(platform string, factory ChannelFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[platform] = factory
}

// Platforms returns the registered platform names.
func (l *InstanceLoader) Platforms() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.factories))
	for p := range l.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Create builds the channel for cfg using its platform's factory.
func (l *InstanceLoader) Create(cfg config.AgentConfig) (Channel, error) {
	l.mu.RLock()
	factory, ok := l.factories[cfg.Platform]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no channel factory for platform %q", cfg.Platform)
	}

	ch, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s channel for %s: %w", cfg.Platform, cfg.Name, err)
	}
	slog.Debug("channel instance created", "agent", cfg.Name, "platform", cfg.Platform)
	return ch, nil
}
