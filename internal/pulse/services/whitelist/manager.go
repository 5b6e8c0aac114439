package whitelist

import (
	"fmt"
	"sort"
	"sync"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/common/utils"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// Persister stores the whitelist durably.
type Persister interface {
	Load() ([]string, error)
	Save(domains []string) error
}

// Publisher makes a new whitelist visible to classification.
type Publisher interface {
	Publish(whitelist []string) *domain.RuleSnapshot
}

// Options configures a Manager. Store is optional; without it the whitelist
// lives for the process lifetime only.
type Options struct {
	Publisher Publisher
	Store     Persister
	Logger    logpkg.Logger
}

// Manager owns the user whitelist. Every mutation publishes a new rule
// snapshot and is then persisted; a failed write is reported but the
// in-memory list stays authoritative for the session.
type Manager struct {
	mu      sync.Mutex
	domains map[string]struct{}
	pub     Publisher
	store   Persister
	logger  logpkg.Logger
}

// New loads the persisted whitelist and publishes it. A load failure is
// logged and the manager starts empty.
func New(opts Options) *Manager {
	m := &Manager{
		domains: make(map[string]struct{}),
		pub:     opts.Publisher,
		store:   opts.Store,
		logger:  logpkg.OrGlobal(opts.Logger),
	}
	if m.store != nil {
		loaded, err := m.store.Load()
		if err != nil {
			m.logger.Error(map[string]any{"error": err}, "whitelist_load_failed")
		}
		for _, d := range loaded {
			if host := utils.HostFromInput(d); host != "" {
				m.domains[host] = struct{}{}
			}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked()
	m.logger.Info(map[string]any{"count": len(m.domains)}, "whitelist_loaded")
	return m
}

// Add whitelists the host named by input, which may be a bare domain, host:port
// or a full URL. Adding a present domain is a no-op. The returned error wraps
// domain.ErrInvalidDomain or domain.ErrPersistenceFailure; in the latter case
// the domain is already active.
func (m *Manager) Add(input string) (string, bool, error) {
	host := utils.HostFromInput(input)
	if host == "" {
		return "", false, fmt.Errorf("%w: %q", domain.ErrInvalidDomain, input)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[host]; ok {
		return host, false, nil
	}
	m.domains[host] = struct{}{}
	m.publishLocked()
	m.logger.Info(map[string]any{"domain": host}, "whitelist_added")
	return host, true, m.persistLocked()
}

// Remove drops the host named by input. Removing an absent domain is a no-op.
func (m *Manager) Remove(input string) (string, bool, error) {
	host := utils.HostFromInput(input)
	if host == "" {
		return "", false, fmt.Errorf("%w: %q", domain.ErrInvalidDomain, input)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[host]; !ok {
		return host, false, nil
	}
	delete(m.domains, host)
	m.publishLocked()
	m.logger.Info(map[string]any{"domain": host}, "whitelist_removed")
	return host, true, m.persistLocked()
}

// List returns the whitelisted domains in sorted order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

// Contains reports whether input names a whitelisted domain exactly.
func (m *Manager) Contains(input string) bool {
	host := utils.HostFromInput(input)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.domains[host]
	return ok
}

func (m *Manager) sortedLocked() []string {
	out := make([]string, 0, len(m.domains))
	for d := range m.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) publishLocked() {
	if m.pub != nil {
		m.pub.Publish(m.sortedLocked())
	}
}

func (m *Manager) persistLocked() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(m.sortedLocked()); err != nil {
		m.logger.Error(map[string]any{"error": err}, "whitelist_persist_failed")
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	return nil
}
