package rules

import (
	"sync"
	"sync/atomic"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// StoreOptions configures a Store. Bloom is optional; without it snapshots
// carry no prefilter.
type StoreOptions struct {
	Bloom       BloomFactory
	BloomFPRate float64
	Logger      logpkg.Logger
	// OnPublish, when set, observes every snapshot after it becomes current.
	OnPublish func(*domain.RuleSnapshot)
}

// Store owns the published RuleSnapshot. Readers load the current pointer
// without locking; writers are serialized and swap in a fully built snapshot.
type Store struct {
	current atomic.Pointer[domain.RuleSnapshot]

	mu         sync.Mutex
	generation uint64
	opts       StoreOptions
	logger     logpkg.Logger
}

// NewStore builds the first snapshot (generation 1) from rules and whitelist.
func NewStore(rules domain.RuleSet, whitelist []string, opts StoreOptions) *Store {
	s := &Store{opts: opts, logger: logpkg.OrGlobal(opts.Logger)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swap(domain.NewRuleSnapshot(rules, whitelist, s.nextGeneration(), s.buildPrefilter(rules)))
	return s
}

// CurrentSnapshot returns the latest published snapshot.
func (s *Store) CurrentSnapshot() *domain.RuleSnapshot {
	return s.current.Load()
}

// Publish replaces the whitelist, keeping the current rules.
func (s *Store) Publish(whitelist []string) *domain.RuleSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.Load().WithWhitelist(whitelist, s.nextGeneration())
	s.swap(next)
	s.logger.Debug(map[string]any{"generation": next.Generation(), "whitelist": len(next.Whitelist())}, "rules_whitelist_published")
	return next
}

// Reload replaces the rules, keeping the current whitelist.
func (s *Store) Reload(rules domain.RuleSet) *domain.RuleSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	next := domain.NewRuleSnapshot(rules, prev.Whitelist(), s.nextGeneration(), s.buildPrefilter(rules))
	s.swap(next)
	s.logger.Info(map[string]any{"generation": next.Generation(), "domains": len(rules.Blocks)}, "rules_reloaded")
	return next
}

func (s *Store) nextGeneration() uint64 {
	s.generation++
	return s.generation
}

func (s *Store) swap(next *domain.RuleSnapshot) {
	s.current.Store(next)
	if s.opts.OnPublish != nil {
		s.opts.OnPublish(next)
	}
}

func (s *Store) buildPrefilter(rules domain.RuleSet) domain.Prefilter {
	if s.opts.Bloom == nil || len(rules.Blocks) == 0 {
		return nil
	}
	bf := s.opts.Bloom.New(uint64(len(rules.Blocks)), s.opts.BloomFPRate)
	for _, e := range rules.Blocks {
		bf.Add([]byte(e.Domain))
	}
	return bf
}
