package rules_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules/bloom"
)

func ruleSet(t *testing.T, domains ...string) domain.RuleSet {
	t.Helper()
	var rs domain.RuleSet
	for _, d := range domains {
		e, err := domain.NewBlockEntry(d, false, "test")
		require.NoError(t, err)
		rs.Blocks = append(rs.Blocks, e)
	}
	return rs
}

func newStore(t *testing.T, rs domain.RuleSet, wl []string, onPublish func(*domain.RuleSnapshot)) *rules.Store {
	t.Helper()
	return rules.NewStore(rs, wl, rules.StoreOptions{
		Bloom:       bloom.NewFactory(),
		BloomFPRate: 0.01,
		Logger:      log.NewNoopLogger(),
		OnPublish:   onPublish,
	})
}

func TestStore_InitialSnapshot(t *testing.T) {
	s := newStore(t, ruleSet(t, "doubleclick.net"), []string{"Example.com"}, nil)
	snap := s.CurrentSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Generation())
	assert.Equal(t, []string{"example.com"}, snap.Whitelist())

	_, ok := snap.MatchDomain("ad.doubleclick.net")
	assert.True(t, ok)
	_, ok = snap.MatchDomain("evil-doubleclick.net")
	assert.False(t, ok)
}

func TestStore_PublishKeepsRulesAndBumpsGeneration(t *testing.T) {
	var published []uint64
	s := newStore(t, ruleSet(t, "doubleclick.net"), nil, func(snap *domain.RuleSnapshot) {
		published = append(published, snap.Generation())
	})
	before := s.CurrentSnapshot()

	next := s.Publish([]string{"doubleclick.net"})
	assert.Equal(t, uint64(2), next.Generation())
	assert.Same(t, next, s.CurrentSnapshot())
	_, ok := next.IsWhitelisted("ad.doubleclick.net")
	assert.True(t, ok)
	_, ok = next.MatchDomain("doubleclick.net")
	assert.True(t, ok, "rules survive a whitelist publish")

	// the old snapshot is untouched
	_, ok = before.IsWhitelisted("ad.doubleclick.net")
	assert.False(t, ok)
	assert.Equal(t, []uint64{1, 2}, published)
}

func TestStore_ReloadKeepsWhitelist(t *testing.T) {
	s := newStore(t, ruleSet(t, "doubleclick.net"), []string{"news.example.com"}, nil)
	next := s.Reload(ruleSet(t, "taboola.com"))

	assert.Equal(t, uint64(2), next.Generation())
	assert.Equal(t, []string{"news.example.com"}, next.Whitelist())
	_, ok := next.MatchDomain("doubleclick.net")
	assert.False(t, ok)
	_, ok = next.MatchDomain("cdn.taboola.com")
	assert.True(t, ok)
}

func TestStore_NoBloomFactory(t *testing.T) {
	s := rules.NewStore(ruleSet(t, "doubleclick.net"), nil, rules.StoreOptions{})
	_, ok := s.CurrentSnapshot().MatchDomain("x.doubleclick.net")
	assert.True(t, ok)
}

func TestStore_ConcurrentReadersNeverSeeTornSnapshot(t *testing.T) {
	s := newStore(t, ruleSet(t, "doubleclick.net"), nil, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.CurrentSnapshot()
				_, blocked := snap.MatchDomain("doubleclick.net")
				_, allowed := snap.IsWhitelisted("doubleclick.net")
				// whitelist toggles with generation parity; rules never change
				if !blocked || allowed != (snap.Generation()%2 == 0) {
					t.Errorf("inconsistent snapshot at generation %d", snap.Generation())
					return
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			s.Publish([]string{"doubleclick.net"})
		} else {
			s.Publish(nil)
		}
	}
	close(stop)
	wg.Wait()
}
