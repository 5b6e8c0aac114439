package rules

import "github.com/haukened/rr-pulse/internal/pulse/domain"

// BloomSizer computes Bloom filter parameters from capacity (n) and target FP rate (p).
// It returns m (number of bits) and k (number of hash functions).
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter is the prefilter built over blocklist domains on every rule load.
type BloomFilter interface {
	domain.Prefilter
	Add(key []byte)
}

// BloomFactory constructs filters sized for a capacity and false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// Source loads a RuleSet from wherever rules live.
type Source interface {
	Load() (domain.RuleSet, error)
}
