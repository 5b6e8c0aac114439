package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-pulse/internal/pulse/common/clock"
)

var (
	bucketWhitelist = []byte("whitelist")
	bucketMeta      = []byte("meta")

	keyRevision = []byte("revision")
	keyUpdated  = []byte("updated")
)

// Stats captures counts and metadata of the persisted whitelist.
type Stats struct {
	Count       uint64
	Revision    uint64
	UpdatedUnix int64 // seconds since epoch
}

// Store persists the whitelist in a bbolt file: one key per domain in the
// whitelist bucket, plus a revision counter and last-update time in meta.
type Store struct {
	db    *bbolt.DB
	clock clock.Clock
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
// Missing parent directories are created. clk may be nil.
func New(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create whitelist dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketWhitelist); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clk}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns the persisted domains in sorted order.
func (s *Store) Load() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWhitelist)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Save replaces the persisted list with domains in a single transaction and
// bumps the revision.
func (s *Store) Save(domains []string) error {
	now := s.clock.Now().Unix()
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketWhitelist); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketWhitelist)
		if err != nil {
			return err
		}
		for _, d := range domains {
			if d == "" {
				continue
			}
			if err := b.Put([]byte(d), []byte{1}); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		rev := uint64(0)
		if v := meta.Get(keyRevision); len(v) == 8 {
			rev = binary.BigEndian.Uint64(v)
		}
		vbuf := make([]byte, 8)
		ubuf := make([]byte, 8)
		binary.BigEndian.PutUint64(vbuf, rev+1)
		binary.BigEndian.PutUint64(ubuf, uint64(now))
		if err := meta.Put(keyRevision, vbuf); err != nil {
			return err
		}
		return meta.Put(keyUpdated, ubuf)
	})
}

// Stats reports the stored count, revision and last update time.
func (s *Store) Stats() Stats {
	st := Stats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketWhitelist); b != nil {
			st.Count = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyRevision); len(v) == 8 {
				st.Revision = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}
