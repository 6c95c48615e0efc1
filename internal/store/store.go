// Package store implements the in-memory keyspace: typed values with
// optional per-key expiry, backed by a sharded concurrent map.
//
// The command engine serializes all mutations, so methods here do not
// need cross-key atomicity; the sharded map protects the map structure
// against the concurrent expiry sweep and snapshot dumps.
package store

import (
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/pkg/cmap"
)

type entry struct {
	val *domain.Value
	// expiresAt is a Unix millisecond timestamp; zero means no expiry.
	expiresAt int64
}

// Store is the keyspace.
type Store struct {
	keys *cmap.Map[*entry]

	// now is swappable for tests.
	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		keys: cmap.New[*entry](),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the entry for key if present and unexpired. Expired keys
// are removed lazily here.
func (s *Store) live(key string) (*entry, bool) {
	e, ok := s.keys.Get(key)
	if !ok {
		return nil, false
	}
	if e.expiresAt != 0 && e.expiresAt <= s.now().UnixMilli() {
		s.keys.Delete(key)
		return nil, false
	}
	return e, true
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (*domain.Value, bool) {
	e, ok := s.live(key)
	if !ok {
		return nil, false
	}
	return e.val, true
}

// Kind returns the type of the value under key, or KindNone.
func (s *Store) Kind(key string) domain.ValueKind {
	e, ok := s.live(key)
	if !ok {
		return domain.KindNone
	}
	return e.val.Kind
}

// Exists reports whether key is present and unexpired.
func (s *Store) Exists(key string) bool {
	_, ok := s.live(key)
	return ok
}

// Delete removes key. It reports whether the key was present.
func (s *Store) Delete(key string) bool {
	if _, ok := s.live(key); !ok {
		return false
	}
	return s.keys.Delete(key)
}

// SetString stores a string value. expiresAt of zero clears any expiry.
func (s *Store) SetString(key, val string, expiresAt int64) {
	s.keys.Set(key, &entry{val: domain.NewString(val), expiresAt: expiresAt})
}

// GetString returns the string stored under key.
func (s *Store) GetString(key string) (string, bool, error) {
	e, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	if e.val.Kind != domain.KindString {
		return "", false, domain.ErrWrongType
	}
	return e.val.Str, true, nil
}

// SetExpiry sets the expiry timestamp for an existing key. It reports
// whether the key was present.
func (s *Store) SetExpiry(key string, expiresAt int64) bool {
	e, ok := s.live(key)
	if !ok {
		return false
	}
	s.keys.Set(key, &entry{val: e.val, expiresAt: expiresAt})
	return true
}

// ExpiresAt returns the expiry timestamp for key (zero if none).
func (s *Store) ExpiresAt(key string) (int64, bool) {
	e, ok := s.live(key)
	if !ok {
		return 0, false
	}
	return e.expiresAt, true
}

// Keys returns all live keys matching the glob pattern.
func (s *Store) Keys(pattern string) []string {
	nowMs := s.now().UnixMilli()
	var out []string
	s.keys.Range(func(key string, e *entry) bool {
		if e.expiresAt != 0 && e.expiresAt <= nowMs {
			return true
		}
		if MatchGlob(pattern, key) {
			out = append(out, key)
		}
		return true
	})
	return out
}

// ExpiredKeys returns keys whose expiry has passed. The engine turns
// these into propagated deletions on the master.
func (s *Store) ExpiredKeys() []string {
	nowMs := s.now().UnixMilli()
	var out []string
	s.keys.Range(func(key string, e *entry) bool {
		if e.expiresAt != 0 && e.expiresAt <= nowMs {
			out = append(out, key)
		}
		return true
	})
	return out
}

// Len returns the number of keys, counting not-yet-swept expired ones.
func (s *Store) Len() int {
	return s.keys.Count()
}

// Dump returns a point-in-time copy of all live entries for snapshotting.
func (s *Store) Dump() []domain.KeyDump {
	nowMs := s.now().UnixMilli()
	out := make([]domain.KeyDump, 0, s.keys.Count())
	s.keys.Range(func(key string, e *entry) bool {
		if e.expiresAt != 0 && e.expiresAt <= nowMs {
			return true
		}
		out = append(out, domain.KeyDump{Key: key, ExpiresAt: e.expiresAt, Value: e.val})
		return true
	})
	return out
}

// Restore discards the current contents and loads the given entries.
// Entries already expired at load time are skipped.
func (s *Store) Restore(dump []domain.KeyDump) {
	nowMs := s.now().UnixMilli()
	s.keys.Clear()
	for _, d := range dump {
		if d.ExpiresAt != 0 && d.ExpiresAt <= nowMs {
			continue
		}
		s.keys.Set(d.Key, &entry{val: d.Value, expiresAt: d.ExpiresAt})
	}
}
