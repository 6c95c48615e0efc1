package store

import (
	"github.com/yndnr/rivulet-go/internal/core/domain"
)

func (s *Store) hashEntry(key string, create bool) (*entry, error) {
	e, ok := s.live(key)
	if !ok {
		if !create {
			return nil, nil
		}
		e = &entry{val: domain.NewHash()}
		s.keys.Set(key, e)
		return e, nil
	}
	if e.val.Kind != domain.KindHash {
		return nil, domain.ErrWrongType
	}
	return e, nil
}

// HSet sets field-value pairs on the hash under key, creating it if
// absent. It returns the number of newly created fields.
func (s *Store) HSet(key string, pairs ...string) (int, error) {
	e, err := s.hashEntry(key, true)
	if err != nil {
		return 0, err
	}
	created := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, ok := e.val.Hash[pairs[i]]; !ok {
			created++
		}
		e.val.Hash[pairs[i]] = pairs[i+1]
	}
	return created, nil
}

// HGet returns the value of field in the hash under key.
func (s *Store) HGet(key, field string) (string, bool, error) {
	e, err := s.hashEntry(key, false)
	if err != nil || e == nil {
		return "", false, err
	}
	v, ok := e.val.Hash[field]
	return v, ok, nil
}

// HGetAll returns all field-value pairs of the hash under key.
func (s *Store) HGetAll(key string) (map[string]string, error) {
	e, err := s.hashEntry(key, false)
	if err != nil || e == nil {
		return nil, err
	}
	out := make(map[string]string, len(e.val.Hash))
	for k, v := range e.val.Hash {
		out[k] = v
	}
	return out, nil
}

// HDel deletes fields from the hash under key, returning the number
// removed. The key is dropped once the hash is empty.
func (s *Store) HDel(key string, fields ...string) (int, error) {
	e, err := s.hashEntry(key, false)
	if err != nil || e == nil {
		return 0, err
	}
	removed := 0
	for _, f := range fields {
		if _, ok := e.val.Hash[f]; ok {
			delete(e.val.Hash, f)
			removed++
		}
	}
	if len(e.val.Hash) == 0 {
		s.keys.Delete(key)
	}
	return removed, nil
}
