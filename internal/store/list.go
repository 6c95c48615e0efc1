package store

import (
	"github.com/yndnr/rivulet-go/internal/core/domain"
)

// listEntry returns the list under key, creating it when create is set.
func (s *Store) listEntry(key string, create bool) (*entry, error) {
	e, ok := s.live(key)
	if !ok {
		if !create {
			return nil, nil
		}
		e = &entry{val: domain.NewList()}
		s.keys.Set(key, e)
		return e, nil
	}
	if e.val.Kind != domain.KindList {
		return nil, domain.ErrWrongType
	}
	return e, nil
}

// LPush prepends elements to the list under key, creating it if absent.
// Elements are inserted head-first, so the last argument ends up first.
func (s *Store) LPush(key string, elems ...string) (int, error) {
	e, err := s.listEntry(key, true)
	if err != nil {
		return 0, err
	}
	for _, el := range elems {
		e.val.List = append([]string{el}, e.val.List...)
	}
	return len(e.val.List), nil
}

// RPush appends elements to the list under key, creating it if absent.
func (s *Store) RPush(key string, elems ...string) (int, error) {
	e, err := s.listEntry(key, true)
	if err != nil {
		return 0, err
	}
	e.val.List = append(e.val.List, elems...)
	return len(e.val.List), nil
}

// LPop removes and returns up to count elements from the head.
// An empty result means the key is missing or the list is empty.
func (s *Store) LPop(key string, count int) ([]string, error) {
	e, err := s.listEntry(key, false)
	if err != nil || e == nil {
		return nil, err
	}
	if count > len(e.val.List) {
		count = len(e.val.List)
	}
	out := append([]string(nil), e.val.List[:count]...)
	e.val.List = e.val.List[count:]
	if len(e.val.List) == 0 {
		s.keys.Delete(key)
	}
	return out, nil
}

// LLen returns the length of the list under key.
func (s *Store) LLen(key string) (int, error) {
	e, err := s.listEntry(key, false)
	if err != nil || e == nil {
		return 0, err
	}
	return len(e.val.List), nil
}

// LRange returns elements between start and stop inclusive, with negative
// indexes counting from the tail.
func (s *Store) LRange(key string, start, stop int) ([]string, error) {
	e, err := s.listEntry(key, false)
	if err != nil || e == nil {
		return nil, err
	}

	n := len(e.val.List)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return append([]string(nil), e.val.List[start:stop+1]...), nil
}
