package store

import (
	"strings"

	"github.com/yndnr/rivulet-go/internal/core/domain"
)

func (s *Store) streamEntry(key string, create bool) (*entry, error) {
	e, ok := s.live(key)
	if !ok {
		if !create {
			return nil, nil
		}
		e = &entry{val: domain.NewStream()}
		s.keys.Set(key, e)
		return e, nil
	}
	if e.val.Kind != domain.KindStream {
		return nil, domain.ErrWrongType
	}
	return e, nil
}

// XAdd appends an entry to the stream under key, creating the stream if
// absent. idSpec is "*", "<ms>-*" or an explicit "<ms>-<seq>"; the
// resolved ID is returned. IDs must be strictly greater than the stream's
// current top entry, and 0-0 is reserved.
func (s *Store) XAdd(key, idSpec string, fields []string) (domain.StreamID, error) {
	e, err := s.streamEntry(key, true)
	if err != nil {
		return domain.StreamID{}, err
	}
	st := e.val.Stream

	id, err := resolveStreamID(idSpec, st.LastID, s.nowMs())
	if err != nil {
		return domain.StreamID{}, err
	}
	if id.IsZero() {
		return domain.StreamID{}, domain.ErrStreamIDZero
	}
	if id.Compare(st.LastID) <= 0 && !st.LastID.IsZero() {
		return domain.StreamID{}, domain.ErrStreamIDTooSmall
	}

	st.Append(domain.StreamEntry{ID: id, Fields: append([]string(nil), fields...)})
	return id, nil
}

func (s *Store) nowMs() uint64 {
	return uint64(s.now().UnixMilli())
}

// resolveStreamID turns an XADD ID spec into a concrete ID.
func resolveStreamID(spec string, last domain.StreamID, nowMs uint64) (domain.StreamID, error) {
	if spec == "*" {
		if nowMs == last.Ms {
			return domain.StreamID{Ms: nowMs, Seq: last.Seq + 1}, nil
		}
		if nowMs < last.Ms {
			// Clock went backwards; keep IDs monotonic.
			return domain.StreamID{Ms: last.Ms, Seq: last.Seq + 1}, nil
		}
		return domain.StreamID{Ms: nowMs}, nil
	}

	if ms, ok := strings.CutSuffix(spec, "-*"); ok {
		id, err := domain.ParseStreamID(ms)
		if err != nil {
			return domain.StreamID{}, domain.ErrInvalidStreamID
		}
		if id.Ms == last.Ms {
			return domain.StreamID{Ms: id.Ms, Seq: last.Seq + 1}, nil
		}
		seq := uint64(0)
		if id.Ms == 0 {
			// 0-0 is reserved, so auto-sequencing in ms 0 starts at 1.
			seq = 1
		}
		return domain.StreamID{Ms: id.Ms, Seq: seq}, nil
	}

	id, err := domain.ParseStreamID(spec)
	if err != nil {
		return domain.StreamID{}, domain.ErrInvalidStreamID
	}
	return id, nil
}

// XRange returns entries with start <= ID <= end.
func (s *Store) XRange(key string, start, end domain.StreamID) ([]domain.StreamEntry, error) {
	e, err := s.streamEntry(key, false)
	if err != nil || e == nil {
		return nil, err
	}
	return e.val.Stream.EntriesRange(start, end), nil
}

// XAfter returns entries with ID strictly greater than after.
func (s *Store) XAfter(key string, after domain.StreamID) ([]domain.StreamEntry, error) {
	e, err := s.streamEntry(key, false)
	if err != nil || e == nil {
		return nil, err
	}
	return e.val.Stream.EntriesAfter(after), nil
}

// XLastID returns the ID of the newest entry in the stream under key,
// or the zero ID when the stream is missing or empty.
func (s *Store) XLastID(key string) (domain.StreamID, error) {
	e, err := s.streamEntry(key, false)
	if err != nil || e == nil {
		return domain.StreamID{}, err
	}
	return e.val.Stream.LastID, nil
}
