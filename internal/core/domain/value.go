// Package domain defines the core data model for rivulet: typed values,
// stream entries and the structured error taxonomy shared by the command
// engine and the replication manager.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies the type held under a key.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindString
	KindList
	KindHash
	KindStream
)

// String returns the TYPE command name for the kind.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindHash:
		return "hash"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// Value is a tagged variant over the supported data types.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind
	Str    string
	List   []string
	Hash   map[string]string
	Stream *Stream
}

// NewString returns a string value.
func NewString(s string) *Value {
	return &Value{Kind: KindString, Str: s}
}

// NewList returns a list value.
func NewList(elems ...string) *Value {
	return &Value{Kind: KindList, List: elems}
}

// NewHash returns an empty hash value.
func NewHash() *Value {
	return &Value{Kind: KindHash, Hash: make(map[string]string)}
}

// NewStream returns an empty stream value.
func NewStream() *Value {
	return &Value{Kind: KindStream, Stream: &Stream{}}
}

// KeyDump is one keyspace entry in a snapshot dump: the key, its value
// and its expiry timestamp (Unix milliseconds, zero for none).
type KeyDump struct {
	Key       string
	ExpiresAt int64
	Value     *Value
}

// StreamID is a stream entry identifier: millisecond timestamp plus a
// sequence number that disambiguates entries within one millisecond.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// String formats the ID as "<ms>-<seq>".
func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or 1 ordering id against other.
func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the ID is 0-0.
func (id StreamID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// ParseStreamID parses a fully explicit "<ms>-<seq>" ID. A bare "<ms>"
// is accepted with an implicit sequence of 0.
func ParseStreamID(s string) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")

	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("invalid stream ID %q", s)
	}
	if !hasSeq {
		return StreamID{Ms: ms}, nil
	}

	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("invalid stream ID %q", s)
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// StreamEntry is one appended entry: an ID plus field-value pairs in
// insertion order (flat pairs, field at even indexes).
type StreamEntry struct {
	ID     StreamID
	Fields []string
}

// Stream is an append-only ordered sequence of entries.
// Entry IDs are strictly increasing; LastID tracks the newest entry even
// if entries are later trimmed.
type Stream struct {
	Entries []StreamEntry
	LastID  StreamID
}

// Append adds an entry. The caller is responsible for ID validation.
func (s *Stream) Append(e StreamEntry) {
	s.Entries = append(s.Entries, e)
	s.LastID = e.ID
}

// EntriesAfter returns entries with ID strictly greater than after.
func (s *Stream) EntriesAfter(after StreamID) []StreamEntry {
	// Entries are sorted; binary search would do, but streams here are
	// read far more often near the tail.
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].ID.Compare(after) <= 0 {
			return s.Entries[i+1:]
		}
	}
	return s.Entries
}

// EntriesRange returns entries with start <= ID <= end.
func (s *Stream) EntriesRange(start, end StreamID) []StreamEntry {
	var out []StreamEntry
	for _, e := range s.Entries {
		if e.ID.Compare(start) >= 0 && e.ID.Compare(end) <= 0 {
			out = append(out, e)
		}
	}
	return out
}
