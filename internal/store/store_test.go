package store

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
)

// fakeClock is a settable time source for expiry tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(WithClock(clock.Now)), clock
}

func TestStore_SetGet(t *testing.T) {
	s, _ := newTestStore()

	s.SetString("foo", "bar", 0)

	got, ok, err := s.GetString("foo")
	if err != nil {
		t.Fatalf("GetString() error = %v", err)
	}
	if !ok || got != "bar" {
		t.Errorf("GetString() = %q, %v, want %q, true", got, ok, "bar")
	}

	if _, ok, _ := s.GetString("missing"); ok {
		t.Error("GetString(missing) should report absent")
	}
}

func TestStore_Overwrite(t *testing.T) {
	s, _ := newTestStore()

	s.SetString("k", "v1", 0)
	s.SetString("k", "v2", 0)

	got, _, _ := s.GetString("k")
	if got != "v2" {
		t.Errorf("GetString() = %q, want %q", got, "v2")
	}
}

func TestStore_WrongType(t *testing.T) {
	s, _ := newTestStore()

	if _, err := s.LPush("list", "a"); err != nil {
		t.Fatalf("LPush() error = %v", err)
	}

	_, _, err := s.GetString("list")
	if !errors.Is(err, domain.ErrWrongType) {
		t.Errorf("GetString(list) error = %v, want ErrWrongType", err)
	}

	s.SetString("str", "v", 0)
	if _, err := s.RPush("str", "a"); !errors.Is(err, domain.ErrWrongType) {
		t.Errorf("RPush(str) error = %v, want ErrWrongType", err)
	}
}

func TestStore_Expiry(t *testing.T) {
	s, clock := newTestStore()

	expiresAt := clock.Now().Add(100 * time.Millisecond).UnixMilli()
	s.SetString("k", "v", expiresAt)

	if !s.Exists("k") {
		t.Fatal("key should exist before expiry")
	}

	clock.Advance(101 * time.Millisecond)

	if s.Exists("k") {
		t.Error("key should be gone after expiry")
	}
	if _, ok, _ := s.GetString("k"); ok {
		t.Error("GetString() should report absent after expiry")
	}
}

func TestStore_OverwriteClearsExpiry(t *testing.T) {
	s, clock := newTestStore()

	s.SetString("k", "v1", clock.Now().Add(50*time.Millisecond).UnixMilli())
	s.SetString("k", "v2", 0)

	clock.Advance(time.Second)

	got, ok, _ := s.GetString("k")
	if !ok || got != "v2" {
		t.Errorf("GetString() = %q, %v; overwrite should clear expiry", got, ok)
	}
}

func TestStore_SetExpiry(t *testing.T) {
	s, clock := newTestStore()

	s.SetString("k", "v", 0)

	if !s.SetExpiry("k", clock.Now().Add(time.Second).UnixMilli()) {
		t.Fatal("SetExpiry() should report existing key")
	}
	if s.SetExpiry("missing", clock.Now().UnixMilli()) {
		t.Error("SetExpiry(missing) should report false")
	}

	clock.Advance(2 * time.Second)
	if s.Exists("k") {
		t.Error("key should be gone after SetExpiry deadline")
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore()

	s.SetString("k", "v", 0)

	if !s.Delete("k") {
		t.Error("Delete() should report true for existing key")
	}
	if s.Delete("k") {
		t.Error("Delete() should report false for missing key")
	}
}

func TestStore_Kind(t *testing.T) {
	s, _ := newTestStore()

	s.SetString("s", "v", 0)
	s.LPush("l", "a")
	s.HSet("h", "f", "v")
	s.XAdd("x", "1-1", []string{"f", "v"})

	tests := []struct {
		key  string
		want domain.ValueKind
	}{
		{"s", domain.KindString},
		{"l", domain.KindList},
		{"h", domain.KindHash},
		{"x", domain.KindStream},
		{"missing", domain.KindNone},
	}
	for _, tt := range tests {
		if got := s.Kind(tt.key); got != tt.want {
			t.Errorf("Kind(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestStore_Keys(t *testing.T) {
	s, clock := newTestStore()

	s.SetString("user:1", "a", 0)
	s.SetString("user:2", "b", 0)
	s.SetString("order:1", "c", 0)
	s.SetString("gone", "d", clock.Now().Add(time.Millisecond).UnixMilli())
	clock.Advance(10 * time.Millisecond)

	got := s.Keys("user:*")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "user:1" || got[1] != "user:2" {
		t.Errorf("Keys(user:*) = %v", got)
	}

	if all := s.Keys("*"); len(all) != 3 {
		t.Errorf("Keys(*) = %v, want 3 live keys", all)
	}
}

func TestStore_ExpiredKeys(t *testing.T) {
	s, clock := newTestStore()

	s.SetString("a", "1", clock.Now().Add(time.Millisecond).UnixMilli())
	s.SetString("b", "2", 0)
	clock.Advance(10 * time.Millisecond)

	got := s.ExpiredKeys()
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("ExpiredKeys() = %v, want [a]", got)
	}
}

func TestStore_DumpRestore(t *testing.T) {
	s, clock := newTestStore()

	s.SetString("str", "v", 0)
	s.RPush("list", "a", "b")
	s.HSet("hash", "f1", "v1", "f2", "v2")
	s.XAdd("stream", "5-1", []string{"k", "v"})
	s.SetString("expiring", "x", clock.Now().Add(time.Hour).UnixMilli())

	dump := s.Dump()
	if len(dump) != 5 {
		t.Fatalf("Dump() len = %d, want 5", len(dump))
	}

	dst := New(WithClock(clock.Now))
	dst.Restore(dump)

	if got, _, _ := dst.GetString("str"); got != "v" {
		t.Errorf("restored str = %q", got)
	}
	if elems, _ := dst.LRange("list", 0, -1); len(elems) != 2 || elems[0] != "a" {
		t.Errorf("restored list = %v", elems)
	}
	if fields, _ := dst.HGetAll("hash"); len(fields) != 2 || fields["f2"] != "v2" {
		t.Errorf("restored hash = %v", fields)
	}
	if id, _ := dst.XLastID("stream"); id.String() != "5-1" {
		t.Errorf("restored stream last ID = %s", id)
	}
	if exp, ok := dst.ExpiresAt("expiring"); !ok || exp == 0 {
		t.Errorf("restored expiry = %d, %v", exp, ok)
	}
}

func TestStore_RestoreSkipsExpired(t *testing.T) {
	s, clock := newTestStore()

	s.SetString("soon", "v", clock.Now().Add(time.Millisecond).UnixMilli())
	dump := s.Dump()

	clock.Advance(time.Second)

	dst := New(WithClock(clock.Now))
	dst.Restore(dump)
	if dst.Exists("soon") {
		t.Error("Restore() should skip entries already expired")
	}
}

func TestList_PushPop(t *testing.T) {
	s, _ := newTestStore()

	if n, _ := s.RPush("l", "a", "b"); n != 2 {
		t.Errorf("RPush() = %d, want 2", n)
	}
	if n, _ := s.LPush("l", "z"); n != 3 {
		t.Errorf("LPush() = %d, want 3", n)
	}

	elems, err := s.LRange("l", 0, -1)
	if err != nil {
		t.Fatalf("LRange() error = %v", err)
	}
	want := []string{"z", "a", "b"}
	for i, w := range want {
		if elems[i] != w {
			t.Errorf("LRange()[%d] = %q, want %q", i, elems[i], w)
		}
	}

	popped, err := s.LPop("l", 2)
	if err != nil {
		t.Fatalf("LPop() error = %v", err)
	}
	if len(popped) != 2 || popped[0] != "z" || popped[1] != "a" {
		t.Errorf("LPop() = %v, want [z a]", popped)
	}

	if n, _ := s.LLen("l"); n != 1 {
		t.Errorf("LLen() = %d, want 1", n)
	}
}

func TestList_PopRemovesEmptyKey(t *testing.T) {
	s, _ := newTestStore()

	s.RPush("l", "only")
	s.LPop("l", 1)

	if s.Exists("l") {
		t.Error("empty list should be removed from the keyspace")
	}
}

func TestList_RangeIndexing(t *testing.T) {
	s, _ := newTestStore()
	s.RPush("l", "a", "b", "c", "d", "e")

	tests := []struct {
		name        string
		start, stop int
		want        []string
	}{
		{"negative from end", -2, -1, []string{"d", "e"}},
		{"stop past end", 0, 99, []string{"a", "b", "c", "d", "e"}},
		{"start past stop", 3, 1, nil},
		{"start past end", 10, 20, nil},
		{"middle", 1, 3, []string{"b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LRange("l", tt.start, tt.stop)
			if err != nil {
				t.Fatalf("LRange() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("LRange() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("LRange()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHash_SetGetDel(t *testing.T) {
	s, _ := newTestStore()

	added, err := s.HSet("h", "f1", "v1", "f2", "v2")
	if err != nil {
		t.Fatalf("HSet() error = %v", err)
	}
	if added != 2 {
		t.Errorf("HSet() = %d new fields, want 2", added)
	}

	// Overwriting an existing field counts zero new fields.
	if added, _ := s.HSet("h", "f1", "other"); added != 0 {
		t.Errorf("HSet(existing) = %d, want 0", added)
	}

	got, ok, _ := s.HGet("h", "f1")
	if !ok || got != "other" {
		t.Errorf("HGet() = %q, %v", got, ok)
	}
	if _, ok, _ := s.HGet("h", "missing"); ok {
		t.Error("HGet(missing field) should report absent")
	}

	removed, _ := s.HDel("h", "f1", "nope")
	if removed != 1 {
		t.Errorf("HDel() = %d, want 1", removed)
	}
}

func TestHash_DelRemovesEmptyKey(t *testing.T) {
	s, _ := newTestStore()

	s.HSet("h", "f", "v")
	s.HDel("h", "f")

	if s.Exists("h") {
		t.Error("empty hash should be removed from the keyspace")
	}
}

func TestStream_XAdd(t *testing.T) {
	s, _ := newTestStore()

	id, err := s.XAdd("st", "1-1", []string{"k", "v"})
	if err != nil {
		t.Fatalf("XAdd() error = %v", err)
	}
	if id.String() != "1-1" {
		t.Errorf("XAdd() id = %s, want 1-1", id)
	}

	// Auto-sequence within the same millisecond.
	id, err = s.XAdd("st", "1-*", nil)
	if err != nil {
		t.Fatalf("XAdd(1-*) error = %v", err)
	}
	if id.String() != "1-2" {
		t.Errorf("XAdd(1-*) id = %s, want 1-2", id)
	}
}

func TestStream_XAddRejectsNonMonotonic(t *testing.T) {
	s, _ := newTestStore()

	if _, err := s.XAdd("st", "5-5", nil); err != nil {
		t.Fatalf("XAdd() error = %v", err)
	}

	if _, err := s.XAdd("st", "5-5", nil); !errors.Is(err, domain.ErrStreamIDTooSmall) {
		t.Errorf("XAdd(equal) error = %v, want ErrStreamIDTooSmall", err)
	}
	if _, err := s.XAdd("st", "4-9", nil); !errors.Is(err, domain.ErrStreamIDTooSmall) {
		t.Errorf("XAdd(smaller) error = %v, want ErrStreamIDTooSmall", err)
	}
	if _, err := s.XAdd("st", "0-0", nil); !errors.Is(err, domain.ErrStreamIDZero) {
		t.Errorf("XAdd(0-0) error = %v, want ErrStreamIDZero", err)
	}
}

func TestStream_XAddStar(t *testing.T) {
	s, clock := newTestStore()

	id1, err := s.XAdd("st", "*", nil)
	if err != nil {
		t.Fatalf("XAdd(*) error = %v", err)
	}
	if id1.Ms != uint64(clock.Now().UnixMilli()) {
		t.Errorf("XAdd(*) ms = %d, want %d", id1.Ms, clock.Now().UnixMilli())
	}

	// Same millisecond bumps the sequence.
	id2, _ := s.XAdd("st", "*", nil)
	if id2.Ms != id1.Ms || id2.Seq != id1.Seq+1 {
		t.Errorf("XAdd(*) second id = %s, want seq bump over %s", id2, id1)
	}

	// Clock moving backwards must not break monotonicity.
	clock.Advance(-time.Hour)
	id3, err := s.XAdd("st", "*", nil)
	if err != nil {
		t.Fatalf("XAdd(*) after clock rewind error = %v", err)
	}
	if id3.Compare(id2) <= 0 {
		t.Errorf("XAdd(*) id %s not greater than %s after clock rewind", id3, id2)
	}
}

func TestStream_XRange(t *testing.T) {
	s, _ := newTestStore()

	for i := 1; i <= 5; i++ {
		if _, err := s.XAdd("st", domain.StreamID{Ms: uint64(i), Seq: 1}.String(), []string{"n", "v"}); err != nil {
			t.Fatalf("XAdd() error = %v", err)
		}
	}

	got, err := s.XRange("st", domain.StreamID{Ms: 2}, domain.StreamID{Ms: 4, Seq: 1})
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("XRange() len = %d, want 3", len(got))
	}
	if got[0].ID.Ms != 2 || got[2].ID.Ms != 4 {
		t.Errorf("XRange() bounds = %s..%s", got[0].ID, got[2].ID)
	}
}

func TestStream_XAfter(t *testing.T) {
	s, _ := newTestStore()

	s.XAdd("st", "1-1", nil)
	s.XAdd("st", "2-1", nil)
	s.XAdd("st", "3-1", nil)

	got, err := s.XAfter("st", domain.StreamID{Ms: 1, Seq: 1})
	if err != nil {
		t.Fatalf("XAfter() error = %v", err)
	}
	if len(got) != 2 || got[0].ID.Ms != 2 {
		t.Errorf("XAfter() = %v, want entries after 1-1", got)
	}

	// Missing stream is not an error, just empty.
	got, err = s.XAfter("missing", domain.StreamID{})
	if err != nil || got != nil {
		t.Errorf("XAfter(missing) = %v, %v", got, err)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"user:*", "user:42", true},
		{"user:*", "order:42", false},
		{"*.yaml", "config.yaml", true},
		{"*.yaml", "config.json", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXcYYb", false},
		{"*:*", "a:b", true},
		{"", "", true},
		{"", "x", false},
	}
	for _, tt := range tests {
		if got := MatchGlob(tt.pattern, tt.s); got != tt.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
