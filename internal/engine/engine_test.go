package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/store"
	"github.com/yndnr/rivulet-go/internal/telemetry/logger"
	"github.com/yndnr/rivulet-go/internal/telemetry/metric"
)

// testClock is a settable time source shared by the engine and its store.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	st := store.New(store.WithClock(clock.Now))
	e := New(Config{Dir: t.TempDir(), DBFilename: "dump.rvdb"}, st, logger.Default(), nil)
	e.now = clock.Now
	return e, clock
}

func newTestReplicaEngine(t *testing.T) *Engine {
	t.Helper()
	st := store.New()
	return New(Config{ReplicaOf: "127.0.0.1:6379", Dir: t.TempDir(), DBFilename: "dump.rvdb"}, st, logger.Default(), nil)
}

func cmdArgs(args ...string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}

func dispatch(e *Engine, sess *Session, args ...string) protocol.Value {
	return e.Dispatch(context.Background(), sess, cmdArgs(args...)).Reply
}

func wantSimple(t *testing.T, v protocol.Value, want string) {
	t.Helper()
	if v.Kind != protocol.KindSimple || v.Str != want {
		t.Errorf("reply = %+v, want +%s", v, want)
	}
}

func wantBulk(t *testing.T, v protocol.Value, want string) {
	t.Helper()
	if v.Kind != protocol.KindBulk || string(v.Bytes) != want {
		t.Errorf("reply = %+v, want $%s", v, want)
	}
}

func wantNullBulk(t *testing.T, v protocol.Value) {
	t.Helper()
	if v.Kind != protocol.KindNullBulk {
		t.Errorf("reply = %+v, want null bulk", v)
	}
}

func wantInt(t *testing.T, v protocol.Value, want int64) {
	t.Helper()
	if v.Kind != protocol.KindInteger || v.Int != want {
		t.Errorf("reply = %+v, want :%d", v, want)
	}
}

func wantErrPrefix(t *testing.T, v protocol.Value, prefix string) {
	t.Helper()
	if v.Kind != protocol.KindError || !strings.HasPrefix(v.Str, prefix) {
		t.Errorf("reply = %+v, want error with prefix %q", v, prefix)
	}
}

func TestDispatch_PingEcho(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	wantSimple(t, dispatch(e, sess, "PING"), "PONG")
	wantBulk(t, dispatch(e, sess, "PING", "hello"), "hello")
	wantBulk(t, dispatch(e, sess, "ECHO", "hey"), "hey")
}

func TestDispatch_UnknownCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	v := dispatch(e, sess, "FROBNICATE", "x")
	wantErrPrefix(t, v, "ERR unknown command 'FROBNICATE'")
}

func TestDispatch_UnknownCommandMetricLabel(t *testing.T) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	st := store.New(store.WithClock(clock.Now))
	metrics := metric.NewRegistry()
	e := New(Config{Dir: t.TempDir(), DBFilename: "dump.rvdb"}, st, logger.Default(), metrics)
	e.now = clock.Now
	sess := e.NewSession("test")

	dispatch(e, sess, "PING")
	dispatch(e, sess, "FROBNICATE", "x")
	dispatch(e, sess, "GRAULT")

	// Client-supplied names must not become label values; unknown
	// commands share one bucket.
	if got := testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("UNKNOWN")); got != 2 {
		t.Errorf("UNKNOWN command count = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(metrics.CommandsTotal); n != 2 {
		t.Errorf("CommandsTotal has %d label values, want 2 (PING and UNKNOWN)", n)
	}
}

func TestDispatch_Arity(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	tests := [][]string{
		{"GET"},
		{"GET", "a", "b"},
		{"SET", "k"},
		{"ECHO"},
		{"HSET", "h", "f"},
		{"XADD", "s", "*"},
	}
	for _, args := range tests {
		v := dispatch(e, sess, args...)
		wantErrPrefix(t, v, "ERR wrong number of arguments")
	}
}

func TestDispatch_CaseInsensitive(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	wantSimple(t, dispatch(e, sess, "set", "k", "v"), "OK")
	wantBulk(t, dispatch(e, sess, "GeT", "k"), "v")
}

func TestSetGet(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	wantSimple(t, dispatch(e, sess, "SET", "k", "v"), "OK")
	wantBulk(t, dispatch(e, sess, "GET", "k"), "v")
	wantNullBulk(t, dispatch(e, sess, "GET", "missing"))
}

func TestSet_Expiry(t *testing.T) {
	e, clock := newTestEngine(t)
	sess := e.NewSession("test")

	wantSimple(t, dispatch(e, sess, "SET", "k", "v", "PX", "100"), "OK")
	wantBulk(t, dispatch(e, sess, "GET", "k"), "v")

	clock.Advance(101 * time.Millisecond)
	wantNullBulk(t, dispatch(e, sess, "GET", "k"))

	wantSimple(t, dispatch(e, sess, "SET", "k2", "v", "EX", "10"), "OK")
	wantInt(t, dispatch(e, sess, "TTL", "k2"), 10)

	clock.Advance(4 * time.Second)
	wantInt(t, dispatch(e, sess, "TTL", "k2"), 6)
}

func TestSet_ConditionalOptions(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	// NX succeeds only when the key is absent.
	wantSimple(t, dispatch(e, sess, "SET", "k", "v1", "NX"), "OK")
	wantNullBulk(t, dispatch(e, sess, "SET", "k", "v2", "NX"))
	wantBulk(t, dispatch(e, sess, "GET", "k"), "v1")

	// XX succeeds only when the key exists.
	wantNullBulk(t, dispatch(e, sess, "SET", "other", "v", "XX"))
	wantSimple(t, dispatch(e, sess, "SET", "k", "v3", "XX"), "OK")
	wantBulk(t, dispatch(e, sess, "GET", "k"), "v3")

	wantErrPrefix(t, dispatch(e, sess, "SET", "k", "v", "NX", "XX"), "ERR")
	wantErrPrefix(t, dispatch(e, sess, "SET", "k", "v", "EX", "0"), "ERR")
	wantErrPrefix(t, dispatch(e, sess, "SET", "k", "v", "BOGUS"), "ERR")
}

func TestIncr(t *testing.T) {
	e, clock := newTestEngine(t)
	sess := e.NewSession("test")

	wantInt(t, dispatch(e, sess, "INCR", "n"), 1)
	wantInt(t, dispatch(e, sess, "INCR", "n"), 2)

	dispatch(e, sess, "SET", "s", "not-a-number")
	wantErrPrefix(t, dispatch(e, sess, "INCR", "s"), "ERR value is not an integer")

	// INCR keeps an existing expiry.
	dispatch(e, sess, "SET", "exp", "5", "EX", "100")
	wantInt(t, dispatch(e, sess, "INCR", "exp"), 6)
	clock.Advance(time.Second)
	if v := dispatch(e, sess, "TTL", "exp"); v.Int <= 0 {
		t.Errorf("TTL after INCR = %d, expiry was lost", v.Int)
	}
}

func TestDelExistsType(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "a", "1")
	dispatch(e, sess, "SET", "b", "2")
	dispatch(e, sess, "RPUSH", "l", "x")

	wantInt(t, dispatch(e, sess, "EXISTS", "a", "b", "missing"), 2)
	wantSimple(t, dispatch(e, sess, "TYPE", "a"), "string")
	wantSimple(t, dispatch(e, sess, "TYPE", "l"), "list")
	wantSimple(t, dispatch(e, sess, "TYPE", "missing"), "none")

	wantInt(t, dispatch(e, sess, "DEL", "a", "missing", "b"), 2)
	wantInt(t, dispatch(e, sess, "EXISTS", "a", "b"), 0)
}

func TestExpireTTL(t *testing.T) {
	e, clock := newTestEngine(t)
	sess := e.NewSession("test")

	wantInt(t, dispatch(e, sess, "TTL", "missing"), -2)

	dispatch(e, sess, "SET", "k", "v")
	wantInt(t, dispatch(e, sess, "TTL", "k"), -1)

	wantInt(t, dispatch(e, sess, "EXPIRE", "k", "5"), 1)
	wantInt(t, dispatch(e, sess, "TTL", "k"), 5)

	clock.Advance(6 * time.Second)
	wantInt(t, dispatch(e, sess, "TTL", "k"), -2)

	wantInt(t, dispatch(e, sess, "EXPIRE", "missing", "5"), 0)

	// Non-positive seconds delete immediately.
	dispatch(e, sess, "SET", "k2", "v")
	wantInt(t, dispatch(e, sess, "EXPIRE", "k2", "0"), 1)
	wantInt(t, dispatch(e, sess, "EXISTS", "k2"), 0)
}

func TestWrongTypeReply(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "RPUSH", "l", "x")
	wantErrPrefix(t, dispatch(e, sess, "GET", "l"), "WRONGTYPE")
	wantErrPrefix(t, dispatch(e, sess, "INCR", "l"), "WRONGTYPE")

	dispatch(e, sess, "SET", "s", "v")
	wantErrPrefix(t, dispatch(e, sess, "LPUSH", "s", "x"), "WRONGTYPE")
	wantErrPrefix(t, dispatch(e, sess, "HSET", "s", "f", "v"), "WRONGTYPE")
}

func TestLists(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	wantInt(t, dispatch(e, sess, "RPUSH", "l", "a", "b"), 2)
	wantInt(t, dispatch(e, sess, "LPUSH", "l", "z"), 3)
	wantInt(t, dispatch(e, sess, "LLEN", "l"), 3)

	v := dispatch(e, sess, "LRANGE", "l", "0", "-1")
	if v.Kind != protocol.KindArray || len(v.Elems) != 3 || string(v.Elems[0].Bytes) != "z" {
		t.Fatalf("LRANGE = %+v", v)
	}

	wantBulk(t, dispatch(e, sess, "LPOP", "l"), "z")

	v = dispatch(e, sess, "LPOP", "l", "5")
	if v.Kind != protocol.KindArray || len(v.Elems) != 2 {
		t.Fatalf("LPOP count = %+v", v)
	}

	wantNullBulk(t, dispatch(e, sess, "LPOP", "l"))
	wantErrPrefix(t, dispatch(e, sess, "LPOP", "l", "-1"), "ERR")
}

func TestHashes(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	wantInt(t, dispatch(e, sess, "HSET", "h", "f1", "v1", "f2", "v2"), 2)
	wantBulk(t, dispatch(e, sess, "HGET", "h", "f1"), "v1")
	wantNullBulk(t, dispatch(e, sess, "HGET", "h", "missing"))

	v := dispatch(e, sess, "HGETALL", "h")
	if v.Kind != protocol.KindArray || len(v.Elems) != 4 {
		t.Fatalf("HGETALL = %+v, want 4 flat elements", v)
	}

	wantInt(t, dispatch(e, sess, "HDEL", "h", "f1", "missing"), 1)
	wantErrPrefix(t, dispatch(e, sess, "HSET", "h", "odd"), "ERR wrong number")
}

func TestStreams(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	wantBulk(t, dispatch(e, sess, "XADD", "st", "1-1", "k", "v"), "1-1")
	wantBulk(t, dispatch(e, sess, "XADD", "st", "1-*", "k", "v"), "1-2")

	wantErrPrefix(t, dispatch(e, sess, "XADD", "st", "0-0", "k", "v"), "ERR")
	wantErrPrefix(t, dispatch(e, sess, "XADD", "st", "1-1", "k", "v"), "ERR")

	v := dispatch(e, sess, "XRANGE", "st", "-", "+")
	if v.Kind != protocol.KindArray || len(v.Elems) != 2 {
		t.Fatalf("XRANGE = %+v, want 2 entries", v)
	}

	v = dispatch(e, sess, "XRANGE", "st", "-", "+", "COUNT", "1")
	if len(v.Elems) != 1 {
		t.Errorf("XRANGE COUNT 1 = %d entries", len(v.Elems))
	}

	v = dispatch(e, sess, "XREAD", "STREAMS", "st", "1-1")
	if v.Kind != protocol.KindArray || len(v.Elems) != 1 {
		t.Fatalf("XREAD = %+v", v)
	}
	if v2 := dispatch(e, sess, "XREAD", "STREAMS", "st", "1-2"); v2.Kind != protocol.KindNullArray {
		t.Errorf("XREAD past tail = %+v, want null array", v2)
	}

	wantErrPrefix(t, dispatch(e, sess, "XREAD", "STREAMS", "st"), "ERR Unbalanced")
}

func TestKeysPattern(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "user:1", "a")
	dispatch(e, sess, "SET", "user:2", "b")
	dispatch(e, sess, "SET", "order:1", "c")

	v := dispatch(e, sess, "KEYS", "user:*")
	if v.Kind != protocol.KindArray || len(v.Elems) != 2 {
		t.Errorf("KEYS user:* = %+v", v)
	}
}

func TestConfigGetSet(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	v := dispatch(e, sess, "CONFIG", "GET", "dbfilename")
	if v.Kind != protocol.KindArray || len(v.Elems) != 2 ||
		string(v.Elems[0].Bytes) != "dbfilename" || string(v.Elems[1].Bytes) != "dump.rvdb" {
		t.Fatalf("CONFIG GET dbfilename = %+v", v)
	}

	wantSimple(t, dispatch(e, sess, "CONFIG", "SET", "dbfilename", "other.rvdb"), "OK")
	v = dispatch(e, sess, "CONFIG", "GET", "dbfilename")
	if string(v.Elems[1].Bytes) != "other.rvdb" {
		t.Errorf("CONFIG GET after SET = %+v", v)
	}

	// Glob parameter matching returns every hit as a name-value pair.
	v = dispatch(e, sess, "CONFIG", "GET", "*")
	if v.Kind != protocol.KindArray || len(v.Elems) < 4 {
		t.Errorf("CONFIG GET * = %+v", v)
	}
}

func TestInfo(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	v := dispatch(e, sess, "INFO")
	if v.Kind != protocol.KindBulk {
		t.Fatalf("INFO = %+v, want bulk", v)
	}
	body := string(v.Bytes)
	if !strings.Contains(body, "role:master") {
		t.Errorf("INFO missing role:master:\n%s", body)
	}
	if !strings.Contains(body, "master_replid:") || !strings.Contains(body, "master_repl_offset:0") {
		t.Errorf("INFO missing replication fields:\n%s", body)
	}
}

func TestInfo_Replica(t *testing.T) {
	e := newTestReplicaEngine(t)
	sess := e.NewSession("test")

	v := dispatch(e, sess, "INFO", "replication")
	if !strings.Contains(string(v.Bytes), "role:slave") {
		t.Errorf("INFO on replica missing role:slave:\n%s", v.Bytes)
	}
}

func TestPropagation_OffsetAdvancesOnWrites(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "k", "v")
	want := int64(len(protocol.EncodeCommandStrings("SET", "k", "v")))
	if got := e.Master().Offset(); got != want {
		t.Errorf("offset after SET = %d, want %d", got, want)
	}

	// Reads never advance the offset.
	dispatch(e, sess, "GET", "k")
	dispatch(e, sess, "LRANGE", "missing", "0", "-1")
	if got := e.Master().Offset(); got != want {
		t.Errorf("offset after reads = %d, want %d", got, want)
	}
}

func TestPropagation_SuppressedForNoopWrites(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "k", "v")
	before := e.Master().Offset()

	// None of these mutate anything, so none may reach replicas.
	dispatch(e, sess, "SET", "k", "v2", "NX")
	dispatch(e, sess, "DEL", "missing")
	dispatch(e, sess, "LPOP", "missing")
	dispatch(e, sess, "EXPIRE", "missing", "10")
	dispatch(e, sess, "HDEL", "missing", "f")

	if got := e.Master().Offset(); got != before {
		t.Errorf("offset moved by no-op writes: %d -> %d", before, got)
	}
}

func TestPropagation_XAddResolvedID(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	v := dispatch(e, sess, "XADD", "st", "*", "k", "v")
	if v.Kind != protocol.KindBulk {
		t.Fatalf("XADD = %+v", v)
	}
	id := string(v.Bytes)

	// The propagated frame carries the resolved ID, not "*".
	want := int64(len(protocol.EncodeCommandStrings("XADD", "st", id, "k", "v")))
	if got := e.Master().Offset(); got != want {
		t.Errorf("offset after XADD * = %d, want %d (resolved id %s)", got, want, id)
	}
}

func TestPropagation_FailedWriteNotPropagated(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "RPUSH", "l", "x")
	before := e.Master().Offset()

	wantErrPrefix(t, dispatch(e, sess, "SET", "l", "v", "BOGUS"), "ERR")
	wantErrPrefix(t, dispatch(e, sess, "INCR", "l"), "WRONGTYPE")

	if got := e.Master().Offset(); got != before {
		t.Errorf("offset moved by failed writes: %d -> %d", before, got)
	}
}

func TestReplica_RejectsClientWrites(t *testing.T) {
	e := newTestReplicaEngine(t)
	sess := e.NewSession("test")

	wantErrPrefix(t, dispatch(e, sess, "SET", "k", "v"), "READONLY")
	wantErrPrefix(t, dispatch(e, sess, "DEL", "k"), "READONLY")
	wantErrPrefix(t, dispatch(e, sess, "XADD", "st", "*", "k", "v"), "READONLY")

	// Reads still work.
	wantNullBulk(t, dispatch(e, sess, "GET", "k"))
}

func TestReplica_WaitRejected(t *testing.T) {
	e := newTestReplicaEngine(t)
	sess := e.NewSession("test")

	wantErrPrefix(t, dispatch(e, sess, "WAIT", "1", "100"), "ERR WAIT cannot be used")
}

func TestApplyFromMaster(t *testing.T) {
	e := newTestReplicaEngine(t)

	if err := e.ApplyFromMaster(cmdArgs("SET", "k", "v")); err != nil {
		t.Fatalf("ApplyFromMaster(SET) error = %v", err)
	}

	sess := e.NewSession("test")
	wantBulk(t, dispatch(e, sess, "GET", "k"), "v")

	if err := e.ApplyFromMaster(cmdArgs("DEL", "k")); err != nil {
		t.Fatalf("ApplyFromMaster(DEL) error = %v", err)
	}
	wantNullBulk(t, dispatch(e, sess, "GET", "k"))

	if err := e.ApplyFromMaster(cmdArgs("NOSUCH")); err == nil {
		t.Error("ApplyFromMaster(NOSUCH) should fail")
	}
}

func TestExpirySweep_PropagatesDeletes(t *testing.T) {
	e, clock := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "gone", "v", "PX", "10")
	dispatch(e, sess, "SET", "stays", "v")
	before := e.Master().Offset()

	clock.Advance(20 * time.Millisecond)
	e.sweepExpired()

	wantInt(t, dispatch(e, sess, "EXISTS", "gone"), 0)
	wantInt(t, dispatch(e, sess, "EXISTS", "stays"), 1)

	want := before + int64(len(protocol.EncodeCommandStrings("DEL", "gone")))
	if got := e.Master().Offset(); got != want {
		t.Errorf("offset after sweep = %d, want %d (DEL propagated)", got, want)
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	e, clock := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "k", "v")
	dispatch(e, sess, "RPUSH", "l", "a", "b")
	if err := e.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	// A fresh engine pointed at the same dir restores the keyspace.
	st := store.New(store.WithClock(clock.Now))
	dir, _ := e.Param("dir")
	e2 := New(Config{Dir: dir, DBFilename: "dump.rvdb"}, st, logger.Default(), nil)
	e2.now = clock.Now
	if err := e2.LoadSnapshotFile(); err != nil {
		t.Fatalf("LoadSnapshotFile() error = %v", err)
	}

	sess2 := e2.NewSession("test")
	wantBulk(t, dispatch(e2, sess2, "GET", "k"), "v")
	wantInt(t, dispatch(e2, sess2, "LLEN", "l"), 2)
}

func TestSaveSnapshot_DuringWrites(t *testing.T) {
	e, _ := newTestEngine(t)

	// Values are encoded under the execution lock, so in-place hash and
	// list mutations on other connections cannot race the encoder.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess := e.NewSession("writer")
		for i := 0; i < 200; i++ {
			n := strconv.Itoa(i)
			dispatch(e, sess, "HSET", "h", "f"+n, n)
			dispatch(e, sess, "RPUSH", "l", n)
		}
	}()

	for i := 0; i < 20; i++ {
		if err := e.SaveSnapshot(); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}
	<-done

	if err := e.SaveSnapshot(); err != nil {
		t.Fatalf("final SaveSnapshot() error = %v", err)
	}
	if err := e.LoadSnapshotFile(); err != nil {
		t.Fatalf("LoadSnapshotFile() error = %v", err)
	}
	sess := e.NewSession("test")
	wantInt(t, dispatch(e, sess, "LLEN", "l"), 200)
}

func TestLoadSnapshotFile_Missing(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.LoadSnapshotFile(); err != nil {
		t.Errorf("LoadSnapshotFile() with no file = %v, want nil", err)
	}
}

func TestSaveCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "k", "v")
	wantSimple(t, dispatch(e, sess, "SAVE"), "OK")

	if err := e.LoadSnapshotFile(); err != nil {
		t.Errorf("snapshot written by SAVE failed to load: %v", err)
	}
}

func TestSubscriberMode(t *testing.T) {
	e, _ := newTestEngine(t)
	pub := e.NewSession("pub")
	sub := e.NewSession("sub")
	defer e.CloseSession(sub)

	v := dispatch(e, sub, "SUBSCRIBE", "news", "sport")
	if v.Kind != protocol.KindRaw {
		t.Fatalf("SUBSCRIBE reply kind = %v, want raw", v.Kind)
	}
	if !strings.Contains(string(v.Bytes), "subscribe") {
		t.Errorf("SUBSCRIBE frames = %q", v.Bytes)
	}

	// Subscriber mode only allows the subscription commands and PING.
	wantErrPrefix(t, dispatch(e, sub, "GET", "k"), "ERR")
	if v := dispatch(e, sub, "PING"); v.Kind != protocol.KindArray {
		t.Errorf("PING in subscriber mode = %+v, want array form", v)
	}

	// Publishing from another session reports the delivery count and
	// lands on the subscriber's channel.
	wantInt(t, dispatch(e, pub, "PUBLISH", "news", "hello"), 1)
	wantInt(t, dispatch(e, pub, "PUBLISH", "nobody", "x"), 0)

	select {
	case msg := <-sub.Sub.C():
		if msg.Channel != "news" || msg.Payload != "hello" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("published message not delivered")
	}

	// Unsubscribing from everything restores normal dispatch.
	dispatch(e, sub, "UNSUBSCRIBE")
	wantNullBulk(t, dispatch(e, sub, "GET", "k"))
}

func TestDispatch_EmptyCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	res := e.Dispatch(context.Background(), sess, nil)
	if res.Reply.Kind != protocol.KindError {
		t.Errorf("empty command reply = %+v, want error", res.Reply)
	}
}

func TestPsync_Handoff(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "k", "v")

	res := e.Dispatch(context.Background(), sess, cmdArgs("PSYNC", "?", "-1"))
	if res.Handoff == nil {
		t.Fatal("PSYNC did not produce a handoff")
	}
	defer e.Master().Deregister(res.Handoff)

	if e.Master().ReplicaCount() != 1 {
		t.Errorf("ReplicaCount() = %d, want 1", e.Master().ReplicaCount())
	}
}

func TestWait_NoReplicas(t *testing.T) {
	e, _ := newTestEngine(t)
	sess := e.NewSession("test")

	dispatch(e, sess, "SET", "k", "v")

	// Zero required replicas is satisfied immediately.
	wantInt(t, dispatch(e, sess, "WAIT", "0", "100"), 0)

	// One required replica with none attached runs into the timeout.
	start := time.Now()
	wantInt(t, dispatch(e, sess, "WAIT", "1", "50"), 0)
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("WAIT returned after %v, want it to honor the timeout", elapsed)
	}
}

func TestSessionIDs_Unique(t *testing.T) {
	e, _ := newTestEngine(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := e.NewSession("addr" + strconv.Itoa(i))
		if seen[s.ID] {
			t.Fatalf("duplicate session ID %s", s.ID)
		}
		seen[s.ID] = true
	}
}
