// Package engine implements the command layer: parsing command
// arguments, executing them against the store under a single execution
// lock, client transactions, blocking reads and the replication hooks.
//
// The execution lock is what gives every command its atomicity
// guarantee: value mutation, produced-offset advance and replica
// fan-out happen as one step, and EXEC holds the lock across a whole
// queued batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/pubsub"
	"github.com/yndnr/rivulet-go/internal/replication"
	"github.com/yndnr/rivulet-go/internal/snapshot"
	"github.com/yndnr/rivulet-go/internal/store"
	"github.com/yndnr/rivulet-go/internal/telemetry/logger"
	"github.com/yndnr/rivulet-go/internal/telemetry/metric"
)

// Config configures an Engine.
type Config struct {
	// ReplicaOf is the master's "host:port" when this server runs as a
	// replica; empty for a master.
	ReplicaOf string
	// Dir is the snapshot directory, exposed through CONFIG GET dir.
	Dir string
	// DBFilename is the snapshot file name under Dir.
	DBFilename string
}

// Engine owns the keyspace and executes commands against it.
type Engine struct {
	log     logger.Logger
	metrics *metric.Registry
	store   *store.Store
	coord   *Coordinator
	hub     *pubsub.Hub

	// master is nil when running as a replica.
	master    *replication.Master
	replica   *replication.Replica
	isReplica bool
	replicaOf string

	// execMu serializes command execution. Mutation, offset advance and
	// propagation happen under it as one step.
	execMu sync.Mutex

	paramMu sync.RWMutex
	params  map[string]string

	// now is swappable for tests.
	now func() time.Time
}

// New creates an engine over the given store. A master engine owns a
// replication fan-out; a replica engine rejects client writes instead.
func New(cfg Config, st *store.Store, log logger.Logger, metrics *metric.Registry) *Engine {
	e := &Engine{
		log:       log,
		metrics:   metrics,
		store:     st,
		coord:     NewCoordinator(metrics),
		hub:       pubsub.NewHub(),
		isReplica: cfg.ReplicaOf != "",
		replicaOf: cfg.ReplicaOf,
		params: map[string]string{
			"dir":        cfg.Dir,
			"dbfilename": cfg.DBFilename,
		},
		now: time.Now,
	}
	if !e.isReplica {
		e.master = replication.NewMaster(log, metrics)
		e.master.OnAck(e.coord.NotifyAck)
	}
	return e
}

// Master returns the replication fan-out, nil on replicas.
func (e *Engine) Master() *replication.Master {
	return e.master
}

// AttachReplica records the replica link so INFO can report its applied
// offset.
func (e *Engine) AttachReplica(r *replication.Replica) {
	e.replica = r
}

// Session is one client connection's command-visible state.
type Session struct {
	ID         string
	RemoteAddr string

	// Transaction state. Aborted marks a queuing error; EXEC then fails
	// without running anything.
	InMulti bool
	Aborted bool
	queue   []queuedCommand

	// Sub is non-nil once the connection has subscribed at least once.
	Sub *pubsub.Subscriber

	// fromMaster marks the internal session used to apply streamed
	// commands on a replica.
	fromMaster bool
}

type queuedCommand struct {
	spec *commandSpec
	args [][]byte
}

// NewSession creates the per-connection state.
func (e *Engine) NewSession(remoteAddr string) *Session {
	return &Session{ID: ulid.Make().String(), RemoteAddr: remoteAddr}
}

// CloseSession releases session resources when the connection goes away.
func (e *Engine) CloseSession(sess *Session) {
	if sess.Sub != nil {
		e.hub.Close(sess.Sub)
	}
}

// Result is the outcome of dispatching one command.
type Result struct {
	Reply protocol.Value
	// Handoff is set by PSYNC: the connection leaves the request loop
	// and is served by the replication fan-out instead. Reply is not
	// written when Handoff is set.
	Handoff *replication.ReplicaHandle
}

// execCtx accumulates per-execution side effects: waiter wake-ups,
// propagation overrides and the PSYNC handoff.
type execCtx struct {
	wakes   []keyEvent
	prop    [][]byte
	propSet bool
	handoff *replication.ReplicaHandle
}

type keyEvent struct {
	key string
	n   int
}

// NoteKeyEvent schedules waiter wake-up for key after the execution
// lock is released. n bounds how many waiters wake; n <= 0 wakes all.
func (x *execCtx) NoteKeyEvent(key string, n int) {
	x.wakes = append(x.wakes, keyEvent{key: key, n: n})
}

// SetPropagate replaces the frame propagated to replicas for this
// command. Used where the replicated effect differs from the received
// command, such as BLPOP propagating as LPOP.
func (x *execCtx) SetPropagate(args ...string) {
	frame := make([][]byte, len(args))
	for i, a := range args {
		frame[i] = []byte(a)
	}
	x.prop = frame
	x.propSet = true
}

// SuppressPropagate skips propagation for a write command that did not
// mutate anything, such as SET NX on an existing key.
func (x *execCtx) SuppressPropagate() {
	x.prop = nil
	x.propSet = true
}

// Dispatch executes one client command and returns its reply. Blocking
// commands may park the calling goroutine; ctx cancellation stands for
// the connection closing.
func (e *Engine) Dispatch(ctx context.Context, sess *Session, args [][]byte) Result {
	if len(args) == 0 {
		return errResult(e.metrics, domain.ErrUnknownCommand.WithMessage("empty command"))
	}
	name := protocol.NormalizeName(args[0])
	spec, known := commands[name]
	if e.metrics != nil {
		// Unknown names are client-controlled and must not become
		// label values.
		label := name
		if !known {
			label = "UNKNOWN"
		}
		e.metrics.CommandsTotal.WithLabelValues(label).Inc()
	}

	if sess.InMulti && name != "MULTI" && name != "EXEC" && name != "DISCARD" {
		return e.enqueue(sess, name, spec, known, args)
	}

	if !known {
		return errResult(e.metrics, unknownCommandErr(name, args))
	}
	if !spec.checkArity(len(args)) {
		return errResult(e.metrics, arityErr(name))
	}
	if sess.Sub != nil && sess.Sub.Count() > 0 && !spec.inSubscribe {
		return errResult(e.metrics, domain.ErrNotAllowedSubscribed)
	}
	if e.isReplica && spec.write && !sess.fromMaster {
		return errResult(e.metrics, domain.ErrReadOnlyReplica)
	}

	if spec.blocking != nil {
		v, err := spec.blocking(ctx, e, sess, args)
		return e.result(v, err, nil)
	}

	x := &execCtx{}
	e.execMu.Lock()
	v, err := e.runLocked(x, sess, spec, args)
	e.execMu.Unlock()
	e.flushWakes(x)
	return e.result(v, err, x)
}

// runLocked executes one command under the execution lock and, for a
// successful write on a master, propagates its frame in commit order.
func (e *Engine) runLocked(x *execCtx, sess *Session, spec *commandSpec, args [][]byte) (protocol.Value, error) {
	x.prop, x.propSet = nil, false
	v, err := spec.handler(e, x, sess, args)
	if err != nil {
		return v, err
	}
	if spec.write && e.master != nil && !sess.fromMaster {
		frame := args
		if x.propSet {
			frame = x.prop
		}
		if frame != nil {
			e.master.Propagate(protocol.EncodeCommand(frame))
		}
	}
	return v, nil
}

func (e *Engine) flushWakes(x *execCtx) {
	for _, ev := range x.wakes {
		e.coord.NotifyKey(ev.key, ev.n)
	}
	x.wakes = nil
}

func (e *Engine) result(v protocol.Value, err error, x *execCtx) Result {
	res := Result{Reply: v}
	if x != nil {
		res.Handoff = x.handoff
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.CommandErrors.Inc()
		}
		res.Reply = protocol.ErrorString(domain.ErrorReply(err))
	}
	return res
}

func errResult(m *metric.Registry, err error) Result {
	if m != nil {
		m.CommandErrors.Inc()
	}
	return Result{Reply: protocol.ErrorString(domain.ErrorReply(err))}
}

func unknownCommandErr(name string, args [][]byte) error {
	var argv []string
	for _, a := range args[1:] {
		argv = append(argv, fmt.Sprintf("'%s'", a))
	}
	return domain.ErrUnknownCommand.WithMessage(
		"unknown command '%s', with args beginning with: %s",
		name, strings.Join(argv, ", "))
}

func arityErr(name string) error {
	return domain.ErrWrongArity.WithMessage(
		"wrong number of arguments for '%s' command", strings.ToLower(name))
}

// LoadSnapshot replaces the keyspace with a decoded transfer blob.
// Part of the replication Applier contract.
func (e *Engine) LoadSnapshot(blob []byte) error {
	dump, err := snapshot.Decode(blob)
	if err != nil {
		return err
	}
	e.execMu.Lock()
	e.store.Restore(dump)
	e.execMu.Unlock()
	e.log.Info("snapshot loaded from master", "keys", len(dump))
	return nil
}

// ApplyFromMaster executes one streamed write locally, without a client
// reply and without re-propagation. Blocked local readers are woken
// exactly as for a direct write.
func (e *Engine) ApplyFromMaster(args [][]byte) error {
	if len(args) == 0 {
		return nil
	}
	name := protocol.NormalizeName(args[0])
	spec, ok := commands[name]
	if !ok {
		return unknownCommandErr(name, args)
	}
	if !spec.checkArity(len(args)) {
		return arityErr(name)
	}

	x := &execCtx{}
	sess := &Session{ID: "master-link", fromMaster: true}
	e.execMu.Lock()
	_, err := e.runLocked(x, sess, spec, args)
	e.execMu.Unlock()
	e.flushWakes(x)
	return err
}

// RunExpirySweeper actively deletes expired keys until ctx is done.
// Each deletion is propagated as an explicit DEL so replicas converge
// on the same keyspace. Replicas rely on the master's stream and their
// own lazy expiry instead.
func (e *Engine) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if e.isReplica {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.sweepExpired()
		}
	}
}

func (e *Engine) sweepExpired() {
	keys := e.store.ExpiredKeys()
	if len(keys) == 0 {
		return
	}
	swept := 0
	e.execMu.Lock()
	for _, k := range keys {
		if !e.store.Delete(k) {
			continue
		}
		swept++
		if e.master != nil {
			e.master.Propagate(protocol.EncodeCommandStrings("DEL", k))
		}
	}
	e.execMu.Unlock()
	if swept > 0 {
		if e.metrics != nil {
			e.metrics.KeysExpired.Add(float64(swept))
		}
		e.log.Debug("expired keys swept", "count", swept)
	}
}

// Param returns a runtime parameter such as dir or dbfilename.
func (e *Engine) Param(name string) (string, bool) {
	e.paramMu.RLock()
	defer e.paramMu.RUnlock()
	v, ok := e.params[name]
	return v, ok
}

func (e *Engine) setParam(name, value string) bool {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	if _, ok := e.params[name]; !ok {
		return false
	}
	e.params[name] = value
	return true
}

func (e *Engine) snapshotPath() string {
	dir, _ := e.Param("dir")
	name, _ := e.Param("dbfilename")
	return filepath.Join(dir, name)
}

// SaveSnapshot writes the keyspace to the configured snapshot file.
// Dump hands out live value pointers, so the encode must also happen
// under the execution lock; only the file write runs outside it.
func (e *Engine) SaveSnapshot() error {
	e.execMu.Lock()
	blob, err := snapshot.Encode(e.store.Dump())
	e.execMu.Unlock()
	if err != nil {
		return err
	}
	return snapshot.WriteBlob(e.snapshotPath(), blob)
}

// LoadSnapshotFile restores the keyspace from the configured snapshot
// file at startup. A missing file is not an error.
func (e *Engine) LoadSnapshotFile() error {
	dump, err := snapshot.LoadFile(e.snapshotPath())
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil
		}
		return err
	}
	e.execMu.Lock()
	e.store.Restore(dump)
	e.execMu.Unlock()
	e.log.Info("snapshot restored", "path", e.snapshotPath(), "keys", len(dump))
	return nil
}
