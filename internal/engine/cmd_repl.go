package engine

import (
	"context"
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/snapshot"
)

func parseWait(args [][]byte) (int, int64, error) {
	numReplicas, err := argInt(args[1])
	if err != nil {
		return 0, 0, err
	}
	timeoutMs, err := argInt(args[2])
	if err != nil || timeoutMs < 0 {
		return 0, 0, domain.ErrSyntax.WithMessage("timeout is negative")
	}
	return int(numReplicas), timeoutMs, nil
}

// waitCmd blocks until at least numreplicas replicas have acknowledged
// everything produced before this WAIT, or the timeout expires. Either
// way the reply is the acknowledged-replica count at that moment.
func waitCmd(ctx context.Context, e *Engine, sess *Session, args [][]byte) (protocol.Value, error) {
	numReplicas, timeoutMs, err := parseWait(args)
	if err != nil {
		return protocol.Value{}, err
	}
	if e.master == nil {
		return protocol.Value{}, domain.ErrWaitOnReplica
	}

	// The target is the offset produced so far; the GETACK probe sent
	// below advances the produced offset past it, which is fine since
	// acknowledging the probe implies acknowledging the target.
	e.execMu.Lock()
	target := e.master.Offset()
	count := e.master.AckedAtLeast(target)
	if count >= numReplicas {
		e.execMu.Unlock()
		return protocol.Integer(int64(count)), nil
	}
	w := e.coord.RegisterAck()
	// RequestAcks must run under the execution lock: a replica
	// registering between the probe's offset advance and its fan-out
	// would receive probe bytes its FULLRESYNC offset already covers
	// and acknowledge past the produced offset.
	e.master.RequestAcks()
	e.execMu.Unlock()
	defer e.coord.Remove(w)

	var deadline <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		deadline = t.C
	}

	for {
		outcome := w.Wait(ctx, deadline)
		count = e.master.AckedAtLeast(target)
		if outcome != Satisfied || count >= numReplicas {
			return protocol.Integer(int64(count)), nil
		}
	}
}

// waitImmediateCmd is WAIT inside EXEC: report the current count
// without parking the transaction.
func waitImmediateCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if _, _, err := parseWait(args); err != nil {
		return protocol.Value{}, err
	}
	if e.master == nil {
		return protocol.Value{}, domain.ErrWaitOnReplica
	}
	return protocol.Integer(int64(e.master.AckedAtLeast(e.master.Offset()))), nil
}

// replconfCmd acknowledges handshake options from a connecting replica.
// The listening-port and capa values are informational here; ACK frames
// never reach this handler, they are consumed by the fan-out's reader.
func replconfCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	return protocol.OK, nil
}

// psyncCmd performs a full resync: the keyspace is encoded under the
// execution lock and queued to the new replica ahead of any later
// write, so the snapshot plus the stream replays to an identical
// keyspace. The connection is then handed off to the fan-out.
func psyncCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if e.master == nil {
		return protocol.Value{}, domain.ErrHandshakeFailed.WithMessage("PSYNC received by a replica")
	}
	blob, err := snapshot.Encode(e.store.Dump())
	if err != nil {
		return protocol.Value{}, domain.ErrSnapshotTransfer.WithCause(err)
	}
	if e.metrics != nil {
		e.metrics.SnapshotSize.Set(float64(len(blob)))
	}
	x.handoff = e.master.Register(blob)
	return protocol.Value{}, nil
}
