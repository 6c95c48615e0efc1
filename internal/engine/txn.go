package engine

import (
	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
)

// multiCmd opens a transaction. Subsequent commands are queued, not
// executed, until EXEC or DISCARD.
func multiCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if sess.InMulti {
		return protocol.Value{}, domain.ErrNestedMulti
	}
	sess.InMulti = true
	sess.Aborted = false
	sess.queue = nil
	return protocol.OK, nil
}

// execCmd runs the queued batch as one atomic unit: the execution lock
// is already held and stays held for every queued command, so no other
// client's command interleaves and replicas see the batch contiguously.
func execCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if !sess.InMulti {
		return protocol.Value{}, domain.ErrExecWithoutMulti
	}
	queue := sess.queue
	aborted := sess.Aborted
	sess.InMulti = false
	sess.Aborted = false
	sess.queue = nil

	if aborted {
		return protocol.Value{}, domain.ErrTransactionAborted
	}

	replies := make([]protocol.Value, 0, len(queue))
	for _, q := range queue {
		v, err := e.runLocked(x, sess, q.spec, q.args)
		if err != nil {
			// A runtime failure is reported in place; the rest of the
			// batch still runs.
			v = protocol.ErrorString(domain.ErrorReply(err))
		}
		replies = append(replies, v)
	}
	if e.metrics != nil {
		e.metrics.TransactionsRun.Inc()
	}
	return protocol.Array(replies...), nil
}

// discardCmd drops the queued batch and leaves transaction mode.
func discardCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if !sess.InMulti {
		return protocol.Value{}, domain.ErrDiscardWithoutMulti
	}
	sess.InMulti = false
	sess.Aborted = false
	sess.queue = nil
	return protocol.OK, nil
}
