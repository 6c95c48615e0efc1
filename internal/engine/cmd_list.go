package engine

import (
	"context"
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
)

func argStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

func stringArray(elems []string) protocol.Value {
	vals := make([]protocol.Value, len(elems))
	for i, s := range elems {
		vals[i] = protocol.BulkString(s)
	}
	return protocol.Array(vals...)
}

func lpushCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	key := string(args[1])
	elems := argStrings(args[2:])
	n, err := e.store.LPush(key, elems...)
	if err != nil {
		return protocol.Value{}, err
	}
	// One parked taker per pushed element.
	x.NoteKeyEvent(key, len(elems))
	return protocol.Integer(int64(n)), nil
}

func rpushCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	key := string(args[1])
	elems := argStrings(args[2:])
	n, err := e.store.RPush(key, elems...)
	if err != nil {
		return protocol.Value{}, err
	}
	x.NoteKeyEvent(key, len(elems))
	return protocol.Integer(int64(n)), nil
}

func lpopCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if len(args) > 3 {
		return protocol.Value{}, arityErr("LPOP")
	}
	key := string(args[1])

	if len(args) == 2 {
		vals, err := e.store.LPop(key, 1)
		if err != nil {
			return protocol.Value{}, err
		}
		if len(vals) == 0 {
			x.SuppressPropagate()
			return protocol.NullBulk(), nil
		}
		return protocol.BulkString(vals[0]), nil
	}

	count, err := argInt(args[2])
	if err != nil {
		return protocol.Value{}, err
	}
	if count < 0 {
		return protocol.Value{}, domain.ErrNotInteger.WithMessage("value is out of range, must be positive")
	}
	vals, err := e.store.LPop(key, int(count))
	if err != nil {
		return protocol.Value{}, err
	}
	if len(vals) == 0 {
		x.SuppressPropagate()
		return protocol.NullArray(), nil
	}
	return stringArray(vals), nil
}

func llenCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	n, err := e.store.LLen(string(args[1]))
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(int64(n)), nil
}

func lrangeCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	start, err := argInt(args[2])
	if err != nil {
		return protocol.Value{}, err
	}
	stop, err := argInt(args[3])
	if err != nil {
		return protocol.Value{}, err
	}
	vals, err := e.store.LRange(string(args[1]), int(start), int(stop))
	if err != nil {
		return protocol.Value{}, err
	}
	return stringArray(vals), nil
}

// tryBLPop pops from the first non-empty key, propagating the effect as
// a plain LPOP. Must run under the execution lock.
func tryBLPop(e *Engine, x *execCtx, keys []string) (protocol.Value, bool, error) {
	for _, k := range keys {
		vals, err := e.store.LPop(k, 1)
		if err != nil {
			return protocol.Value{}, false, err
		}
		if len(vals) == 1 {
			if x != nil {
				x.SetPropagate("LPOP", k)
			} else if e.master != nil {
				e.master.Propagate(protocol.EncodeCommandStrings("LPOP", k))
			}
			return protocol.Array(protocol.BulkString(k), protocol.BulkString(vals[0])), true, nil
		}
	}
	return protocol.Value{}, false, nil
}

// blpopCmd blocks until an element arrives on one of the keys or the
// timeout expires. Keys are polled in argument order on every wake.
func blpopCmd(ctx context.Context, e *Engine, sess *Session, args [][]byte) (protocol.Value, error) {
	keys := argStrings(args[1 : len(args)-1])
	timeout, err := argSeconds(args[len(args)-1])
	if err != nil {
		return protocol.Value{}, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(time.Duration(timeout * float64(time.Second)))
		defer t.Stop()
		deadline = t.C
	}

	for {
		e.execMu.Lock()
		v, popped, err := tryBLPop(e, nil, keys)
		if err != nil || popped {
			e.execMu.Unlock()
			return v, err
		}
		w := e.coord.RegisterKeys(keys)
		e.execMu.Unlock()

		outcome := w.Wait(ctx, deadline)
		e.coord.Remove(w)
		if outcome != Satisfied {
			return protocol.NullArray(), nil
		}
	}
}

// blpopImmediateCmd is BLPOP inside EXEC: the pop attempt happens once,
// without blocking, exactly as a timed-out BLPOP would end.
func blpopImmediateCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if _, err := argSeconds(args[len(args)-1]); err != nil {
		return protocol.Value{}, err
	}
	keys := argStrings(args[1 : len(args)-1])
	v, popped, err := tryBLPop(e, x, keys)
	if err != nil {
		return protocol.Value{}, err
	}
	if !popped {
		x.SuppressPropagate()
		return protocol.NullArray(), nil
	}
	return v, nil
}
