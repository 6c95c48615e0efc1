package engine

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
)

func xaddCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	key, idSpec := string(args[1]), string(args[2])
	fields := argStrings(args[3:])
	if len(fields)%2 != 0 {
		return protocol.Value{}, arityErr("XADD")
	}

	id, err := e.store.XAdd(key, idSpec, fields)
	if err != nil {
		return protocol.Value{}, err
	}

	// Replicas must store the same ID the master resolved, so the
	// propagated frame carries it explicitly even when the client sent
	// "*".
	prop := append([]string{"XADD", key, id.String()}, fields...)
	x.SetPropagate(prop...)
	x.NoteKeyEvent(key, 0)
	return protocol.BulkString(id.String()), nil
}

// parseRangeID parses an XRANGE bound. "-" and "+" are the open ends;
// a bare millisecond part covers the whole millisecond, so as an end
// bound its sequence saturates.
func parseRangeID(s string, end bool) (domain.StreamID, error) {
	switch s {
	case "-":
		return domain.StreamID{}, nil
	case "+":
		return domain.StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}, nil
	}
	if !strings.Contains(s, "-") {
		ms, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return domain.StreamID{}, domain.ErrInvalidStreamID
		}
		if end {
			return domain.StreamID{Ms: ms, Seq: math.MaxUint64}, nil
		}
		return domain.StreamID{Ms: ms}, nil
	}
	id, err := domain.ParseStreamID(s)
	if err != nil {
		return domain.StreamID{}, domain.ErrInvalidStreamID
	}
	return id, nil
}

func entryValue(en domain.StreamEntry) protocol.Value {
	return protocol.Array(protocol.BulkString(en.ID.String()), stringArray(en.Fields))
}

func entriesValue(entries []domain.StreamEntry) protocol.Value {
	elems := make([]protocol.Value, len(entries))
	for i, en := range entries {
		elems[i] = entryValue(en)
	}
	return protocol.Array(elems...)
}

func xrangeCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	start, err := parseRangeID(string(args[2]), false)
	if err != nil {
		return protocol.Value{}, err
	}
	end, err := parseRangeID(string(args[3]), true)
	if err != nil {
		return protocol.Value{}, err
	}

	count := int64(0)
	if len(args) > 4 {
		if len(args) != 6 || protocol.NormalizeName(args[4]) != "COUNT" {
			return protocol.Value{}, domain.ErrSyntax
		}
		count, err = argInt(args[5])
		if err != nil {
			return protocol.Value{}, err
		}
	}

	entries, err := e.store.XRange(string(args[1]), start, end)
	if err != nil {
		return protocol.Value{}, err
	}
	if count > 0 && int64(len(entries)) > count {
		entries = entries[:count]
	}
	return entriesValue(entries), nil
}

type xreadOpts struct {
	count    int64
	blockMs  int64
	hasBlock bool
	keys     []string
	ids      []string
}

func parseXRead(args [][]byte) (xreadOpts, error) {
	var o xreadOpts
	i := 1
	for i < len(args) {
		switch protocol.NormalizeName(args[i]) {
		case "COUNT":
			if i+1 >= len(args) {
				return o, domain.ErrSyntax
			}
			n, err := argInt(args[i+1])
			if err != nil {
				return o, err
			}
			o.count = n
			i += 2
		case "BLOCK":
			if i+1 >= len(args) {
				return o, domain.ErrSyntax
			}
			ms, err := argInt(args[i+1])
			if err != nil || ms < 0 {
				return o, domain.ErrSyntax.WithMessage("timeout is not an integer or out of range")
			}
			o.blockMs = ms
			o.hasBlock = true
			i += 2
		case "STREAMS":
			rest := args[i+1:]
			if len(rest) == 0 || len(rest)%2 != 0 {
				return o, domain.ErrSyntax.WithMessage(
					"Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
			}
			half := len(rest) / 2
			o.keys = argStrings(rest[:half])
			o.ids = argStrings(rest[half:])
			return o, nil
		default:
			return o, domain.ErrSyntax
		}
	}
	return o, domain.ErrSyntax
}

// resolveXReadIDs turns ID specs into concrete exclusive lower bounds.
// "$" means the stream's current tail, so only entries appended after
// the call are returned. Must run under the execution lock.
func (e *Engine) resolveXReadIDs(o xreadOpts) ([]domain.StreamID, error) {
	ids := make([]domain.StreamID, len(o.keys))
	for i, spec := range o.ids {
		if spec == "$" {
			last, err := e.store.XLastID(o.keys[i])
			if err != nil {
				return nil, err
			}
			ids[i] = last
			continue
		}
		id, err := domain.ParseStreamID(spec)
		if err != nil {
			return nil, domain.ErrInvalidStreamID
		}
		ids[i] = id
	}
	return ids, nil
}

// attemptXRead collects entries strictly after each key's bound. The
// reply lists only keys that produced entries; ok is false when none
// did. Must run under the execution lock.
func (e *Engine) attemptXRead(o xreadOpts, ids []domain.StreamID) (protocol.Value, bool, error) {
	var elems []protocol.Value
	for i, key := range o.keys {
		entries, err := e.store.XAfter(key, ids[i])
		if err != nil {
			return protocol.Value{}, false, err
		}
		if len(entries) == 0 {
			continue
		}
		if o.count > 0 && int64(len(entries)) > o.count {
			entries = entries[:o.count]
		}
		elems = append(elems, protocol.Array(protocol.BulkString(key), entriesValue(entries)))
	}
	if len(elems) == 0 {
		return protocol.Value{}, false, nil
	}
	return protocol.Array(elems...), true, nil
}

// xreadImmediateCmd is XREAD without blocking, as run inside EXEC. A
// BLOCK option is accepted but does not park the transaction.
func xreadImmediateCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	o, err := parseXRead(args)
	if err != nil {
		return protocol.Value{}, err
	}
	ids, err := e.resolveXReadIDs(o)
	if err != nil {
		return protocol.Value{}, err
	}
	v, ok, err := e.attemptXRead(o, ids)
	if err != nil {
		return protocol.Value{}, err
	}
	if !ok {
		return protocol.NullArray(), nil
	}
	return v, nil
}

// xreadCmd handles direct XREAD dispatch, parking the connection when
// BLOCK is given and no entries are available yet.
func xreadCmd(ctx context.Context, e *Engine, sess *Session, args [][]byte) (protocol.Value, error) {
	o, err := parseXRead(args)
	if err != nil {
		return protocol.Value{}, err
	}

	e.execMu.Lock()
	// "$" resolves once, before parking; entries appended while blocked
	// are exactly the ones past this bound.
	ids, err := e.resolveXReadIDs(o)
	if err != nil {
		e.execMu.Unlock()
		return protocol.Value{}, err
	}
	v, ok, err := e.attemptXRead(o, ids)
	if err != nil || ok || !o.hasBlock {
		e.execMu.Unlock()
		if err == nil && !ok {
			return protocol.NullArray(), nil
		}
		return v, err
	}
	w := e.coord.RegisterKeys(o.keys)
	e.execMu.Unlock()
	defer e.coord.Remove(w)

	var deadline <-chan time.Time
	if o.blockMs > 0 {
		t := time.NewTimer(time.Duration(o.blockMs) * time.Millisecond)
		defer t.Stop()
		deadline = t.C
	}

	for {
		if w.Wait(ctx, deadline) != Satisfied {
			return protocol.NullArray(), nil
		}
		e.execMu.Lock()
		v, ok, err := e.attemptXRead(o, ids)
		e.execMu.Unlock()
		if err != nil {
			return protocol.Value{}, err
		}
		if ok {
			return v, nil
		}
	}
}
