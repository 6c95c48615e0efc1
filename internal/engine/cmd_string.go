package engine

import (
	"math"
	"strconv"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
)

func getCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	val, ok, err := e.store.GetString(string(args[1]))
	if err != nil {
		return protocol.Value{}, err
	}
	if !ok {
		return protocol.NullBulk(), nil
	}
	return protocol.BulkString(val), nil
}

// setCmd implements SET key value [EX seconds|PX milliseconds] [NX|XX].
func setCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	key, val := string(args[1]), string(args[2])

	var expiresAt int64
	var nx, xx bool
	for i := 3; i < len(args); {
		switch protocol.NormalizeName(args[i]) {
		case "EX":
			if i+1 >= len(args) {
				return protocol.Value{}, domain.ErrSyntax
			}
			secs, err := argInt(args[i+1])
			if err != nil || secs <= 0 {
				return protocol.Value{}, domain.ErrSyntax.WithMessage("invalid expire time in 'set' command")
			}
			expiresAt = e.now().UnixMilli() + secs*1000
			i += 2
		case "PX":
			if i+1 >= len(args) {
				return protocol.Value{}, domain.ErrSyntax
			}
			ms, err := argInt(args[i+1])
			if err != nil || ms <= 0 {
				return protocol.Value{}, domain.ErrSyntax.WithMessage("invalid expire time in 'set' command")
			}
			expiresAt = e.now().UnixMilli() + ms
			i += 2
		case "NX":
			nx = true
			i++
		case "XX":
			xx = true
			i++
		default:
			return protocol.Value{}, domain.ErrSyntax
		}
	}
	if nx && xx {
		return protocol.Value{}, domain.ErrSyntax
	}

	exists := e.store.Exists(key)
	if (nx && exists) || (xx && !exists) {
		x.SuppressPropagate()
		return protocol.NullBulk(), nil
	}
	e.store.SetString(key, val, expiresAt)
	return protocol.OK, nil
}

func incrCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	key := string(args[1])
	cur, ok, err := e.store.GetString(key)
	if err != nil {
		return protocol.Value{}, err
	}

	n := int64(0)
	if ok {
		n, err = strconv.ParseInt(cur, 10, 64)
		if err != nil || n == math.MaxInt64 {
			return protocol.Value{}, domain.ErrNotInteger
		}
	}
	n++

	// The increment keeps any expiry the key already carries.
	expiresAt, _ := e.store.ExpiresAt(key)
	e.store.SetString(key, strconv.FormatInt(n, 10), expiresAt)
	return protocol.Integer(n), nil
}

func delCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	deleted := 0
	for _, key := range args[1:] {
		if e.store.Delete(string(key)) {
			deleted++
		}
	}
	if deleted == 0 {
		x.SuppressPropagate()
	}
	return protocol.Integer(int64(deleted)), nil
}

func existsCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	found := 0
	for _, key := range args[1:] {
		if e.store.Exists(string(key)) {
			found++
		}
	}
	return protocol.Integer(int64(found)), nil
}

func typeCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	return protocol.SimpleString(e.store.Kind(string(args[1])).String()), nil
}

func keysCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	keys := e.store.Keys(string(args[1]))
	elems := make([]protocol.Value, len(keys))
	for i, k := range keys {
		elems[i] = protocol.BulkString(k)
	}
	return protocol.Array(elems...), nil
}

func ttlCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	expiresAt, ok := e.store.ExpiresAt(string(args[1]))
	switch {
	case !ok:
		return protocol.Integer(-2), nil
	case expiresAt == 0:
		return protocol.Integer(-1), nil
	default:
		remaining := expiresAt - e.now().UnixMilli()
		return protocol.Integer((remaining + 999) / 1000), nil
	}
}

func expireCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	key := string(args[1])
	secs, err := argInt(args[2])
	if err != nil {
		return protocol.Value{}, err
	}

	if !e.store.Exists(key) {
		x.SuppressPropagate()
		return protocol.Integer(0), nil
	}
	if secs <= 0 {
		// Already in the past: the key is gone immediately on master
		// and replicas alike.
		e.store.Delete(key)
		return protocol.Integer(1), nil
	}
	e.store.SetExpiry(key, e.now().UnixMilli()+secs*1000)
	return protocol.Integer(1), nil
}
