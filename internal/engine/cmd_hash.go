package engine

import (
	"github.com/yndnr/rivulet-go/internal/protocol"
)

func hsetCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	pairs := args[2:]
	if len(pairs)%2 != 0 {
		return protocol.Value{}, arityErr("HSET")
	}
	created, err := e.store.HSet(string(args[1]), argStrings(pairs)...)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Integer(int64(created)), nil
}

func hgetCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	val, ok, err := e.store.HGet(string(args[1]), string(args[2]))
	if err != nil {
		return protocol.Value{}, err
	}
	if !ok {
		return protocol.NullBulk(), nil
	}
	return protocol.BulkString(val), nil
}

func hgetallCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	fields, err := e.store.HGetAll(string(args[1]))
	if err != nil {
		return protocol.Value{}, err
	}
	elems := make([]protocol.Value, 0, len(fields)*2)
	for f, v := range fields {
		elems = append(elems, protocol.BulkString(f), protocol.BulkString(v))
	}
	return protocol.Array(elems...), nil
}

func hdelCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	removed, err := e.store.HDel(string(args[1]), argStrings(args[2:])...)
	if err != nil {
		return protocol.Value{}, err
	}
	if removed == 0 {
		x.SuppressPropagate()
	}
	return protocol.Integer(int64(removed)), nil
}
