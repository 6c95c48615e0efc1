package engine

import (
	"bytes"

	"github.com/yndnr/rivulet-go/internal/protocol"
)

func subscribeConfirm(buf *bytes.Buffer, action string, channel protocol.Value, count int) {
	protocol.Array(
		protocol.BulkString(action),
		channel,
		protocol.Integer(int64(count)),
	).Encode(buf)
}

// subscribeCmd enters subscriber mode, confirming each channel with its
// own frame.
func subscribeCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if sess.Sub == nil {
		sess.Sub = e.hub.NewSubscriber()
	}
	var buf bytes.Buffer
	for _, ch := range args[1:] {
		n := e.hub.Subscribe(sess.Sub, string(ch))
		subscribeConfirm(&buf, "subscribe", protocol.Bulk(ch), n)
	}
	return protocol.Raw(buf.Bytes()), nil
}

// unsubscribeCmd leaves the given channels, or all of them when none
// are named.
func unsubscribeCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if sess.Sub == nil {
		sess.Sub = e.hub.NewSubscriber()
	}

	channels := argStrings(args[1:])
	if len(channels) == 0 {
		channels = sess.Sub.Channels()
	}
	var buf bytes.Buffer
	if len(channels) == 0 {
		subscribeConfirm(&buf, "unsubscribe", protocol.NullBulk(), 0)
		return protocol.Raw(buf.Bytes()), nil
	}
	for _, ch := range channels {
		n := e.hub.Unsubscribe(sess.Sub, ch)
		subscribeConfirm(&buf, "unsubscribe", protocol.BulkString(ch), n)
	}
	return protocol.Raw(buf.Bytes()), nil
}

func publishCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	n := e.hub.Publish(string(args[1]), string(args[2]))
	return protocol.Integer(int64(n)), nil
}
