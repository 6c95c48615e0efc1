// Package replication implements master/replica command streaming: the
// PSYNC handshake, full-resync snapshot transfer, ordered propagation of
// write commands, and byte-exact offset bookkeeping on both sides.
package replication

import "sync/atomic"

// Offset is a monotonically increasing byte counter over the encoded
// command stream. The master tracks bytes produced; each replica tracks
// bytes consumed and applied.
type Offset struct {
	n atomic.Int64
}

// Add advances the counter by n bytes and returns the new value.
func (o *Offset) Add(n int64) int64 {
	return o.n.Add(n)
}

// Load returns the current value.
func (o *Offset) Load() int64 {
	return o.n.Load()
}

// Store sets the counter. Used once, when a replica adopts the starting
// offset announced by FULLRESYNC.
func (o *Offset) Store(n int64) {
	o.n.Store(n)
}
