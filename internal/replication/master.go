package replication

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/telemetry/logger"
	"github.com/yndnr/rivulet-go/internal/telemetry/metric"
)

// outboundDepth is the per-replica propagation buffer. A replica that
// falls this many frames behind is considered dead and deregistered
// rather than allowed to stall propagation to its peers.
const outboundDepth = 4096

// Master is the master-side replication manager. It owns the produced
// offset, the set of attached replicas, and the ordered fan-out of
// write commands to them.
type Master struct {
	replID  string
	offset  Offset
	log     logger.Logger
	metrics *metric.Registry

	mu       sync.Mutex
	replicas map[string]*ReplicaHandle

	// onAck is invoked whenever any replica's acknowledged offset
	// advances; the blocking coordinator hangs WAIT re-evaluation off it.
	onAck func()
}

// ReplicaHandle is the master's view of one attached replica.
type ReplicaHandle struct {
	ID           string
	RegisteredAt time.Time

	out    chan []byte
	acked  Offset
	closed chan struct{}
	once   sync.Once
}

func (h *ReplicaHandle) close() {
	h.once.Do(func() { close(h.closed) })
}

// AckedOffset returns the replica's last acknowledged offset.
func (h *ReplicaHandle) AckedOffset() int64 {
	return h.acked.Load()
}

// NewMaster creates the master-side manager with a fresh replication ID.
func NewMaster(log logger.Logger, metrics *metric.Registry) *Master {
	return &Master{
		replID:   newReplicationID(),
		log:      log,
		metrics:  metrics,
		replicas: make(map[string]*ReplicaHandle),
		onAck:    func() {},
	}
}

// newReplicationID returns a 40-character hex replication ID.
func newReplicationID() string {
	buf := make([]byte, 20)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// OnAck registers the callback invoked when an acknowledgement arrives.
func (m *Master) OnAck(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.onAck = fn
	}
}

// ReplicationID returns the master's replication ID.
func (m *Master) ReplicationID() string {
	return m.replID
}

// Offset returns the produced offset: bytes of the command stream sent
// toward replicas so far.
func (m *Master) Offset() int64 {
	return m.offset.Load()
}

// ReplicaCount returns the number of attached replicas.
func (m *Master) ReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replicas)
}

// AckedAtLeast counts replicas whose acknowledged offset has reached
// target. A target of zero counts every attached replica.
func (m *Master) AckedAtLeast(target int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.replicas {
		if target == 0 || h.acked.Load() >= target {
			n++
		}
	}
	return n
}

// Register allocates a handle for a replica that completed PSYNC. The
// FULLRESYNC reply and the snapshot transfer frame are preloaded into
// the handle's outbound queue, so every command propagated from this
// point on is ordered strictly after the snapshot.
//
// The caller must invoke Register under the same lock that serializes
// command execution, then hand the socket to Serve.
func (m *Master) Register(snapshot []byte) *ReplicaHandle {
	h := &ReplicaHandle{
		ID:           ulid.Make().String(),
		RegisteredAt: time.Now(),
		out:          make(chan []byte, outboundDepth),
		closed:       make(chan struct{}),
	}

	offset := m.offset.Load()
	fullresync := "+FULLRESYNC " + m.replID + " " + strconv.FormatInt(offset, 10) + "\r\n"
	h.out <- []byte(fullresync)

	frame := make([]byte, 0, len(snapshot)+32)
	frame = append(frame, '$')
	frame = strconv.AppendInt(frame, int64(len(snapshot)), 10)
	frame = append(frame, '\r', '\n')
	frame = append(frame, snapshot...)
	h.out <- frame

	m.mu.Lock()
	m.replicas[h.ID] = h
	n := len(m.replicas)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConnectedReplicas.Set(float64(n))
	}
	m.log.Info("replica registered", "replica_id", h.ID, "start_offset", offset)
	return h
}

// Deregister removes a replica handle and stops its writer.
func (m *Master) Deregister(h *ReplicaHandle) {
	m.mu.Lock()
	_, ok := m.replicas[h.ID]
	delete(m.replicas, h.ID)
	n := len(m.replicas)
	m.mu.Unlock()

	h.close()
	if ok {
		if m.metrics != nil {
			m.metrics.ConnectedReplicas.Set(float64(n))
		}
		m.log.Info("replica deregistered", "replica_id", h.ID, "acked", h.acked.Load())
	}
}

// Propagate advances the produced offset by the encoded command's length
// and enqueues it to every attached replica in commit order. A replica
// whose queue is full is deregistered; propagation never blocks.
//
// Callers must hold the command execution lock, which is what makes the
// offset increment and the fan-out a single atomic step.
func (m *Master) Propagate(cmd []byte) {
	offset := m.offset.Add(int64(len(cmd)))
	if m.metrics != nil {
		m.metrics.MasterOffset.Set(float64(offset))
	}

	m.mu.Lock()
	var stalled []*ReplicaHandle
	for _, h := range m.replicas {
		select {
		case h.out <- cmd:
		default:
			stalled = append(stalled, h)
		}
	}
	m.mu.Unlock()

	for _, h := range stalled {
		m.log.Warn("replica propagation queue full, dropping replica", "replica_id", h.ID)
		if m.metrics != nil {
			m.metrics.ReplicasDropped.Inc()
		}
		m.Deregister(h)
	}
}

// RequestAcks sends REPLCONF GETACK * to every replica. The probe
// travels the same ordered stream as write commands and therefore also
// advances the produced offset.
func (m *Master) RequestAcks() {
	m.Propagate(protocol.EncodeCommandStrings("REPLCONF", "GETACK", "*"))
}

// Serve runs the writer and acknowledgement-reader loops for an attached
// replica. It blocks until the replica disconnects or stalls, then
// deregisters the handle. The caller owns closing conn.
func (m *Master) Serve(h *ReplicaHandle, conn net.Conn, br *bufio.Reader) {
	defer m.Deregister(h)

	// Writer: drain the outbound queue in order.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		bw := bufio.NewWriter(conn)
		for {
			select {
			case frame := <-h.out:
				if _, err := bw.Write(frame); err != nil {
					return
				}
				// Coalesce whatever is already queued before flushing.
				for {
					select {
					case next := <-h.out:
						if _, err := bw.Write(next); err != nil {
							return
						}
						continue
					default:
					}
					break
				}
				if err := bw.Flush(); err != nil {
					return
				}
			case <-h.closed:
				return
			}
		}
	}()

	// Reader: the only traffic a replica sends after PSYNC is
	// REPLCONF ACK <offset>.
	for {
		args, err := protocol.ReadCommand(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				m.log.Debug("replica link read error", "replica_id", h.ID, "error", err)
			}
			break
		}
		if len(args) != 3 || protocol.NormalizeName(args[0]) != "REPLCONF" ||
			protocol.NormalizeName(args[1]) != "ACK" {
			m.log.Debug("unexpected frame on replica link", "replica_id", h.ID)
			continue
		}
		acked, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil || acked < 0 {
			continue
		}
		h.acked.Store(acked)

		m.mu.Lock()
		onAck := m.onAck
		m.mu.Unlock()
		onAck()
	}

	h.close()
	<-writeDone
	_ = conn.Close()
}

// Handles returns a snapshot of the attached replica handles, newest
// registration last. Used by INFO.
func (m *Master) Handles() []*ReplicaHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ReplicaHandle, 0, len(m.replicas))
	for _, h := range m.replicas {
		out = append(out, h)
	}
	return out
}
