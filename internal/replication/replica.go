package replication

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/telemetry/logger"
)

// DefaultAckInterval is how often a streaming replica volunteers its
// applied offset to the master, independent of GETACK probes.
const DefaultAckInterval = time.Second

// Applier is the replica's hook into the command engine: snapshot
// loading at full resync and write application during streaming.
type Applier interface {
	// LoadSnapshot replaces the keyspace with the decoded transfer blob.
	LoadSnapshot(blob []byte) error
	// ApplyFromMaster executes one streamed command as a local write,
	// without re-propagation and without producing a client reply.
	ApplyFromMaster(args [][]byte) error
}

// Replica maintains the link from this server to its master: handshake,
// full resync, and the apply loop with offset accounting.
type Replica struct {
	masterAddr    string
	listeningPort int
	applier       Applier
	log           logger.Logger
	ackInterval   time.Duration

	// offset counts bytes of the command stream consumed, uniformly for
	// every frame the master sends (writes and GETACK probes alike).
	offset Offset

	mu   sync.Mutex
	conn net.Conn
}

// Config configures a Replica.
type Config struct {
	// MasterAddr is the "host:port" of the master to follow.
	MasterAddr string
	// ListeningPort is this server's own client port, announced during
	// the handshake.
	ListeningPort int
	// AckInterval overrides DefaultAckInterval when positive.
	AckInterval time.Duration
}

// NewReplica creates an unconnected replica.
func NewReplica(cfg Config, applier Applier, log logger.Logger) *Replica {
	interval := cfg.AckInterval
	if interval <= 0 {
		interval = DefaultAckInterval
	}
	return &Replica{
		masterAddr:    cfg.MasterAddr,
		listeningPort: cfg.ListeningPort,
		applier:       applier,
		log:           log,
		ackInterval:   interval,
	}
}

// Offset returns the applied offset.
func (r *Replica) Offset() int64 {
	return r.offset.Load()
}

// Run connects to the master, performs the handshake and full resync,
// then applies the command stream until the context is cancelled or the
// link fails.
func (r *Replica) Run(ctx context.Context) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", r.masterAddr)
	if err != nil {
		return domain.ErrHandshakeFailed.WithCause(err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	startOffset, err := r.handshake(br, bw)
	if err != nil {
		return err
	}
	r.offset.Store(startOffset)

	r.log.Info("full resync complete, streaming",
		"master", r.masterAddr, "start_offset", startOffset)

	ackCtx, cancelAcks := context.WithCancel(ctx)
	defer cancelAcks()
	go r.ackLoop(ackCtx, bw)

	return r.streamLoop(ctx, br, bw)
}

// handshake walks the replica-side state machine:
// PING, REPLCONF listening-port, REPLCONF capa, PSYNC, snapshot load.
func (r *Replica) handshake(br *bufio.Reader, bw *bufio.Writer) (int64, error) {
	steps := []struct {
		cmd  []string
		want string
	}{
		{[]string{"PING"}, "PONG"},
		{[]string{"REPLCONF", "listening-port", strconv.Itoa(r.listeningPort)}, "OK"},
		{[]string{"REPLCONF", "capa", "psync2"}, "OK"},
	}

	for _, step := range steps {
		reply, err := r.roundTrip(br, bw, step.cmd...)
		if err != nil {
			return 0, domain.ErrHandshakeFailed.WithCause(err)
		}
		if reply.Kind != protocol.KindSimple || !strings.EqualFold(reply.Str, step.want) {
			return 0, domain.ErrHandshakeFailed.WithCause(
				fmt.Errorf("unexpected reply to %s: %q", step.cmd[0], reply.Str))
		}
	}

	reply, err := r.roundTrip(br, bw, "PSYNC", "?", "-1")
	if err != nil {
		return 0, domain.ErrHandshakeFailed.WithCause(err)
	}
	fields := strings.Fields(reply.Str)
	if reply.Kind != protocol.KindSimple || len(fields) != 3 || fields[0] != "FULLRESYNC" {
		return 0, domain.ErrHandshakeFailed.WithCause(
			fmt.Errorf("expected FULLRESYNC, got %q", reply.Str))
	}
	startOffset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || startOffset < 0 {
		return 0, domain.ErrHandshakeFailed.WithCause(
			fmt.Errorf("bad FULLRESYNC offset %q", fields[2]))
	}

	blob, err := protocol.ReadSnapshotBlob(br)
	if err != nil {
		return 0, domain.ErrSnapshotTransfer.WithCause(err)
	}
	if err := r.applier.LoadSnapshot(blob); err != nil {
		return 0, domain.ErrSnapshotTransfer.WithCause(err)
	}

	return startOffset, nil
}

func (r *Replica) roundTrip(br *bufio.Reader, bw *bufio.Writer, args ...string) (protocol.Value, error) {
	r.mu.Lock()
	_, err := bw.Write(protocol.EncodeCommandStrings(args...))
	if err == nil {
		err = bw.Flush()
	}
	r.mu.Unlock()
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.ReadReply(br)
}

// streamLoop applies commands from the master in arrival order,
// advancing the applied offset by each frame's encoded length.
func (r *Replica) streamLoop(ctx context.Context, br *bufio.Reader, bw *bufio.Writer) error {
	for {
		args, err := protocol.ReadCommand(br)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return domain.ErrReplicaDisconnected.WithCause(err)
			}
			return err
		}
		if len(args) == 0 {
			continue
		}

		frameLen := int64(len(protocol.EncodeCommand(args)))
		name := protocol.NormalizeName(args[0])

		switch {
		case name == "REPLCONF" && len(args) >= 2 && protocol.NormalizeName(args[1]) == "GETACK":
			// The ACK carries the offset accumulated before this probe;
			// the probe's own bytes count from the next frame on.
			r.sendAck(bw, r.offset.Load())
			r.offset.Add(frameLen)
		case name == "PING":
			// Heartbeat: consumes offset, applies nothing.
			r.offset.Add(frameLen)
		default:
			if err := r.applier.ApplyFromMaster(args); err != nil {
				r.log.Warn("failed to apply streamed command",
					"command", name, "error", err)
			}
			r.offset.Add(frameLen)
		}
	}
}

// ackLoop volunteers REPLCONF ACK on a timer so the master's view of
// this replica's progress stays fresh between GETACK probes.
func (r *Replica) ackLoop(ctx context.Context, bw *bufio.Writer) {
	t := time.NewTicker(r.ackInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sendAck(bw, r.offset.Load())
		}
	}
}

func (r *Replica) sendAck(bw *bufio.Writer, offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := bw.Write(protocol.EncodeCommandStrings(
		"REPLCONF", "ACK", strconv.FormatInt(offset, 10))); err != nil {
		return
	}
	_ = bw.Flush()
}
