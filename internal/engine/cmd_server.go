package engine

import (
	"fmt"
	"net"
	"strings"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/infra/buildinfo"
	"github.com/yndnr/rivulet-go/internal/protocol"
	"github.com/yndnr/rivulet-go/internal/snapshot"
	"github.com/yndnr/rivulet-go/internal/store"
)

func pingCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if len(args) > 2 {
		return protocol.Value{}, arityErr("PING")
	}
	// In subscriber mode the reply arrives as a push-style pair.
	if sess.Sub != nil && sess.Sub.Count() > 0 {
		msg := ""
		if len(args) == 2 {
			msg = string(args[1])
		}
		return protocol.Array(protocol.BulkString("pong"), protocol.BulkString(msg)), nil
	}
	if len(args) == 2 {
		return protocol.Bulk(args[1]), nil
	}
	return protocol.SimpleString("PONG"), nil
}

func echoCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	return protocol.Bulk(args[1]), nil
}

// configCmd implements CONFIG GET and CONFIG SET over the runtime
// parameter table.
func configCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	switch protocol.NormalizeName(args[1]) {
	case "GET":
		var elems []protocol.Value
		e.paramMu.RLock()
		for _, pattern := range args[2:] {
			for name, value := range e.params {
				if store.MatchGlob(string(pattern), name) {
					elems = append(elems, protocol.BulkString(name), protocol.BulkString(value))
				}
			}
		}
		e.paramMu.RUnlock()
		return protocol.Array(elems...), nil

	case "SET":
		pairs := args[2:]
		if len(pairs) == 0 || len(pairs)%2 != 0 {
			return protocol.Value{}, arityErr("CONFIG")
		}
		for i := 0; i < len(pairs); i += 2 {
			name := strings.ToLower(string(pairs[i]))
			if !e.setParam(name, string(pairs[i+1])) {
				return protocol.Value{}, domain.ErrSyntax.WithMessage(
					"Unknown option or number of arguments for CONFIG SET - '%s'", name)
			}
		}
		return protocol.OK, nil

	default:
		return protocol.Value{}, domain.ErrSyntax.WithMessage(
			"Unknown CONFIG subcommand or wrong number of arguments for '%s'", args[1])
	}
}

// infoCmd reports server and replication state. With a section argument
// only that section is returned.
func infoCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	section := ""
	if len(args) > 1 {
		section = strings.ToLower(string(args[1]))
	}

	var b strings.Builder
	if section == "" || section == "server" {
		b.WriteString("# Server\r\n")
		fmt.Fprintf(&b, "rivulet_version:%s\r\n", buildinfo.Version)
		fmt.Fprintf(&b, "rivulet_commit:%s\r\n", buildinfo.Commit)
		b.WriteString("\r\n")
	}
	if section == "" || section == "replication" {
		b.WriteString("# Replication\r\n")
		if e.master != nil {
			fmt.Fprintf(&b, "role:master\r\n")
			fmt.Fprintf(&b, "connected_slaves:%d\r\n", e.master.ReplicaCount())
			fmt.Fprintf(&b, "master_replid:%s\r\n", e.master.ReplicationID())
			fmt.Fprintf(&b, "master_repl_offset:%d\r\n", e.master.Offset())
		} else {
			host, port, _ := net.SplitHostPort(e.replicaOf)
			fmt.Fprintf(&b, "role:slave\r\n")
			fmt.Fprintf(&b, "master_host:%s\r\n", host)
			fmt.Fprintf(&b, "master_port:%s\r\n", port)
			fmt.Fprintf(&b, "slave_read_only:1\r\n")
			offset := int64(0)
			if e.replica != nil {
				offset = e.replica.Offset()
			}
			fmt.Fprintf(&b, "slave_repl_offset:%d\r\n", offset)
		}
		b.WriteString("\r\n")
	}
	return protocol.BulkString(b.String()), nil
}

// saveCmd writes the snapshot synchronously. The execution lock is
// already held, so the dump is a consistent point-in-time view; writes
// stall until the file is on disk.
func saveCmd(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error) {
	if err := snapshot.SaveFile(e.snapshotPath(), e.store.Dump()); err != nil {
		return protocol.Value{}, err
	}
	e.log.Info("snapshot saved", "path", e.snapshotPath(), "keys", e.store.Len())
	return protocol.OK, nil
}
