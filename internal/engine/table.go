package engine

import (
	"context"
	"strconv"

	"github.com/yndnr/rivulet-go/internal/core/domain"
	"github.com/yndnr/rivulet-go/internal/protocol"
)

// handlerFunc executes a command under the engine's execution lock.
type handlerFunc func(e *Engine, x *execCtx, sess *Session, args [][]byte) (protocol.Value, error)

// blockingFunc executes a command that may park the connection. It is
// called without the execution lock held and manages locking itself.
type blockingFunc func(ctx context.Context, e *Engine, sess *Session, args [][]byte) (protocol.Value, error)

// commandSpec describes one command.
type commandSpec struct {
	name string
	// arity counts the command name; negative means "at least".
	arity int
	// write marks commands that mutate the keyspace. Writes are
	// rejected from clients on replicas and propagated on masters.
	write bool
	// handler gives the immediate, non-blocking semantics. Inside EXEC
	// every command runs through it.
	handler handlerFunc
	// blocking, when set, overrides handler for direct dispatch.
	blocking blockingFunc
	// queueable commands may appear inside MULTI.
	queueable bool
	// inSubscribe commands stay usable while the connection is in
	// subscriber mode.
	inSubscribe bool
}

func (s *commandSpec) checkArity(n int) bool {
	if s.arity >= 0 {
		return n == s.arity
	}
	return n >= -s.arity
}

// commands is the dispatch table, keyed by upper-case command name.
var commands = map[string]*commandSpec{}

func register(s *commandSpec) {
	commands[s.name] = s
}

func init() {
	// Connection and server.
	register(&commandSpec{name: "PING", arity: -1, handler: pingCmd, queueable: true, inSubscribe: true})
	register(&commandSpec{name: "ECHO", arity: 2, handler: echoCmd, queueable: true})
	register(&commandSpec{name: "CONFIG", arity: -3, handler: configCmd, queueable: true})
	register(&commandSpec{name: "INFO", arity: -1, handler: infoCmd, queueable: true})
	register(&commandSpec{name: "SAVE", arity: 1, handler: saveCmd, queueable: true})

	// Strings and generic keyspace.
	register(&commandSpec{name: "GET", arity: 2, handler: getCmd, queueable: true})
	register(&commandSpec{name: "SET", arity: -3, write: true, handler: setCmd, queueable: true})
	register(&commandSpec{name: "INCR", arity: 2, write: true, handler: incrCmd, queueable: true})
	register(&commandSpec{name: "DEL", arity: -2, write: true, handler: delCmd, queueable: true})
	register(&commandSpec{name: "EXISTS", arity: -2, handler: existsCmd, queueable: true})
	register(&commandSpec{name: "TYPE", arity: 2, handler: typeCmd, queueable: true})
	register(&commandSpec{name: "KEYS", arity: 2, handler: keysCmd, queueable: true})
	register(&commandSpec{name: "TTL", arity: 2, handler: ttlCmd, queueable: true})
	register(&commandSpec{name: "EXPIRE", arity: 3, write: true, handler: expireCmd, queueable: true})

	// Lists.
	register(&commandSpec{name: "LPUSH", arity: -3, write: true, handler: lpushCmd, queueable: true})
	register(&commandSpec{name: "RPUSH", arity: -3, write: true, handler: rpushCmd, queueable: true})
	register(&commandSpec{name: "LPOP", arity: -2, write: true, handler: lpopCmd, queueable: true})
	register(&commandSpec{name: "LLEN", arity: 2, handler: llenCmd, queueable: true})
	register(&commandSpec{name: "LRANGE", arity: 4, handler: lrangeCmd, queueable: true})
	register(&commandSpec{name: "BLPOP", arity: -3, write: true, handler: blpopImmediateCmd, blocking: blpopCmd, queueable: true})

	// Hashes.
	register(&commandSpec{name: "HSET", arity: -4, write: true, handler: hsetCmd, queueable: true})
	register(&commandSpec{name: "HGET", arity: 3, handler: hgetCmd, queueable: true})
	register(&commandSpec{name: "HGETALL", arity: 2, handler: hgetallCmd, queueable: true})
	register(&commandSpec{name: "HDEL", arity: -3, write: true, handler: hdelCmd, queueable: true})

	// Streams.
	register(&commandSpec{name: "XADD", arity: -5, write: true, handler: xaddCmd, queueable: true})
	register(&commandSpec{name: "XRANGE", arity: -4, handler: xrangeCmd, queueable: true})
	register(&commandSpec{name: "XREAD", arity: -4, handler: xreadImmediateCmd, blocking: xreadCmd, queueable: true})

	// Transactions.
	register(&commandSpec{name: "MULTI", arity: 1, handler: multiCmd})
	register(&commandSpec{name: "EXEC", arity: 1, handler: execCmd})
	register(&commandSpec{name: "DISCARD", arity: 1, handler: discardCmd})

	// Replication. REPLCONF and PSYNC open a server-to-server dialogue
	// and have no place inside a transaction.
	register(&commandSpec{name: "WAIT", arity: 3, handler: waitImmediateCmd, blocking: waitCmd, queueable: true})
	register(&commandSpec{name: "REPLCONF", arity: -1, handler: replconfCmd})
	register(&commandSpec{name: "PSYNC", arity: 3, handler: psyncCmd})

	// Pub/sub. Subscriber-mode transitions cannot be deferred to EXEC.
	register(&commandSpec{name: "SUBSCRIBE", arity: -2, handler: subscribeCmd, inSubscribe: true})
	register(&commandSpec{name: "UNSUBSCRIBE", arity: -1, handler: unsubscribeCmd, inSubscribe: true})
	register(&commandSpec{name: "PUBLISH", arity: 3, handler: publishCmd, queueable: true})
}

// enqueue validates a command at queue time and appends it to the
// session's transaction queue. Any queue-time error poisons the
// transaction: EXEC will refuse to run it.
func (e *Engine) enqueue(sess *Session, name string, spec *commandSpec, known bool, args [][]byte) Result {
	var err error
	switch {
	case !known:
		err = unknownCommandErr(name, args)
	case !spec.checkArity(len(args)):
		err = arityErr(name)
	case !spec.queueable:
		err = domain.ErrCommandInMulti.WithMessage("%s is not allowed in transactions", name)
	}
	if err != nil {
		sess.Aborted = true
		return errResult(e.metrics, err)
	}
	sess.queue = append(sess.queue, queuedCommand{spec: spec, args: args})
	return Result{Reply: protocol.SimpleString("QUEUED")}
}

// argInt parses an integer argument.
func argInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, domain.ErrNotInteger
	}
	return n, nil
}

// argSeconds parses a timeout in seconds, allowing fractions.
func argSeconds(b []byte) (float64, error) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || f < 0 {
		return 0, domain.ErrSyntax.WithMessage("timeout is not a float or out of range")
	}
	return f, nil
}
