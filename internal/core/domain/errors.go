package domain

import (
	"errors"
	"fmt"
)

// DomainError is a structured error with a stable code and the exact
// protocol reply text clients receive. Prefix is the RESP error class
// ("ERR", "WRONGTYPE", ...) and Message the human-readable remainder.
type DomainError struct {
	Code    string // stable internal code (e.g. "RV-CMD-4001")
	Prefix  string // RESP error class
	Message string // reply text after the class
	Cause   error  // underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return fmt.Sprintf("[%s] %s %s", e.Code, e.Prefix, e.Message)
}

// Reply returns the wire-level error line, without the leading '-'.
func (e *DomainError) Reply() string {
	return e.Prefix + " " + e.Message
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support, matching by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError.
func NewDomainError(code, prefix, message string) *DomainError {
	return &DomainError{Code: code, Prefix: prefix, Message: message}
}

// WithMessage returns a copy of the error with a different reply message.
// The code and class are preserved so errors.Is still matches.
func (e *DomainError) WithMessage(format string, args ...any) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Prefix:  e.Prefix,
		Message: fmt.Sprintf(format, args...),
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Prefix:  e.Prefix,
		Message: e.Message,
		Cause:   cause,
	}
}

// IsDomainError checks if err is a DomainError with the given code.
// An empty code matches any DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// ErrorReply converts any error into the wire-level error line.
func ErrorReply(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Reply()
	}
	return "ERR " + err.Error()
}

// Command errors (CMD): per-command, reported to the caller; the
// connection stays usable.
var (
	// ErrWrongArity indicates a bad argument count. Use WithMessage to
	// name the command.
	ErrWrongArity = NewDomainError("RV-CMD-4001", "ERR", "wrong number of arguments")

	// ErrWrongType indicates an operation against a key of another kind.
	ErrWrongType = NewDomainError("RV-CMD-4002", "WRONGTYPE", "Operation against a key holding the wrong kind of value")

	// ErrUnknownCommand indicates an unrecognized command name.
	ErrUnknownCommand = NewDomainError("RV-CMD-4003", "ERR", "unknown command")

	// ErrNotInteger indicates a value that is not a valid 64-bit integer.
	ErrNotInteger = NewDomainError("RV-CMD-4004", "ERR", "value is not an integer or out of range")

	// ErrSyntax indicates bad option syntax within a known command.
	ErrSyntax = NewDomainError("RV-CMD-4005", "ERR", "syntax error")

	// ErrReadOnlyReplica indicates a write arriving at a replica from a
	// normal client.
	ErrReadOnlyReplica = NewDomainError("RV-CMD-4006", "READONLY", "You can't write against a read only replica.")
)

// Transaction errors (TXN).
var (
	// ErrNestedMulti indicates MULTI inside an open transaction.
	ErrNestedMulti = NewDomainError("RV-TXN-4101", "ERR", "MULTI calls can not be nested")

	// ErrExecWithoutMulti indicates EXEC with no open transaction.
	ErrExecWithoutMulti = NewDomainError("RV-TXN-4102", "ERR", "EXEC without MULTI")

	// ErrDiscardWithoutMulti indicates DISCARD with no open transaction.
	ErrDiscardWithoutMulti = NewDomainError("RV-TXN-4103", "ERR", "DISCARD without MULTI")

	// ErrTransactionAborted indicates EXEC on a transaction poisoned by a
	// queuing-time error.
	ErrTransactionAborted = NewDomainError("RV-TXN-4104", "EXECABORT", "Transaction discarded because of previous errors.")

	// ErrCommandInMulti indicates a command that may not be queued.
	ErrCommandInMulti = NewDomainError("RV-TXN-4105", "ERR", "command is not allowed in transactions")
)

// Stream errors (STRM).
var (
	// ErrStreamIDTooSmall indicates an XADD ID not greater than the top
	// entry.
	ErrStreamIDTooSmall = NewDomainError("RV-STRM-4201", "ERR", "The ID specified in XADD is equal or smaller than the target stream top item")

	// ErrStreamIDZero indicates the reserved 0-0 ID.
	ErrStreamIDZero = NewDomainError("RV-STRM-4202", "ERR", "The ID specified in XADD must be greater than 0-0")

	// ErrInvalidStreamID indicates an unparseable stream ID.
	ErrInvalidStreamID = NewDomainError("RV-STRM-4203", "ERR", "Invalid stream ID specified as stream command argument")
)

// Replication errors (REPL): isolated to the affected replica link.
var (
	// ErrHandshakeFailed indicates the replica handshake did not complete.
	ErrHandshakeFailed = NewDomainError("RV-REPL-5101", "ERR", "replication handshake failed")

	// ErrReplicaDisconnected indicates the replica link dropped.
	ErrReplicaDisconnected = NewDomainError("RV-REPL-5102", "ERR", "replica disconnected")

	// ErrSnapshotTransfer indicates the full-resync snapshot transfer failed.
	ErrSnapshotTransfer = NewDomainError("RV-REPL-5103", "ERR", "snapshot transfer failed")

	// ErrWaitOnReplica rejects WAIT on a server that is itself a replica.
	ErrWaitOnReplica = NewDomainError("RV-REPL-5104", "ERR", "WAIT cannot be used with replica instances")
)

// Pub/Sub errors (PUBSUB).
var (
	// ErrNotAllowedSubscribed indicates a command issued in subscriber
	// mode that is not part of the pub/sub family.
	ErrNotAllowedSubscribed = NewDomainError("RV-PUBSUB-4301", "ERR", "only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT are allowed in this context")
)
