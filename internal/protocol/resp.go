// Package protocol implements the RESP wire codec: command reading,
// reply values and their encodings.
//
// The engine treats this package as the serialization boundary. Replication
// offsets are defined in terms of EncodeCommand byte lengths, so the
// encoder here is the single source of truth for offset accounting.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol limits to prevent resource exhaustion from malformed input.
const (
	// MaxArrayLen limits the number of elements in a RESP array.
	MaxArrayLen = 1024

	// MaxBulkLen limits the size of a single bulk string (512MB, the
	// protocol maximum for values).
	MaxBulkLen = 512 * 1024 * 1024

	// MaxInlineLen limits inline command line length (4KB).
	MaxInlineLen = 4 * 1024
)

var (
	ErrProtocol      = errors.New("resp: protocol error")
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

// ReadCommand reads one client command: a RESP array of bulk strings, or
// an inline command line.
func ReadCommand(r *bufio.Reader) ([][]byte, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, err
	}

	switch b[0] {
	case '*':
		return readArrayCommand(r)
	default:
		// Inline command (rare, but used by some clients): "PING\r\n"
		line, err := readLine(r, MaxInlineLen)
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, nil
		}
		parts := strings.Fields(line)
		out := make([][]byte, 0, len(parts))
		for _, p := range parts {
			out = append(out, []byte(p))
		}
		return out, nil
	}
}

func readArrayCommand(r *bufio.Reader) ([][]byte, error) {
	// "*<n>\r\n"
	line, err := readLine(r, 64)
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[0] != '*' {
		return nil, fmt.Errorf("%w: expected array", ErrProtocol)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid array length", ErrProtocol)
	}
	if n <= 0 {
		return nil, nil
	}
	if n > MaxArrayLen {
		return nil, fmt.Errorf("%w: array length %d exceeds limit %d", ErrLimitExceeded, n, MaxArrayLen)
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

func readBulkString(r *bufio.Reader) ([]byte, error) {
	line, err := readLine(r, 64)
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[0] != '$' {
		// Support simple strings as args (best-effort).
		if len(line) >= 2 && line[0] == '+' {
			return []byte(line[1:]), nil
		}
		return nil, fmt.Errorf("%w: expected bulk string", ErrProtocol)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	if n > MaxBulkLen {
		return nil, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrLimitExceeded, n, MaxBulkLen)
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		return nil, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return buf[:len(buf)-2], nil
}

// ReadReply reads one server reply. Used on the replica side of the
// replication handshake, where the peer answers with simple strings.
func ReadReply(r *bufio.Reader) (Value, error) {
	b, err := r.Peek(1)
	if err != nil {
		return Value{}, err
	}

	switch b[0] {
	case '+':
		line, err := readLine(r, MaxInlineLen)
		if err != nil {
			return Value{}, err
		}
		return SimpleString(line[1:]), nil
	case '-':
		line, err := readLine(r, MaxInlineLen)
		if err != nil {
			return Value{}, err
		}
		return ErrorString(line[1:]), nil
	case ':':
		line, err := readLine(r, 64)
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(line[1:]), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid integer", ErrProtocol)
		}
		return Integer(n), nil
	case '$':
		data, err := readBulkString(r)
		if err != nil {
			return Value{}, err
		}
		if data == nil {
			return NullBulk(), nil
		}
		return Bulk(data), nil
	case '*':
		args, err := readArrayCommand(r)
		if err != nil {
			return Value{}, err
		}
		vals := make([]Value, 0, len(args))
		for _, a := range args {
			vals = append(vals, Bulk(a))
		}
		return Array(vals...), nil
	default:
		return Value{}, fmt.Errorf("%w: unexpected reply type %q", ErrProtocol, b[0])
	}
}

// ReadSnapshotBlob reads the full-resync snapshot transfer: a bulk-string
// header followed by the raw blob with no trailing CRLF.
func ReadSnapshotBlob(r *bufio.Reader) ([]byte, error) {
	line, err := readLine(r, 64)
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[0] != '$' {
		return nil, fmt.Errorf("%w: expected snapshot header", ErrProtocol)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid snapshot length", ErrProtocol)
	}
	if n > MaxBulkLen {
		return nil, fmt.Errorf("%w: snapshot length %d exceeds limit %d", ErrLimitExceeded, n, MaxBulkLen)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readLine(r *bufio.Reader, maxLen int) (string, error) {
	if maxLen <= 0 {
		return "", fmt.Errorf("%w: invalid maxLen", ErrProtocol)
	}

	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		if err == nil {
			buf = append(buf, frag...)
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			buf = append(buf, frag...)
			if len(buf) > maxLen {
				return "", fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
			}
			continue
		}
		return "", err
	}

	if len(buf) > maxLen {
		return "", fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
	}
	if len(buf) < 2 || !bytes.HasSuffix(buf, []byte("\r\n")) {
		return "", fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}

	buf = bytes.TrimSuffix(buf, []byte("\r\n"))
	return string(buf), nil
}

// EncodeCommand encodes a command as an array of bulk strings. The byte
// length of the result is the command's replication offset contribution.
func EncodeCommand(args [][]byte) []byte {
	var b bytes.Buffer
	b.WriteByte('*')
	b.WriteString(strconv.Itoa(len(args)))
	b.WriteString("\r\n")
	for _, a := range args {
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(len(a)))
		b.WriteString("\r\n")
		b.Write(a)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// EncodeCommandStrings is EncodeCommand for string arguments.
func EncodeCommandStrings(args ...string) []byte {
	bs := make([][]byte, 0, len(args))
	for _, a := range args {
		bs = append(bs, []byte(a))
	}
	return EncodeCommand(bs)
}

// NormalizeName uppercases an ASCII command name, avoiding an allocation
// for tokens that are already uppercase.
func NormalizeName(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
