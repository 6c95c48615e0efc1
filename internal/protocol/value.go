package protocol

import (
	"bytes"
	"strconv"
)

// Kind identifies a reply value type.
type Kind uint8

const (
	KindSimple Kind = iota
	KindError
	KindInteger
	KindBulk
	KindNullBulk
	KindArray
	KindNullArray
	KindRaw
)

// Value is one RESP reply: simple status, error, integer, bulk string,
// array, or one of the nil variants.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Bytes []byte
	Elems []Value
}

// SimpleString returns a "+..." status reply.
func SimpleString(s string) Value { return Value{Kind: KindSimple, Str: s} }

// ErrorString returns a "-..." error reply.
func ErrorString(s string) Value { return Value{Kind: KindError, Str: s} }

// Integer returns a ":..." integer reply.
func Integer(n int64) Value { return Value{Kind: KindInteger, Int: n} }

// Bulk returns a bulk string reply.
func Bulk(b []byte) Value { return Value{Kind: KindBulk, Bytes: b} }

// BulkString returns a bulk string reply from a string.
func BulkString(s string) Value { return Value{Kind: KindBulk, Bytes: []byte(s)} }

// NullBulk returns the nil bulk reply ("$-1").
func NullBulk() Value { return Value{Kind: KindNullBulk} }

// NullArray returns the nil array reply ("*-1").
func NullArray() Value { return Value{Kind: KindNullArray} }

// Array returns an array reply.
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: KindArray, Elems: elems}
}

// Raw returns a reply that is written to the wire verbatim. Used where
// one command produces several top-level frames, such as SUBSCRIBE
// confirming each channel separately.
func Raw(b []byte) Value { return Value{Kind: KindRaw, Bytes: b} }

// OK is the canonical "+OK" status reply.
var OK = SimpleString("OK")

// IsError reports whether the value is an error reply.
func (v Value) IsError() bool { return v.Kind == KindError }

// Encode appends the wire encoding of v to b.
func (v Value) Encode(b *bytes.Buffer) {
	switch v.Kind {
	case KindSimple:
		b.WriteByte('+')
		b.WriteString(v.Str)
		b.WriteString("\r\n")
	case KindError:
		b.WriteByte('-')
		b.WriteString(v.Str)
		b.WriteString("\r\n")
	case KindInteger:
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(v.Int, 10))
		b.WriteString("\r\n")
	case KindBulk:
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(len(v.Bytes)))
		b.WriteString("\r\n")
		b.Write(v.Bytes)
		b.WriteString("\r\n")
	case KindNullBulk:
		b.WriteString("$-1\r\n")
	case KindArray:
		b.WriteByte('*')
		b.WriteString(strconv.Itoa(len(v.Elems)))
		b.WriteString("\r\n")
		for _, e := range v.Elems {
			e.Encode(b)
		}
	case KindNullArray:
		b.WriteString("*-1\r\n")
	case KindRaw:
		b.Write(v.Bytes)
	}
}

// Marshal returns the wire encoding of v.
func (v Value) Marshal() []byte {
	var b bytes.Buffer
	v.Encode(&b)
	return b.Bytes()
}
