// Package snapshot implements the SnapshotCodec: serializing the keyspace
// to an opaque blob for full-resync transfer and for on-disk persistence.
//
// Blob layout: magic, JSON header with length prefix, JSON payload with
// length prefix, sha256 checksum trailer. Readers verify magic and
// checksum before trusting any payload bytes.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/rivulet-go/internal/core/domain"
)

// magicBytes identify snapshot blobs.
var magicBytes = []byte("RVSNAP01")

const (
	headerVersion = 1
	checksumSize  = 32
)

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrTruncated        = errors.New("snapshot: truncated blob")
)

type header struct {
	Version   int   `json:"version"`
	CreatedAt int64 `json:"created_at"`
	KeyCount  int   `json:"key_count"`
}

type wireEntry struct {
	Key       string      `json:"k"`
	ExpiresAt int64       `json:"exp,omitempty"`
	Kind      uint8       `json:"t"`
	Str       string      `json:"s,omitempty"`
	List      []string    `json:"l,omitempty"`
	Hash      map[string]string `json:"h,omitempty"`
	Stream    *wireStream `json:"x,omitempty"`
}

type wireStream struct {
	LastMs  uint64            `json:"lms"`
	LastSeq uint64            `json:"lseq"`
	Entries []wireStreamEntry `json:"e,omitempty"`
}

type wireStreamEntry struct {
	Ms     uint64   `json:"ms"`
	Seq    uint64   `json:"seq"`
	Fields []string `json:"f"`
}

func toWire(d domain.KeyDump) wireEntry {
	w := wireEntry{
		Key:       d.Key,
		ExpiresAt: d.ExpiresAt,
		Kind:      uint8(d.Value.Kind),
	}
	switch d.Value.Kind {
	case domain.KindString:
		w.Str = d.Value.Str
	case domain.KindList:
		w.List = d.Value.List
	case domain.KindHash:
		w.Hash = d.Value.Hash
	case domain.KindStream:
		ws := &wireStream{
			LastMs:  d.Value.Stream.LastID.Ms,
			LastSeq: d.Value.Stream.LastID.Seq,
		}
		for _, e := range d.Value.Stream.Entries {
			ws.Entries = append(ws.Entries, wireStreamEntry{Ms: e.ID.Ms, Seq: e.ID.Seq, Fields: e.Fields})
		}
		w.Stream = ws
	}
	return w
}

func fromWire(w wireEntry) (domain.KeyDump, error) {
	d := domain.KeyDump{Key: w.Key, ExpiresAt: w.ExpiresAt}
	switch domain.ValueKind(w.Kind) {
	case domain.KindString:
		d.Value = domain.NewString(w.Str)
	case domain.KindList:
		d.Value = domain.NewList(w.List...)
	case domain.KindHash:
		v := domain.NewHash()
		for k, val := range w.Hash {
			v.Hash[k] = val
		}
		d.Value = v
	case domain.KindStream:
		v := domain.NewStream()
		if w.Stream != nil {
			for _, e := range w.Stream.Entries {
				v.Stream.Entries = append(v.Stream.Entries, domain.StreamEntry{
					ID:     domain.StreamID{Ms: e.Ms, Seq: e.Seq},
					Fields: e.Fields,
				})
			}
			v.Stream.LastID = domain.StreamID{Ms: w.Stream.LastMs, Seq: w.Stream.LastSeq}
		}
		d.Value = v
	default:
		return domain.KeyDump{}, fmt.Errorf("snapshot: unknown value kind %d for key %q", w.Kind, w.Key)
	}
	return d, nil
}

// Encode serializes the dump into a self-verifying blob.
func Encode(dump []domain.KeyDump) ([]byte, error) {
	var buf bytes.Buffer
	hash := sha256.New()

	write := func(p []byte) {
		buf.Write(p)
		hash.Write(p)
	}

	write(magicBytes)

	hdrJSON, err := json.Marshal(header{
		Version:   headerVersion,
		CreatedAt: time.Now().UnixMilli(),
		KeyCount:  len(dump),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hdrJSON)))
	write(lenBuf[:])
	write(hdrJSON)

	entries := make([]wireEntry, 0, len(dump))
	for _, d := range dump {
		entries = append(entries, toWire(d))
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal entries: %w", err)
	}

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	write(lenBuf[:])
	write(data)

	// Checksum trailer covers everything before it.
	buf.Write(hash.Sum(nil))
	return buf.Bytes(), nil
}

// Decode verifies and deserializes a blob produced by Encode.
func Decode(blob []byte) ([]domain.KeyDump, error) {
	if len(blob) < len(magicBytes)+checksumSize {
		return nil, ErrTruncated
	}
	if !bytes.Equal(blob[:len(magicBytes)], magicBytes) {
		return nil, ErrInvalidMagic
	}

	body, trailer := blob[:len(blob)-checksumSize], blob[len(blob)-checksumSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, ErrChecksumMismatch
	}

	r := bytes.NewReader(body[len(magicBytes):])

	readChunk := func() ([]byte, error) {
		var lenBuf [4]byte
		if _, err := r.Read(lenBuf[:]); err != nil {
			return nil, ErrTruncated
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if uint32(r.Len()) < n {
			return nil, ErrTruncated
		}
		chunk := make([]byte, n)
		if _, err := r.Read(chunk); err != nil {
			return nil, ErrTruncated
		}
		return chunk, nil
	}

	hdrJSON, err := readChunk()
	if err != nil {
		return nil, err
	}
	var hdr header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal header: %w", err)
	}
	if hdr.Version != headerVersion {
		return nil, fmt.Errorf("snapshot: unsupported version %d", hdr.Version)
	}

	data, err := readChunk()
	if err != nil {
		return nil, err
	}
	var entries []wireEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal entries: %w", err)
	}

	dump := make([]domain.KeyDump, 0, len(entries))
	for _, w := range entries {
		d, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		dump = append(dump, d)
	}
	return dump, nil
}
