package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yndnr/rivulet-go/internal/core/domain"
)

// ErrNotFound indicates the snapshot file does not exist.
var ErrNotFound = errors.New("snapshot: not found")

// SaveFile encodes the dump and writes it to path atomically.
func SaveFile(path string, dump []domain.KeyDump) error {
	blob, err := Encode(dump)
	if err != nil {
		return err
	}
	return WriteBlob(path, blob)
}

// WriteBlob writes an already-encoded snapshot to path atomically
// (temp file plus rename).
func WriteBlob(path string, blob []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// LoadFile reads and verifies the snapshot at path.
func LoadFile(path string) ([]domain.KeyDump, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	return Decode(blob)
}
