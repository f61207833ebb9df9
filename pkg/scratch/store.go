// Package scratch provides the durable per-record store used between page
// fetching and table reconciliation.
//
// Every record is written to its own lz4-compressed JSON file named after a
// deterministic Key. Writing the same key twice replaces the earlier file, so a
// retried page overwrites what a failed attempt left behind instead of
// duplicating it.
package scratch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pierrec/lz4/v4"
)

const fileSuffix = ".json.lz4"

// ErrInvalidKey is returned when a file name does not encode a Key.
var ErrInvalidKey = errors.New("invalid scratch key")

// Key identifies one record by the page offset it was fetched from and its
// position within that page.
type Key struct {
	Offset   int
	Position int
}

// String returns the zero-padded form used as file name. Lexical order of the
// strings equals (Offset, Position) order.
func (k Key) String() string {
	return fmt.Sprintf("%012d-%06d", k.Offset, k.Position)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	off, pos, ok := strings.Cut(s, "-")
	if !ok {
		return Key{}, fmt.Errorf("%w %q", ErrInvalidKey, s)
	}
	offset, err := strconv.Atoi(off)
	if err != nil {
		return Key{}, fmt.Errorf("%w %q: %v", ErrInvalidKey, s, err)
	}
	position, err := strconv.Atoi(pos)
	if err != nil {
		return Key{}, fmt.Errorf("%w %q: %v", ErrInvalidKey, s, err)
	}
	return Key{Offset: offset, Position: position}, nil
}

// Store is a directory of scratch records. Put is safe for concurrent use as
// long as callers write distinct keys; Each must not run concurrently with Put.
type Store struct {
	dir string
}

// New creates a fresh store directory under root, named after runID.
func New(root, runID string) (*Store, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	dir := filepath.Join(root, "scratch-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Put durably writes rec under key, replacing any previous record with the same key.
func (s *Store) Put(key Key, rec map[string]any) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	tmpName := tmp.Name()

	if err := encode(tmp, rec); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write scratch record %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync scratch record %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close scratch record %s: %w", key, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, key.String()+fileSuffix)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit scratch record %s: %w", key, err)
	}
	return nil
}

// Each calls fn for every stored record in key order. Iteration stops at the
// first error returned by fn.
func (s *Store) Each(fn func(Key, map[string]any) error) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}

	for _, key := range keys {
		rec, err := s.read(key)
		if err != nil {
			return err
		}
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns all stored keys in order.
func (s *Store) Keys() ([]Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list scratch dir: %w", err)
	}

	// ReadDir sorts by file name, which is key order.
	keys := make([]Key, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := ParseKey(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Len returns the number of stored records.
func (s *Store) Len() (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Trim removes the records stored for the page at offset whose position is
// keep or higher. Trim is safe to run concurrently with Put for other offsets.
func (s *Store) Trim(offset, keep int) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key.Offset != offset || key.Position < keep {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, key.String()+fileSuffix))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("trim scratch record %s: %w", key, err)
		}
	}
	return nil
}

// Remove deletes the store directory and everything in it.
func (s *Store) Remove() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

func (s *Store) read(key Key) (map[string]any, error) {
	f, err := os.Open(filepath.Join(s.dir, key.String()+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("open scratch record %s: %w", key, err)
	}
	defer f.Close()

	rec, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("read scratch record %s: %w", key, err)
	}
	return rec, nil
}

func encode(w io.Writer, rec map[string]any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	zw := lz4.NewWriter(w)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	return zw.Close()
}

func decode(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(lz4.NewReader(r))
	dec.UseNumber()

	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return rec, nil
}
