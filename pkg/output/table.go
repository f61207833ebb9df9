// Package output writes extracted tables into the output folder: one CSV file
// per table plus a load manifest next to it.
//
// A table is written to a temporary file first and renamed into place on
// Commit, so readers never see a partial CSV.
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Table is the CSV file of one extracted table.
type Table struct {
	dir  string
	name string
	tmp  *os.File
	done bool
}

// Path returns the final path of the CSV file for name in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".csv")
}

// ManifestPath returns the manifest path for the CSV file of name in dir.
func ManifestPath(dir, name string) string {
	return Path(dir, name) + ".manifest"
}

// Create opens a temporary file in dir that becomes dir/name.csv on Commit.
func Create(dir, name string) (*Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*.csv.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp table: %w", err)
	}

	return &Table{dir: dir, name: name, tmp: tmp}, nil
}

// Write writes to the temporary file.
func (t *Table) Write(p []byte) (int, error) {
	return t.tmp.Write(p)
}

// Path returns the final path of the table.
func (t *Table) Path() string {
	return Path(t.dir, t.name)
}

// Commit syncs the temporary file and renames it over the final path.
func (t *Table) Commit() error {
	if t.done {
		return fmt.Errorf("table %s already closed", t.name)
	}
	t.done = true

	if err := t.tmp.Sync(); err != nil {
		t.discard()
		return fmt.Errorf("sync table: %w", err)
	}
	if err := t.tmp.Close(); err != nil {
		os.Remove(t.tmp.Name())
		return fmt.Errorf("close table: %w", err)
	}
	if err := os.Rename(t.tmp.Name(), t.Path()); err != nil {
		os.Remove(t.tmp.Name())
		return fmt.Errorf("rename table: %w", err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (t *Table) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.discard()
}

func (t *Table) discard() {
	t.tmp.Close()
	os.Remove(t.tmp.Name())
}

// Remove deletes the CSV file and manifest of name in dir, if present.
func Remove(dir, name string) error {
	for _, p := range []string{Path(dir, name), ManifestPath(dir, name)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
