package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const backendFile = "file"

// fileState is the on-disk layout shared by every table written by one
// FileStore. Unknown top-level keys are preserved.
type fileState struct {
	Schemas map[string]Document        `json:"schemas"`
	Extra   map[string]json.RawMessage `json:"-"`
}

func (f *fileState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Schemas = map[string]Document{}
	if s, ok := raw["schemas"]; ok {
		if err := json.Unmarshal(s, &f.Schemas); err != nil {
			return err
		}
		delete(raw, "schemas")
	}
	f.Extra = raw
	return nil
}

func (f fileState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+1)
	for k, v := range f.Extra {
		out[k] = v
	}
	out["schemas"] = f.Schemas
	return json.Marshal(out)
}

// FileStore reads state from InPath and writes it to OutPath.
// InPath and OutPath may be the same file.
type FileStore struct {
	InPath  string
	OutPath string

	mu sync.Mutex
}

// NewFileStore creates a file-backed Store.
func NewFileStore(inPath, outPath string) *FileStore {
	return &FileStore{InPath: inPath, OutPath: outPath}
}

// Load returns the columns saved for key in InPath. A missing file yields an
// empty set.
func (s *FileStore) Load(_ context.Context, key Key) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	Operations.WithLabelValues(backendFile, "load").Inc()

	st, err := readFileState(s.InPath)
	if err != nil {
		Errors.WithLabelValues(backendFile, "load").Inc()
		return nil, err
	}
	return st.Schemas[key.String()].Columns, nil
}

// Save writes the columns for key to OutPath. Other tables already present in
// OutPath, or in InPath when OutPath does not exist yet, are kept.
func (s *FileStore) Save(_ context.Context, key Key, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	Operations.WithLabelValues(backendFile, "save").Inc()

	if err := s.save(key, columns); err != nil {
		Errors.WithLabelValues(backendFile, "save").Inc()
		return err
	}
	return nil
}

func (s *FileStore) save(key Key, columns []string) error {
	base := s.OutPath
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		base = s.InPath
	}

	st, err := readFileState(base)
	if err != nil {
		return err
	}
	st.Schemas[key.String()] = newDocument(columns)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.OutPath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.OutPath), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.OutPath); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func readFileState(path string) (fileState, error) {
	st := fileState{Schemas: map[string]Document{}}
	if path == "" {
		return st, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state %s: %w", path, err)
	}
	if len(data) == 0 {
		return st, nil
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("%w: %s: %v", ErrInvalidState, path, err)
	}
	if st.Schemas == nil {
		st.Schemas = map[string]Document{}
	}
	return st, nil
}
