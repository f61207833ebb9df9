package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `{
  "action": "run",
  "parameters": {
    "user": "integration",
    "#password": "s3cret",
    "server": "acme.service-now.com",
    "table": "incident",
    "sysparm_query": "active=true^priority=1",
    "sysparm_fields": "sys_id,number,caller_id"
  }
}`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.User != "integration" || cfg.Password != "s3cret" {
		t.Errorf("credentials = %q/%q", cfg.User, cfg.Password)
	}
	if cfg.Server != "acme.service-now.com" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if cfg.Table != "incident" {
		t.Errorf("Table = %q", cfg.Table)
	}
	if cfg.Query != "active=true^priority=1" {
		t.Errorf("Query = %q", cfg.Query)
	}
	if cfg.Fields != "sys_id,number,caller_id" {
		t.Errorf("Fields = %q", cfg.Fields)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if !cfg.Incremental {
		t.Error("Incremental should default to true")
	}
	if cfg.Debug {
		t.Error("Debug should default to false")
	}
}

func TestParse_Overrides(t *testing.T) {
	data := `{"parameters": {"user": "u", "#password": "p", "server": "s", "table": "problem", "concurrency": 2, "incremental": false, "debug": true, "bucket": "in.c-snow"}}`

	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.Incremental {
		t.Error("Incremental = true, want false")
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.Bucket != "in.c-snow" {
		t.Errorf("Bucket = %q", cfg.Bucket)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name:    "not a document",
			data:    `{"parameters": [`,
			wantMsg: "failed to parse config",
		},
		{
			name:    "missing everything",
			data:    `{"parameters": {}}`,
			wantMsg: "missing required parameters: user, server, table",
		},
		{
			name:    "missing table",
			data:    `{"parameters": {"user": "u", "server": "s"}}`,
			wantMsg: "missing required parameters: table",
		},
		{
			name:    "bad table name",
			data:    `{"parameters": {"user": "u", "#password": "p", "server": "s", "table": "inc/ident"}}`,
			wantMsg: "not a valid table name",
		},
		{
			name:    "concurrency out of range",
			data:    `{"parameters": {"user": "u", "#password": "p", "server": "s", "table": "t", "concurrency": 500}}`,
			wantMsg: "concurrency must be between 1 and 64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(validConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if want := filepath.Join(dir, "out", "tables"); cfg.TablesDir() != want {
		t.Errorf("TablesDir() = %q, want %q", cfg.TablesDir(), want)
	}
	if want := filepath.Join(dir, "in", "state.json"); cfg.StateInPath() != want {
		t.Errorf("StateInPath() = %q, want %q", cfg.StateInPath(), want)
	}
	if want := filepath.Join(dir, "out", "state.json"); cfg.StateOutPath() != want {
		t.Errorf("StateOutPath() = %q, want %q", cfg.StateOutPath(), want)
	}
	if want := filepath.Join(dir, "tmp"); cfg.ScratchDir() != want {
		t.Errorf("ScratchDir() = %q, want %q", cfg.ScratchDir(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() should fail without config.json")
	}
}

func TestDataDirFromEnv(t *testing.T) {
	t.Setenv("KBC_DATADIR", "")
	if got := DataDirFromEnv(); got != DefaultDataDir {
		t.Errorf("DataDirFromEnv() = %q, want %q", got, DefaultDataDir)
	}

	t.Setenv("KBC_DATADIR", "/tmp/kbc")
	if got := DataDirFromEnv(); got != "/tmp/kbc" {
		t.Errorf("DataDirFromEnv() = %q, want /tmp/kbc", got)
	}
}
