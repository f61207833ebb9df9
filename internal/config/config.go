// Package config loads the extractor configuration from a Keboola-style data
// folder.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDataDir is used when KBC_DATADIR is not set.
const DefaultDataDir = "/data"

// DefaultConcurrency is the number of pages fetched in parallel.
const DefaultConcurrency = 8

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// File is the layout of config.json.
type File struct {
	Parameters Parameters `yaml:"parameters"`
	Action     string     `yaml:"action"`
}

// Parameters holds the extractor parameters.
type Parameters struct {
	User     string `yaml:"user"`
	Password string `yaml:"#password"`
	Server   string `yaml:"server"`
	Table    string `yaml:"table"`

	// Query is passed verbatim as sysparm_query.
	Query string `yaml:"sysparm_query"`

	// Fields is passed verbatim as sysparm_fields.
	Fields string `yaml:"sysparm_fields"`

	Concurrency int    `yaml:"concurrency"`
	Incremental *bool  `yaml:"incremental"`
	Bucket      string `yaml:"bucket"`
	Debug       bool   `yaml:"debug"`
}

// Config is the resolved configuration of one run.
type Config struct {
	User        string
	Password    string
	Server      string
	Table       string
	Query       string
	Fields      string
	Concurrency int
	Incremental bool
	Bucket      string
	Debug       bool

	DataDir string
}

// TablesDir returns the directory output tables are written to.
func (c *Config) TablesDir() string {
	return filepath.Join(c.DataDir, "out", "tables")
}

// StateInPath returns the path of the state written by the previous run.
func (c *Config) StateInPath() string {
	return filepath.Join(c.DataDir, "in", "state.json")
}

// StateOutPath returns the path the state of this run is written to.
func (c *Config) StateOutPath() string {
	return filepath.Join(c.DataDir, "out", "state.json")
}

// ScratchDir returns the directory for intermediate files.
func (c *Config) ScratchDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// DataDirFromEnv returns KBC_DATADIR or DefaultDataDir.
func DataDirFromEnv() string {
	if dir := os.Getenv("KBC_DATADIR"); dir != "" {
		return dir
	}
	return DefaultDataDir
}

// Load reads dataDir/config.json and validates it.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, "config.json")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir
	return cfg, nil
}

// Parse decodes config.json content, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalid, err)
	}

	p := file.Parameters
	cfg := &Config{
		User:        strings.TrimSpace(p.User),
		Password:    p.Password,
		Server:      strings.TrimSpace(p.Server),
		Table:       strings.TrimSpace(p.Table),
		Query:       p.Query,
		Fields:      p.Fields,
		Concurrency: p.Concurrency,
		Incremental: true,
		Bucket:      strings.TrimSpace(p.Bucket),
		Debug:       p.Debug,
	}

	// Set defaults
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if p.Incremental != nil {
		cfg.Incremental = *p.Incremental
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required parameters and ranges. An empty password is
// allowed and sent as such.
func (c *Config) Validate() error {
	var missing []string
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Server == "" {
		missing = append(missing, "server")
	}
	if c.Table == "" {
		missing = append(missing, "table")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required parameters: %s", ErrInvalid, strings.Join(missing, ", "))
	}

	if strings.ContainsAny(c.Table, "/?# ") {
		return fmt.Errorf("%w: table %q is not a valid table name", ErrInvalid, c.Table)
	}
	if c.Concurrency < 1 || c.Concurrency > 64 {
		return fmt.Errorf("%w: concurrency must be between 1 and 64, got %d", ErrInvalid, c.Concurrency)
	}
	return nil
}
