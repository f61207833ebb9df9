package output

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest tells the downstream loader how to import a table.
type Manifest struct {
	// Destination is the full target table id ("in.c-bucket.table"); empty
	// lets the loader choose.
	Destination string   `json:"destination,omitempty"`
	Incremental bool     `json:"incremental"`
	PrimaryKey  []string `json:"primary_key"`
}

// Destination builds a table id from a bucket and table name. It returns ""
// when bucket is empty.
func Destination(bucket, table string) string {
	if bucket == "" {
		return ""
	}
	return bucket + "." + table
}

// WriteManifest writes m next to the CSV file of name in dir.
func WriteManifest(dir, name string, m Manifest) error {
	if m.PrimaryKey == nil {
		m.PrimaryKey = []string{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(ManifestPath(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
