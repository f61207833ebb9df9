package state

import (
	"strings"
)

// Key identifies the persisted schema of one output table.
type Key struct {
	// Host is the ServiceNow instance host (e.g., "acme.service-now.com").
	Host string

	// Table is the ServiceNow table name (e.g., "incident").
	Table string

	// Bucket is the optional output bucket the table is loaded into.
	Bucket string
}

// String generates a deterministic key string.
// Format: snow:schema:host:table[:bucket=name]
//
// Example:
//
//	snow:schema:acme.service-now.com:incident:bucket=in.c-servicenow
func (k Key) String() string {
	parts := []string{"snow", "schema"}

	if host := strings.ToLower(strings.TrimSpace(k.Host)); host != "" {
		parts = append(parts, host)
	}

	parts = append(parts, strings.TrimSpace(k.Table))

	if k.Bucket != "" {
		parts = append(parts, "bucket="+k.Bucket)
	}

	return strings.Join(parts, ":")
}
