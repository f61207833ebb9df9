// Package flatten collapses nested ServiceNow records into single-level rows.
//
// Nested objects are merged into their parent with path-joined keys:
//
//	{"caller_id": {"link": "https://...", "value": "abc"}}
//
// becomes
//
//	{"caller_id_link": "https://...", "caller_id_value": "abc"}
//
// Only objects are flattened. Lists and scalars are kept verbatim at whatever
// depth they appear.
package flatten

import (
	"sort"
)

// DefaultSeparator joins parent and child keys.
const DefaultSeparator = "_"

// Record flattens rec using sep between path segments. The input is not modified.
//
// An empty nested object becomes its joined key with an empty string value, so
// the column is still observed and can be pruned later.
//
// Keys are visited in sorted order; when two paths produce the same joined key
// (for example "a_b" next to {"a": {"b": ...}}) the lexically later path wins
// and the joined key is returned in collisions, sorted.
func Record(rec map[string]any, sep string) (out map[string]any, collisions []string) {
	out = make(map[string]any, len(rec))
	seen := make(map[string]struct{})
	flattenInto(out, seen, "", rec, sep)

	if len(seen) == 0 {
		return out, nil
	}
	collisions = make([]string, 0, len(seen))
	for k := range seen {
		collisions = append(collisions, k)
	}
	sort.Strings(collisions)
	return out, collisions
}

func flattenInto(out map[string]any, collided map[string]struct{}, prefix string, m map[string]any, sep string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + sep + k
		}

		nested, ok := m[k].(map[string]any)
		if ok && len(nested) > 0 {
			flattenInto(out, collided, name, nested, sep)
			continue
		}

		if _, exists := out[name]; exists {
			collided[name] = struct{}{}
		}
		if ok {
			out[name] = ""
		} else {
			out[name] = m[k]
		}
	}
}
