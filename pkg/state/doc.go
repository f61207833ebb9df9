// Package state persists the output column set of each extracted table between
// runs, so a table's schema never shrinks when ServiceNow stops returning a
// field.
//
// Two backends implement Store:
//
//   - FileStore reads the previous state from one JSON file and writes the new
//     state to another (the Keboola in/state.json and out/state.json layout).
//   - RedisStore keeps one JSON document per table in Redis, for runners that
//     do not carry files between executions.
//
// # Basic Usage
//
//	store := state.NewFileStore("/data/in/state.json", "/data/out/state.json")
//	key := state.Key{Host: "acme.service-now.com", Table: "incident"}
//
//	previous, err := store.Load(ctx, key)
//	// ... extract ...
//	err = store.Save(ctx, key, columns)
//
// Load returns an empty column set when nothing was saved yet. Callers save
// only after a run succeeded.
//
// # Metrics
//
//   - snow_state_operations_total{backend,operation}
//   - snow_state_errors_total{backend,operation}
package state
