// Package pagination splits a remote table into fixed-size pages and fetches
// them in parallel.
//
// ServiceNow reports the total row count up front through the stats endpoint,
// so every page offset is known before the first page is requested. Plan turns
// that count into offsets, and a Dispatcher runs one fetch per offset on a
// bounded worker pool.
//
// Example usage:
//
//	offsets := pagination.Plan(total, 500)
//	d := pagination.NewDispatcher(pagination.DefaultConfig())
//	results, err := d.RunAll(ctx, offsets, fetcher)
//
// The dispatcher:
//   - Runs at most MaxConcurrency fetches at a time (default 8)
//   - Lets fetches that already started finish after a failure
//   - Skips fetches that had not started yet once a failure is seen
//   - Returns the first failure and one result per offset, in offset order
package pagination
