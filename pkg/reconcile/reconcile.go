// Package reconcile merges scratch records into one CSV table whose column set
// never shrinks between runs.
//
// Reconcile reads the records twice. The first pass finds every column with at
// least one non-empty value; columns that are empty in every record are
// pruned. The output columns are the surviving columns joined with the columns
// of the previous successful run. The second pass writes one row per record,
// filling missing columns with an empty string.
package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/snow-extractor/pkg/flatten"
	"github.com/Sternrassler/snow-extractor/pkg/scratch"
)

// DefaultPrimaryKey is the primary key of every ServiceNow table.
var DefaultPrimaryKey = []string{"sys_id"}

// Source yields flat records in a stable order. *scratch.Store implements it.
type Source interface {
	Each(fn func(scratch.Key, map[string]any) error) error
}

// Result describes a reconciled table.
type Result struct {
	// Columns is the header written, primary key columns first.
	Columns []string

	// Rows is the number of data rows written.
	Rows int

	// Pruned are columns seen only with empty values that were not kept from
	// the previous run.
	Pruned []string

	// Retained are previous columns that had no non-empty value this run.
	Retained []string
}

// Reconciler writes reconciled tables.
type Reconciler struct {
	primaryKey []string
}

// New creates a Reconciler that orders primaryKey columns first.
func New(primaryKey []string) *Reconciler {
	return &Reconciler{primaryKey: primaryKey}
}

// Reconcile writes src as CSV to w using DefaultPrimaryKey.
func Reconcile(src Source, previous []string, w io.Writer) (Result, error) {
	return New(DefaultPrimaryKey).Reconcile(src, previous, w)
}

// Reconcile writes src as CSV to w and returns the columns to persist for the
// next run.
func (r *Reconciler) Reconcile(src Source, previous []string, w io.Writer) (Result, error) {
	observed := make(map[string]struct{})
	nonEmpty := make(map[string]struct{})

	err := src.Each(func(_ scratch.Key, rec map[string]any) error {
		for col, v := range rec {
			observed[col] = struct{}{}
			if flatten.NonEmpty(v) {
				nonEmpty[col] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("survey columns: %w", err)
	}

	final := make(map[string]struct{}, len(nonEmpty)+len(previous))
	for col := range nonEmpty {
		final[col] = struct{}{}
	}

	res := Result{}
	for _, col := range previous {
		if _, ok := nonEmpty[col]; !ok {
			res.Retained = append(res.Retained, col)
		}
		final[col] = struct{}{}
	}
	for col := range observed {
		if _, ok := final[col]; !ok {
			res.Pruned = append(res.Pruned, col)
		}
	}
	sort.Strings(res.Retained)
	sort.Strings(res.Pruned)

	res.Columns = r.order(final)

	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return Result{}, fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(res.Columns))
	err = src.Each(func(_ scratch.Key, rec map[string]any) error {
		for i, col := range res.Columns {
			row[i] = flatten.String(rec[col])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
		res.Rows++
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("write rows: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return Result{}, fmt.Errorf("flush csv: %w", err)
	}

	log.Debug().
		Int("rows", res.Rows).
		Int("columns", len(res.Columns)).
		Strs("pruned", res.Pruned).
		Strs("retained", res.Retained).
		Msg("Table reconciled")

	return res, nil
}

// order returns cols sorted, with the primary key columns that are present
// moved to the front in key order.
func (r *Reconciler) order(cols map[string]struct{}) []string {
	out := make([]string, 0, len(cols))
	lead := make(map[string]struct{}, len(r.primaryKey))
	for _, pk := range r.primaryKey {
		if _, ok := cols[pk]; ok {
			if _, dup := lead[pk]; !dup {
				out = append(out, pk)
				lead[pk] = struct{}{}
			}
		}
	}

	rest := make([]string, 0, len(cols))
	for col := range cols {
		if _, ok := lead[col]; !ok {
			rest = append(rest, col)
		}
	}
	sort.Strings(rest)

	return append(out, rest...)
}
