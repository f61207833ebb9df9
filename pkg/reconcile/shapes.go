package reconcile

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/snow-extractor/pkg/pagination"
)

// ShapeMismatch is a page whose raw field set differs from the union of all
// pages.
type ShapeMismatch struct {
	Offset int

	// Missing are fields other pages returned but this page did not.
	Missing []string
}

// CheckPageShapes compares the raw field set of every non-empty page with the
// union over all pages and returns the pages that lack fields. Each mismatch is
// logged as a warning; none of them fails a run.
func CheckPageShapes(pages []pagination.PageResult) []ShapeMismatch {
	union := make(map[string]struct{})
	for _, p := range pages {
		for _, f := range p.Fields {
			union[f] = struct{}{}
		}
	}

	var mismatches []ShapeMismatch
	for _, p := range pages {
		if p.Err != nil || p.Records == 0 {
			continue
		}

		seen := make(map[string]struct{}, len(p.Fields))
		for _, f := range p.Fields {
			seen[f] = struct{}{}
		}

		var missing []string
		for f := range union {
			if _, ok := seen[f]; !ok {
				missing = append(missing, f)
			}
		}
		if len(missing) == 0 {
			continue
		}
		sort.Strings(missing)

		mismatches = append(mismatches, ShapeMismatch{Offset: p.Offset, Missing: missing})
		log.Warn().
			Int("offset", p.Offset).
			Strs("missing_fields", missing).
			Msg("Schema consistency warning: page field set differs from other pages")
	}

	return mismatches
}
