package state

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrInvalidState indicates a persisted state document could not be decoded.
var ErrInvalidState = errors.New("invalid state document")

// Store loads and saves the column set of a table.
type Store interface {
	// Load returns the columns saved for key, or an empty set if none were saved.
	Load(ctx context.Context, key Key) ([]string, error)

	// Save replaces the columns saved for key.
	Save(ctx context.Context, key Key, columns []string) error
}

// Document is the persisted form of one table's schema.
type Document struct {
	Columns   []string  `json:"columns"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newDocument(columns []string) Document {
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	return Document{
		Columns:   cols,
		UpdatedAt: time.Now().UTC(),
	}
}
