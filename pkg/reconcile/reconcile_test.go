package reconcile

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/Sternrassler/snow-extractor/pkg/scratch"
)

// sliceSource serves records in slice order.
type sliceSource []map[string]any

func (s sliceSource) Each(fn func(scratch.Key, map[string]any) error) error {
	for i, rec := range s {
		if err := fn(scratch.Key{Position: i}, rec); err != nil {
			return err
		}
	}
	return nil
}

type failingSource struct{ err error }

func (f failingSource) Each(func(scratch.Key, map[string]any) error) error { return f.err }

func readCSV(t *testing.T, b []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	return rows
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		records  []map[string]any
		previous []string
		want     [][]string
		pruned   []string
		retained []string
	}{
		{
			name: "column with one non-empty value is kept for every row",
			records: []map[string]any{
				{"sys_id": "1", "address_city": ""},
				{"sys_id": "2", "address_city": "Berlin"},
				{"sys_id": "3"},
			},
			want: [][]string{
				{"sys_id", "address_city"},
				{"1", ""},
				{"2", "Berlin"},
				{"3", ""},
			},
		},
		{
			name: "column empty in every record is pruned",
			records: []map[string]any{
				{"sys_id": "1", "address_city": ""},
				{"sys_id": "2"},
			},
			want: [][]string{
				{"sys_id"},
				{"1"},
				{"2"},
			},
			pruned: []string{"address_city"},
		},
		{
			name: "previous column no longer returned is retained",
			records: []map[string]any{
				{"sys_id": "1", "number": "INC001"},
			},
			previous: []string{"sys_id", "legacy_field"},
			want: [][]string{
				{"sys_id", "legacy_field", "number"},
				{"1", "", "INC001"},
			},
			retained: []string{"legacy_field"},
		},
		{
			name: "empty column in previous is kept, not pruned",
			records: []map[string]any{
				{"sys_id": "1", "close_notes": ""},
			},
			previous: []string{"close_notes"},
			want: [][]string{
				{"sys_id", "close_notes"},
				{"1", ""},
			},
			retained: []string{"close_notes"},
		},
		{
			name: "whitespace and zero count as non-empty",
			records: []map[string]any{
				{"sys_id": "1", "blank": " ", "reopen_count": json.Number("0")},
			},
			want: [][]string{
				{"sys_id", "blank", "reopen_count"},
				{"1", " ", "0"},
			},
		},
		{
			name: "lists and booleans are rendered",
			records: []map[string]any{
				{"sys_id": "1", "active": true, "tags": []any{"a", "b"}},
			},
			want: [][]string{
				{"sys_id", "active", "tags"},
				{"1", "true", `["a","b"]`},
			},
		},
		{
			name:     "no records writes header of previous columns",
			previous: []string{"number", "sys_id"},
			want: [][]string{
				{"sys_id", "number"},
			},
			retained: []string{"number", "sys_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			res, err := Reconcile(sliceSource(tt.records), tt.previous, &buf)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}

			got := readCSV(t, buf.Bytes())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("output = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(res.Columns, tt.want[0]) {
				t.Errorf("Columns = %v, want %v", res.Columns, tt.want[0])
			}
			if res.Rows != len(tt.want)-1 {
				t.Errorf("Rows = %d, want %d", res.Rows, len(tt.want)-1)
			}
			if !reflect.DeepEqual(res.Pruned, tt.pruned) {
				t.Errorf("Pruned = %v, want %v", res.Pruned, tt.pruned)
			}
			if !reflect.DeepEqual(res.Retained, tt.retained) {
				t.Errorf("Retained = %v, want %v", res.Retained, tt.retained)
			}
		})
	}
}

func TestReconcile_NeverShrinks(t *testing.T) {
	previous := []string{"sys_id", "a", "b", "c"}
	records := []map[string]any{{"sys_id": "1", "d": "x"}}

	var buf bytes.Buffer
	res, err := Reconcile(sliceSource(records), previous, &buf)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	have := make(map[string]bool)
	for _, c := range res.Columns {
		have[c] = true
	}
	for _, c := range previous {
		if !have[c] {
			t.Errorf("previous column %q missing from %v", c, res.Columns)
		}
	}
}

func TestReconcile_CustomPrimaryKey(t *testing.T) {
	records := []map[string]any{{"a": "1", "z_id": "9", "m": "2"}}

	var buf bytes.Buffer
	res, err := New([]string{"z_id"}).Reconcile(sliceSource(records), nil, &buf)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if want := []string{"z_id", "a", "m"}; !reflect.DeepEqual(res.Columns, want) {
		t.Errorf("Columns = %v, want %v", res.Columns, want)
	}
}

func TestReconcile_SourceError(t *testing.T) {
	boom := errors.New("disk gone")

	var buf bytes.Buffer
	_, err := Reconcile(failingSource{err: boom}, nil, &buf)
	if !errors.Is(err, boom) {
		t.Errorf("Reconcile() error = %v, want wrapping %v", err, boom)
	}
}

func TestReconcile_ScratchStore(t *testing.T) {
	store, err := scratch.New(t.TempDir(), "run")
	if err != nil {
		t.Fatalf("scratch.New() error = %v", err)
	}

	// Pages complete out of order; output follows key order.
	if err := store.Put(scratch.Key{Offset: 300, Position: 0}, map[string]any{"sys_id": "c"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(scratch.Key{Offset: 0, Position: 1}, map[string]any{"sys_id": "b"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(scratch.Key{Offset: 0, Position: 0}, map[string]any{"sys_id": "a"}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := Reconcile(store, nil, &buf); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	want := [][]string{{"sys_id"}, {"a"}, {"b"}, {"c"}}
	if got := readCSV(t, buf.Bytes()); !reflect.DeepEqual(got, want) {
		t.Errorf("output = %v, want %v", got, want)
	}
}
