package flatten

import (
	"reflect"
	"testing"
)

func TestRecord(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "already flat",
			in:   map[string]any{"sys_id": "1", "number": "INC001"},
			want: map[string]any{"sys_id": "1", "number": "INC001"},
		},
		{
			name: "reference field",
			in: map[string]any{
				"caller_id": map[string]any{"link": "https://x/api", "value": "abc"},
			},
			want: map[string]any{"caller_id_link": "https://x/api", "caller_id_value": "abc"},
		},
		{
			name: "depth three",
			in: map[string]any{
				"address": map[string]any{
					"city": "Prague",
					"geo":  map[string]any{"lat": "50.08", "lon": "14.43"},
				},
			},
			want: map[string]any{
				"address_city":    "Prague",
				"address_geo_lat": "50.08",
				"address_geo_lon": "14.43",
			},
		},
		{
			name: "lists kept verbatim",
			in: map[string]any{
				"tags": []any{"a", map[string]any{"b": "c"}},
				"meta": map[string]any{"ids": []any{"1", "2"}},
			},
			want: map[string]any{
				"tags":     []any{"a", map[string]any{"b": "c"}},
				"meta_ids": []any{"1", "2"},
			},
		},
		{
			name: "empty nested object",
			in:   map[string]any{"assigned_to": map[string]any{}},
			want: map[string]any{"assigned_to": ""},
		},
		{
			name: "nil value",
			in:   map[string]any{"closed_at": nil},
			want: map[string]any{"closed_at": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, collisions := Record(tt.in, DefaultSeparator)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Record() = %v, want %v", got, tt.want)
			}
			if len(collisions) != 0 {
				t.Errorf("Record() collisions = %v, want none", collisions)
			}
		})
	}
}

func TestRecord_Idempotent(t *testing.T) {
	in := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": "1"}, "d": "2"},
		"e": "3",
	}

	once, _ := Record(in, DefaultSeparator)
	twice, _ := Record(once, DefaultSeparator)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("flatten is not idempotent: %v != %v", once, twice)
	}
	for k, v := range once {
		if _, ok := v.(map[string]any); ok {
			t.Errorf("flattened record still has nested object at %q", k)
		}
	}
}

func TestRecord_InnermostFirst(t *testing.T) {
	// Flattening the innermost level first and then the whole record must give
	// the same result as flattening the whole record at once.
	inner := map[string]any{"lat": "1", "lon": "2"}
	deep := map[string]any{
		"x": map[string]any{"geo": inner, "name": "n"},
	}
	flatX, _ := Record(map[string]any{"geo": inner, "name": "n"}, DefaultSeparator)
	partial := map[string]any{"x": flatX}

	got, _ := Record(partial, DefaultSeparator)
	want, _ := Record(deep, DefaultSeparator)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Record(partial) = %v, want %v", got, want)
	}
}

func TestRecord_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"a": map[string]any{"b": "1"}}
	Record(in, DefaultSeparator)

	if _, ok := in["a"].(map[string]any); !ok {
		t.Error("input record was modified")
	}
	if _, ok := in["a_b"]; ok {
		t.Error("input record gained a flattened key")
	}
}

func TestRecord_CustomSeparator(t *testing.T) {
	got, _ := Record(map[string]any{"a": map[string]any{"b": "1"}}, ".")
	if got["a.b"] != "1" {
		t.Errorf("Record() = %v, want key a.b", got)
	}
}

func TestRecord_Collision(t *testing.T) {
	in := map[string]any{
		"a":   map[string]any{"b": "nested"},
		"a_b": "flat",
	}
	got, collisions := Record(in, DefaultSeparator)

	// "a_b" sorts after "a", so the flat key is written last.
	if got["a_b"] != "flat" {
		t.Errorf("collision resolved to %v, want flat", got["a_b"])
	}
	if want := []string{"a_b"}; !reflect.DeepEqual(collisions, want) {
		t.Errorf("Record() collisions = %v, want %v", collisions, want)
	}
}

func TestRecord_CollisionWithEmptyObject(t *testing.T) {
	in := map[string]any{
		"x":   map[string]any{"y": map[string]any{}},
		"x_y": "flat",
	}
	_, collisions := Record(in, DefaultSeparator)
	if want := []string{"x_y"}; !reflect.DeepEqual(collisions, want) {
		t.Errorf("Record() collisions = %v, want %v", collisions, want)
	}
}
