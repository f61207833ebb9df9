package flatten

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// String renders a flattened value as a table cell.
//
// nil becomes "", strings and json.Number are kept verbatim, booleans become
// "true"/"false" and everything else (lists, leftover objects) is encoded as
// compact JSON.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// NonEmpty reports whether v renders as a non-empty cell. Whitespace and "0"
// count as non-empty.
func NonEmpty(v any) bool {
	return String(v) != ""
}
