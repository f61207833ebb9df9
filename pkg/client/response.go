package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errMissingCount = errors.New("missing count field")

// resultKind is the closed set of shapes a list response can take.
type resultKind int

const (
	// resultRecords is a "result" array of objects.
	resultRecords resultKind = iota

	// resultUnexpected is valid JSON whose "result" is not an array of objects.
	// ServiceNow does this when a query is rejected: "result" becomes a string.
	resultUnexpected

	// resultMalformed is a body that does not decode as a JSON object.
	resultMalformed
)

// listResult is a decoded table API response.
type listResult struct {
	kind    resultKind
	records []map[string]any

	// detail describes an unexpected or malformed payload.
	detail string
	err    error
}

func parseListResult(body []byte) listResult {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return listResult{kind: resultMalformed, detail: "response is not a JSON object", err: err}
	}

	raw, ok := envelope["result"]
	if !ok {
		return listResult{kind: resultUnexpected, detail: "missing result field"}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return listResult{kind: resultUnexpected, detail: "unexpected result shape: " + snippet(raw)}
	}

	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()

		var rec map[string]any
		if err := dec.Decode(&rec); err != nil || rec == nil {
			return listResult{
				kind:   resultUnexpected,
				detail: fmt.Sprintf("unexpected result shape: element %d is %s", i, snippet(item)),
			}
		}
		records = append(records, rec)
	}

	return listResult{kind: resultRecords, records: records}
}

// parseCount extracts result.stats.count from a stats API response. ServiceNow
// sends the count as a string; a plain number is accepted too.
func parseCount(body []byte) (int, error) {
	var payload struct {
		Result *struct {
			Stats *struct {
				Count json.RawMessage `json:"count"`
			} `json:"stats"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode stats response: %w", err)
	}
	if payload.Result == nil || payload.Result.Stats == nil || len(payload.Result.Stats.Count) == 0 {
		return 0, errMissingCount
	}

	raw := string(payload.Result.Stats.Count)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}

	count, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || count < 0 {
		return 0, fmt.Errorf("invalid count %s", snippet(payload.Result.Stats.Count))
	}
	return count, nil
}

// errorMessage pulls error.message out of a ServiceNow failure body, or returns
// a snippet of the body when it has none.
func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		if payload.Error.Detail != "" {
			return payload.Error.Message + ": " + payload.Error.Detail
		}
		return payload.Error.Message
	}
	return snippet(body)
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
