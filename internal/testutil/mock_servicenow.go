// Package testutil provides testing utilities for the ServiceNow extractor.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockServiceNow is a configurable mock ServiceNow instance serving the stats
// and table APIs from in-memory records.
type MockServiceNow struct {
	server *httptest.Server

	mu       sync.RWMutex
	username string
	password string
	tables   map[string][]map[string]any
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures map[string][]MockResponse

	// Tracking
	RequestCount  int
	RequestsByKey map[string]int
	LastQuery     map[string]string
}

// NewMockServiceNow creates a mock instance that accepts the given basic auth
// credentials.
func NewMockServiceNow(username, password string) *MockServiceNow {
	mock := &MockServiceNow{
		username:      username,
		password:      password,
		tables:        make(map[string][]map[string]any),
		handlers:      make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures:      make(map[string][]MockResponse),
		RequestsByKey: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockServiceNow) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServiceNow) Close() {
	m.server.Close()
}

// SetTable replaces the records served for table.
func (m *MockServiceNow) SetTable(table string, records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = records
}

// SetHandler overrides the handler for an exact request path.
func (m *MockServiceNow) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// FailNext queues responses returned, in order, for the next requests matching
// key before normal handling resumes. The key is the request path, optionally
// followed by "?offset=N" to target a single page.
func (m *MockServiceNow) FailNext(key string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = append(m.failures[key], responses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockServiceNow) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestsFor returns the number of requests seen for a failure key.
func (m *MockServiceNow) GetRequestsFor(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsByKey[key]
}

// GetLastQuery returns the query parameters of the most recent request.
func (m *MockServiceNow) GetLastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// StatsPath returns the stats API path for table.
func StatsPath(table string) string {
	return "/api/now/stats/" + table
}

// TablePath returns the table API path for table.
func TablePath(table string) string {
	return "/api/now/table/" + table
}

// PageKey returns the FailNext key targeting one page of table.
func PageKey(table string, offset int) string {
	return fmt.Sprintf("%s?offset=%d", TablePath(table), offset)
}

func (m *MockServiceNow) serve(w http.ResponseWriter, r *http.Request) {
	pageKey := r.URL.Path
	if off := r.URL.Query().Get("sysparm_offset"); off != "" {
		pageKey = r.URL.Path + "?offset=" + off
	}

	m.mu.Lock()
	m.RequestCount++
	m.RequestsByKey[r.URL.Path]++
	if pageKey != r.URL.Path {
		m.RequestsByKey[pageKey]++
	}
	m.LastQuery = map[string]string{}
	for k := range r.URL.Query() {
		m.LastQuery[k] = r.URL.Query().Get(k)
	}

	var failure *MockResponse
	for _, key := range []string{pageKey, r.URL.Path} {
		if queued := m.failures[key]; len(queued) > 0 {
			failure = &queued[0]
			m.failures[key] = queued[1:]
			break
		}
	}
	handler, hasHandler := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if failure != nil {
		WriteResponse(w, *failure)
		return
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != m.username || pass != m.password {
		WriteResponse(w, NewUnauthorizedResponse())
		return
	}

	if hasHandler {
		handler(w, r)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/api/now/stats/"):
		m.serveStats(w, strings.TrimPrefix(r.URL.Path, "/api/now/stats/"))
	case strings.HasPrefix(r.URL.Path, "/api/now/table/"):
		m.serveTable(w, r, strings.TrimPrefix(r.URL.Path, "/api/now/table/"))
	default:
		WriteResponse(w, MockResponse{
			StatusCode: http.StatusBadRequest,
			Body:       `{"error":{"message":"Invalid path"},"status":"failure"}`,
		})
	}
}

func (m *MockServiceNow) serveStats(w http.ResponseWriter, table string) {
	m.mu.RLock()
	records, ok := m.tables[table]
	m.mu.RUnlock()

	if !ok {
		WriteResponse(w, NewInvalidTableResponse())
		return
	}

	WriteResponse(w, NewHealthyResponse(fmt.Sprintf(`{"result":{"stats":{"count":"%d"}}}`, len(records))))
}

func (m *MockServiceNow) serveTable(w http.ResponseWriter, r *http.Request, table string) {
	m.mu.RLock()
	records, ok := m.tables[table]
	m.mu.RUnlock()

	if !ok {
		WriteResponse(w, NewInvalidTableResponse())
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("sysparm_limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("sysparm_offset"))
	if limit <= 0 {
		limit = 10000
	}

	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	page := []map[string]any{}
	if offset < len(records) {
		page = records[offset:end]
	}

	body, err := json.Marshal(map[string]any{"result": page})
	if err != nil {
		WriteResponse(w, NewServerErrorResponse())
		return
	}

	resp := NewHealthyResponse(string(body))
	resp.Headers["X-Total-Count"] = strconv.Itoa(len(records))
	WriteResponse(w, resp)
}

// WriteResponse writes resp to w.
func WriteResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"message":"Internal server error","detail":null},"status":"failure"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response as sent for bad credentials.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error":{"message":"User Not Authenticated","detail":"Required to provide Auth information"},"status":"failure"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewInvalidTableResponse creates the 400 response for an unknown table.
func NewInvalidTableResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error":{"message":"Invalid table","detail":null},"status":"failure"}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	}
}

// NewScalarResultResponse creates a 200 response whose result is a string
// instead of a record array.
func NewScalarResultResponse(message string) MockResponse {
	body, _ := json.Marshal(map[string]any{"result": message})
	return NewHealthyResponse(string(body))
}

// NewMalformedResponse creates a 200 response with a body that is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html><body>Instance Hibernating</body></html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}

// Incidents generates n incident-like records with a reference field.
func Incidents(n int) []map[string]any {
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = map[string]any{
			"sys_id":   fmt.Sprintf("%032d", i),
			"number":   fmt.Sprintf("INC%07d", i),
			"priority": strconv.Itoa(i%5 + 1),
			"caller_id": map[string]any{
				"link":  "https://example.service-now.com/api/now/table/sys_user/u" + strconv.Itoa(i),
				"value": "u" + strconv.Itoa(i),
			},
			"close_notes": "",
		}
	}
	return records
}
