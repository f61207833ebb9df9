package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of remote failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than auth.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents 401 and 403 responses.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRateLimit represents 429 responses from a rate limit rule.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents a response body that is not valid JSON.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassShape represents valid JSON with an unexpected structure.
	ErrorClassShape ErrorClass = "shape"

	// ErrorClassStorage represents a failure to persist a fetched record.
	ErrorClassStorage ErrorClass = "storage"
)

// RemoteError is a failure talking to ServiceNow or handling what it returned.
type RemoteError struct {
	// Op is the logical endpoint: "stats" or "table".
	Op         string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("servicenow %s %s error (status %d): %s: %v",
			e.Op, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("servicenow %s %s error (status %d): %s",
		e.Op, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// AccessError is a row count failure that persisted through every retry and
// looks like a credential or permission problem. It is never retried.
type AccessError struct {
	Table      string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied to table %q (status %d), check user, password and table ACLs: %v",
		e.Table, e.StatusCode, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AccessError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorClassAuth
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassShape
	}
}

// shouldRetry reports whether err is a remote failure worth another attempt.
// Every RemoteError class is retried; auth failures are escalated to
// AccessError only once the budget is spent.
func shouldRetry(err error) bool {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		return false
	}
	switch remoteErr.ErrorClass {
	case ErrorClassClient, ErrorClassAuth, ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork,
		ErrorClassParse, ErrorClassShape, ErrorClassStorage:
		return true
	default:
		return false
	}
}

// asAccessError converts an exhausted auth failure into an AccessError.
// Other errors are returned unchanged.
func asAccessError(table string, err error) error {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) && remoteErr.ErrorClass == ErrorClassAuth {
		return &AccessError{
			Table:      table,
			StatusCode: remoteErr.StatusCode,
			Err:        err,
		}
	}
	return err
}
