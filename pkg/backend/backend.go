// Package backend defines the capability contract the session controller
// uses to talk to a log-analytics service. Concrete transports live in
// pkg/client; tests substitute backendtest.Fake.
package backend

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrBackendUnavailable means the service could not be reached or refused to serve.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrInvalidQuery means the service rejected the query, e.g. malformed filter syntax.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrRecordNotFound means a record pointer did not resolve.
	ErrRecordNotFound = errors.New("record not found")
)

// Status is the execution status reported by a poll.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusRunning   Status = "Running"
	StatusComplete  Status = "Complete"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimeout   Status = "Timeout"
	StatusUnknown   Status = "Unknown"
)

// Terminal reports whether polling should stop after a page with this status.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != StatusScheduled
}

// StartRequest is what the backend needs to start a query.
type StartRequest struct {
	LogGroupNames []string `json:"logGroupNames,omitempty"`
	StartTime     int64    `json:"startTime"`
	EndTime       int64    `json:"endTime"`
	QueryString   string   `json:"queryString"`
	Limit         *int32   `json:"limit,omitempty"`
}

// Statistics is passed through to the view untouched.
type Statistics struct {
	BytesScanned   float64 `json:"bytesScanned"`
	RecordsMatched float64 `json:"recordsMatched"`
	RecordsScanned float64 `json:"recordsScanned"`
}

// Field is one (name, value) pair of a record.
type Field struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Record is one result row. ID is the opaque record pointer.
type Record struct {
	ID     string  `json:"id"`
	Fields []Field `json:"fields"`
}

// Value returns the value of the named field.
func (r Record) Value(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Field == name {
			return f.Value, true
		}
	}
	return "", false
}

// ResultPage is the full accumulated result set of one poll.
type ResultPage struct {
	Status     Status      `json:"status"`
	Statistics *Statistics `json:"statistics,omitempty"`
	Results    []Record    `json:"results"`
}

// Client is the set of remote operations the controller depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	ListLogGroups(ctx context.Context) ([]string, error)
	StartQuery(ctx context.Context, req StartRequest) (string, error)
	// PollResults is a single non-blocking check; callers own the retry cadence.
	PollResults(ctx context.Context, token string) (ResultPage, error)
	// StopQuery is idempotent: unknown or finished tokens are not an error.
	StopQuery(ctx context.Context, token string) error
	FetchRecord(ctx context.Context, pointer string) (map[string]string, error)
}

// Closer is implemented by clients holding connections.
type Closer interface {
	Close() error
}
