// Package insights holds the query document: the JSON text a user edits and
// the only persisted state of a session.
package insights

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/timespan"
)

// ErrInvalidDocument is returned when document text is not a query.
var ErrInvalidDocument = errors.New("invalid document")

// Language is the document language id used for file extensions and editors.
const Language = "insights"

// CorrelationWindow is the half-width of the window opened around a record.
const CorrelationWindow = 15 * time.Minute

// DefaultCorrelationTemplate builds the query of a correlated document; {id} is replaced.
const DefaultCorrelationTemplate = "fields @timestamp, @message | sort @timestamp desc | filter @requestId = '{id}'"

// DefaultQueryString seeds new documents.
const DefaultQueryString = "fields @timestamp, @message\n | sort @timestamp desc"

// Query is the persisted document. Either RelativeTime or the
// (StartTime, EndTime) pair is authoritative, never both.
type Query struct {
	// LogGroupName is the legacy single-group field. It is migrated into
	// LogGroupNames whenever the controller writes the document.
	LogGroupName  string   `json:"logGroupName,omitempty"`
	// An explicitly empty list is kept as [] so it survives a round trip.
	LogGroupNames []string `json:"logGroupNames,omitzero"`
	RelativeTime  string   `json:"relativeTime,omitempty"`
	StartTime     *int64   `json:"startTime,omitempty"`
	EndTime       *int64   `json:"endTime,omitempty"`
	QueryString   string   `json:"queryString,omitempty"`
	Limit         *int32   `json:"limit,omitempty"`
}

// Parse reads document text. Empty text is an empty query. Comments and
// trailing commas are tolerated since the document is edited by hand.
func Parse(raw string) (Query, error) {
	var q Query
	if strings.TrimSpace(raw) == "" {
		return q, nil
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(raw))))
	if err := dec.Decode(&q); err != nil {
		return Query{}, errors.Wrapf(ErrInvalidDocument, "failed to parse insights query: %v", err)
	}
	if dec.More() {
		return Query{}, errors.Wrap(ErrInvalidDocument, "failed to parse insights query: trailing data")
	}
	return q, nil
}

// Serialize renders q the way it is stored: two-space indented JSON.
func Serialize(q Query) (string, error) {
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize insights query")
	}
	return string(data) + "\n", nil
}

// GroupNames returns the effective log groups. The plural field wins; the
// legacy singular field counts as a one-element set.
func (q Query) GroupNames() []string {
	if len(q.LogGroupNames) > 0 {
		return append([]string(nil), q.LogGroupNames...)
	}
	if q.LogGroupName != "" {
		return []string{q.LogGroupName}
	}
	return nil
}

// MigrateLegacy folds LogGroupName into LogGroupNames.
func (q Query) MigrateLegacy() Query {
	if q.LogGroupName == "" {
		return q
	}
	names := q.GroupNames()
	found := false
	for _, n := range names {
		if n == q.LogGroupName {
			found = true
			break
		}
	}
	if !found {
		names = append(names, q.LogGroupName)
	}
	q.LogGroupNames = names
	q.LogGroupName = ""
	return q
}

// WithGroups replaces the target groups and drops the legacy field.
func (q Query) WithGroups(names []string) Query {
	q.LogGroupNames = append([]string(nil), names...)
	q.LogGroupName = ""
	return q
}

// Normalize enforces a single authoritative time span.
func (q Query) Normalize() Query {
	if q.RelativeTime != "" {
		q.StartTime = nil
		q.EndTime = nil
	}
	return q
}

// SetRelative switches to a relative span.
func (q Query) SetRelative(token string) Query {
	q.RelativeTime = token
	q.StartTime = nil
	q.EndTime = nil
	return q
}

// SetAbsolute switches to an absolute span.
func (q Query) SetAbsolute(start, end int64) Query {
	q.RelativeTime = ""
	q.StartTime = &start
	q.EndTime = &end
	return q
}

// ToStartRequest builds the backend request. A relative span is resolved
// again on every call so each execution is anchored at the current time.
func ToStartRequest(q Query, resolver timespan.Resolver) (backend.StartRequest, error) {
	req := backend.StartRequest{
		LogGroupNames: q.GroupNames(),
		QueryString:   q.QueryString,
		Limit:         q.Limit,
	}
	if q.RelativeTime != "" {
		span, err := resolver.Resolve(q.RelativeTime)
		if err != nil {
			return backend.StartRequest{}, err
		}
		req.StartTime, req.EndTime = span.Start, span.End
		return req, nil
	}
	if q.StartTime != nil {
		req.StartTime = *q.StartTime
	}
	if q.EndTime != nil {
		req.EndTime = *q.EndTime
	}
	return req, nil
}

// Default is the seed of a new document.
func Default(groups []string) Query {
	return Query{
		LogGroupNames: append([]string(nil), groups...),
		RelativeTime:  timespan.DefaultToken,
		QueryString:   DefaultQueryString,
	}
}

// Correlated derives a new query around a record: a window of
// ±CorrelationWindow centered on ts, filtered on the correlation id.
func Correlated(base Query, ts time.Time, id, template string) Query {
	if template == "" {
		template = DefaultCorrelationTemplate
	}
	start := ts.Add(-CorrelationWindow).Unix()
	end := ts.Add(CorrelationWindow).Unix()
	return Query{
		LogGroupNames: base.GroupNames(),
		StartTime:     &start,
		EndTime:       &end,
		QueryString:   strings.ReplaceAll(template, "{id}", strings.ReplaceAll(id, "'", "\\'")),
	}
}
