package insights

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
)

// ParseRecordTimestamp accepts the timestamp a view reports for a record:
// epoch milliseconds, or any date layout backends print ("2022-01-09 03:13:56.962").
// Layouts without a zone are read as UTC.
func ParseRecordTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty record timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 12 {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse record timestamp %q", s)
	}
	return ts.UTC(), nil
}
