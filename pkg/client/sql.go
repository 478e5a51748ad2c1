package client

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/backend"
)

const (
	listTablesSQL = "SELECT name FROM system.tables WHERE database = ? AND NOT is_temporary ORDER BY name"
	killQuerySQL  = "KILL QUERY WHERE query_id = ? ASYNC"
	defaultLimit  = 1000
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// buildSelect renders the query over the merge of the selected tables. The
// query string is a filter expression appended to the time condition.
// Values are inlined since regexp escapes clash with positional binding.
func buildSelect(database, timeField string, req backend.StartRequest) (string, error) {
	if len(req.LogGroupNames) == 0 {
		return "", errors.Wrap(backend.ErrInvalidQuery, "no log groups selected")
	}
	if !identRe.MatchString(timeField) {
		return "", errors.Wrapf(backend.ErrInvalidQuery, "bad time_field %q", timeField)
	}
	if req.EndTime < req.StartTime {
		return "", errors.Wrapf(backend.ErrInvalidQuery, "end %d before start %d", req.EndTime, req.StartTime)
	}

	patterns := make([]string, 0, len(req.LogGroupNames))
	for _, name := range req.LogGroupNames {
		patterns = append(patterns, regexp.QuoteMeta(name))
	}
	tables := "^(" + strings.Join(patterns, "|") + ")$"
	limit := defaultLimit
	if req.Limit != nil && *req.Limit > 0 {
		limit = int(*req.Limit)
	}
	tf := quoteIdent(timeField)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s AS `@timestamp`, *, _table AS `@log`\n", tf)
	fmt.Fprintf(&b, "FROM merge(%s, %s)\n", quoteString(database), quoteString(tables))
	fmt.Fprintf(&b, "WHERE %s BETWEEN toDateTime(%d) AND toDateTime(%d)", tf, req.StartTime, req.EndTime)
	if filter := strings.TrimSpace(req.QueryString); filter != "" {
		fmt.Fprintf(&b, "\n  AND (%s)", filter)
	}
	fmt.Fprintf(&b, "\nORDER BY %s DESC\nLIMIT %d", tf, limit)
	return b.String(), nil
}

func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, ".")
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// parsePointer splits <query id>/<row>.
func parsePointer(pointer string) (string, int, error) {
	i := strings.LastIndexByte(pointer, '/')
	if i <= 0 {
		return "", 0, errors.Wrapf(backend.ErrRecordNotFound, "malformed pointer %q", pointer)
	}
	row, err := strconv.Atoi(pointer[i+1:])
	if err != nil {
		return "", 0, errors.Wrapf(backend.ErrRecordNotFound, "malformed pointer %q", pointer)
	}
	return pointer[:i], row, nil
}

// mapError translates driver errors to the backend error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var exception *clickhouse.Exception
	if errors.As(err, &exception) {
		return errors.Wrapf(backend.ErrInvalidQuery, "code: %d, message: %s", exception.Code, exception.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return errors.Wrapf(backend.ErrBackendUnavailable, "%v", err)
	}
	return errors.WithStack(err)
}
