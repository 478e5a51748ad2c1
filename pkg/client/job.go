package client

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/backend"
)

// job is one query running in the background. Rows are appended as they
// stream in, so polls observe partial results.
type job struct {
	id     string
	cancel context.CancelFunc

	mu        sync.Mutex
	status    backend.Status
	records   []backend.Record
	rowsRead  float64
	bytesRead float64
	err       error
	stopped   bool
}

func newJob(id string, cancel context.CancelFunc) *job {
	return &job{id: id, cancel: cancel, status: backend.StatusScheduled}
}

func (j *job) progress(p *clickhouse.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rowsRead += float64(p.Rows)
	j.bytesRead += float64(p.Bytes)
}

func (j *job) run(ctx context.Context, db *sql.DB, query string) {
	j.mu.Lock()
	if j.status == backend.StatusScheduled {
		j.status = backend.StatusRunning
	}
	j.mu.Unlock()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		j.finish(err)
		return
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		j.finish(err)
		return
	}
	for rows.Next() {
		dest := make([]interface{}, len(columns))
		for i, ct := range columns {
			if st := ct.ScanType(); st != nil {
				dest[i] = reflect.New(st).Interface()
			} else {
				dest[i] = new(interface{})
			}
		}
		if err := rows.Scan(dest...); err != nil {
			j.finish(err)
			return
		}
		fields := make([]backend.Field, 0, len(columns))
		for i, ct := range columns {
			fields = append(fields, backend.Field{Field: ct.Name(), Value: formatValue(dest[i])})
		}
		j.append(fields)
	}
	j.finish(rows.Err())
}

func (j *job) append(fields []backend.Field) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := fmt.Sprintf("%s/%d", j.id, len(j.records))
	j.records = append(j.records, backend.Record{ID: id, Fields: fields})
}

func (j *job) finish(err error) {
	j.mu.Lock()
	switch {
	case j.stopped:
		j.status = backend.StatusCancelled
	case err != nil:
		j.status = backend.StatusFailed
		j.err = mapError(err)
	default:
		j.status = backend.StatusComplete
	}
	status, rows := j.status, len(j.records)
	j.mu.Unlock()
	j.cancel()

	if err != nil && status == backend.StatusFailed {
		log.Error().Err(err).Str("query_id", j.id).Msg("query failed")
		return
	}
	log.Info().Str("query_id", j.id).Str("status", string(status)).Int("rows", rows).Msg("query done")
}

func (j *job) stop() {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()
	j.cancel()
}

func (j *job) page() backend.ResultPage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return backend.ResultPage{
		Status: j.status,
		Statistics: &backend.Statistics{
			BytesScanned:   j.bytesRead,
			RecordsMatched: float64(len(j.records)),
			RecordsScanned: j.rowsRead,
		},
		Results: append([]backend.Record{}, j.records...),
	}
}

func (j *job) done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.Terminal()
}

func (j *job) failure() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *job) record(row int) (map[string]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if row < 0 || row >= len(j.records) {
		return nil, errors.Wrapf(backend.ErrRecordNotFound, "row %d of query %s", row, j.id)
	}
	record := make(map[string]string, len(j.records[row].Fields))
	for _, f := range j.records[row].Fields {
		record[f.Field] = f.Value
	}
	return record, nil
}

// formatValue renders a scanned column value; pointers from Nullable
// columns are dereferenced and NULL is empty.
func formatValue(v interface{}) string {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return ""
	}
	switch x := rv.Interface().(type) {
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.000")
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
