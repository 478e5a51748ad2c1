package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/config"
)

// maxJobs bounds how many finished queries keep their rows for FetchRecord.
const maxJobs = 16

// ClickHouse runs insights queries against tables of one database. Each
// table is a log group; queries run asynchronously and are polled.
type ClickHouse struct {
	config  config.Context
	version string

	connMu sync.Mutex
	db     *sql.DB

	mu    sync.Mutex
	jobs  map[string]*job
	order []string
}

func NewClickHouse(cfg config.Context, version string) *ClickHouse {
	return &ClickHouse{
		config:  cfg,
		version: version,
		jobs:    map[string]*job{},
	}
}

func (c *ClickHouse) conn(ctx context.Context) (*sql.DB, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

func (c *ClickHouse) connect(ctx context.Context) (*sql.DB, error) {
	var tlsConfig *tls.Config

	if c.config.Secure || (c.config.TLSCert != "" && c.config.TLSKey != "") || c.config.TLSCa != "" || c.config.TLSVerify {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: !c.config.TLSVerify,
		}
		if c.config.TLSCert != "" && c.config.TLSKey != "" {
			cert, err := tls.LoadX509KeyPair(c.config.TLSCert, c.config.TLSKey)
			if err != nil {
				return nil, errors.Wrap(err, "failed to load client certificate")
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		if c.config.TLSCa != "" {
			caCert, err := os.ReadFile(c.config.TLSCa)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read CA certificate")
			}
			caCertPool := x509.NewCertPool()
			caCertPool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = caCertPool
		}
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)},
		Auth: clickhouse.Auth{
			Database: c.config.Database,
			Username: c.config.Username,
			Password: c.config.Password,
		},
		TLS: tlsConfig,
	}
	options.ClientInfo.Products = append(options.ClientInfo.Products, struct{ Name, Version string }{
		"logs-insights",
		c.version,
	})

	options.Protocol = clickhouse.Native
	if c.config.Protocol == "http" {
		options.Protocol = clickhouse.HTTP
	}

	db := clickhouse.OpenDB(options)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, mapError(err)
	}
	log.Debug().Str("context", c.config.Name).Str("addr", options.Addr[0]).Msg("connected to ClickHouse")
	return db, nil
}

// ListLogGroups lists the tables of the configured database.
func (c *ClickHouse) ListLogGroups(ctx context.Context) ([]string, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, listTablesSQL, c.config.Database)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err)
		}
		names = append(names, name)
	}
	return names, mapError(rows.Err())
}

// StartQuery launches the query in the background and returns its id.
func (c *ClickHouse) StartQuery(ctx context.Context, req backend.StartRequest) (string, error) {
	query, err := buildSelect(c.config.Database, c.config.TimeField, req)
	if err != nil {
		return "", err
	}
	db, err := c.conn(ctx)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())
	j := newJob(id, cancel)
	jobCtx = clickhouse.Context(jobCtx,
		clickhouse.WithQueryID(id),
		clickhouse.WithProgress(j.progress),
	)

	c.mu.Lock()
	c.jobs[id] = j
	c.order = append(c.order, id)
	c.evictLocked()
	c.mu.Unlock()

	log.Info().Str("query_id", id).Msg(query)
	go j.run(jobCtx, db, query)
	return id, nil
}

// evictLocked drops the oldest finished jobs beyond maxJobs.
func (c *ClickHouse) evictLocked() {
	for len(c.order) > maxJobs {
		oldest := c.jobs[c.order[0]]
		if oldest != nil && !oldest.done() {
			return
		}
		delete(c.jobs, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *ClickHouse) job(id string) (*job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

func (c *ClickHouse) PollResults(_ context.Context, token string) (backend.ResultPage, error) {
	j, ok := c.job(token)
	if !ok {
		return backend.ResultPage{}, errors.Errorf("unknown query %s", token)
	}
	page := j.page()
	if page.Status == backend.StatusFailed {
		log.Debug().Err(j.failure()).Str("query_id", token).Msg("poll of failed query")
	}
	return page, nil
}

// StopQuery cancels the local job and kills the server-side query. Stopping
// an unknown or finished query is a no-op.
func (c *ClickHouse) StopQuery(ctx context.Context, token string) error {
	j, ok := c.job(token)
	if !ok || j.done() {
		return nil
	}
	j.stop()
	db, err := c.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, killQuerySQL, token); err != nil {
		return mapError(err)
	}
	return nil
}

// FetchRecord resolves a pointer of the form <query id>/<row>.
func (c *ClickHouse) FetchRecord(_ context.Context, pointer string) (map[string]string, error) {
	id, row, err := parsePointer(pointer)
	if err != nil {
		return nil, err
	}
	j, ok := c.job(id)
	if !ok {
		return nil, errors.Wrapf(backend.ErrRecordNotFound, "query %s expired", id)
	}
	return j.record(row)
}

func (c *ClickHouse) Close() error {
	c.mu.Lock()
	for _, j := range c.jobs {
		j.stop()
	}
	c.mu.Unlock()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
