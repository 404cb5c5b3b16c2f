// Package warehouse runs validated queries against DuckDB and introspects its
// catalog into table descriptors.
package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"golang.org/x/sync/errgroup"

	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/schema"
)

// ResultSet holds the rows of one query in column order
type ResultSet struct {
	Columns   []string
	Rows      []map[string]any
	Truncated bool
	Elapsed   time.Duration
}

// QueryCheck rejects queries that must not reach the database
type QueryCheck func(query string) error

// Warehouse is a DuckDB connection pool
type Warehouse struct {
	db       *sql.DB
	path     string
	timeout  time.Duration
	attempts int
	maxRows  int
	workers  int
	check    QueryCheck
	logger   *logging.Logger

	// run executes one attempt; replaced in tests
	run func(ctx context.Context, query string) (*ResultSet, error)
}

// Option configures a Warehouse
type Option func(*Warehouse)

// WithQueryCheck sets the check every query must pass before execution
func WithQueryCheck(check QueryCheck) Option {
	return func(w *Warehouse) {
		w.check = check
	}
}

// WithLogger sets the warehouse logger
func WithLogger(logger *logging.Logger) Option {
	return func(w *Warehouse) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Open connects to the database at cfg.Path, or an in-memory database when the
// path is empty
func Open(cfg config.WarehouseConfig, opts ...Option) (*Warehouse, error) {
	path := config.ExpandPath(cfg.Path)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open warehouse")
	}

	lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
	if err != nil {
		lifetime = 30 * time.Minute
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to ping warehouse")
	}

	w := &Warehouse{
		db:       db,
		path:     path,
		timeout:  cfg.QueryTimeoutDuration(),
		attempts: max(cfg.RetryAttempts, 1),
		maxRows:  cfg.MaxRows,
		workers:  max(cfg.MaxConnections, 1),
		logger:   logging.GetLogger(),
	}
	w.run = w.query

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Path returns the database path, empty for in-memory
func (w *Warehouse) Path() string {
	return w.path
}

// Close releases the pool
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// Execute runs query, retrying transient failures with exponential backoff.
// Each attempt runs under the configured query timeout.
func (w *Warehouse) Execute(ctx context.Context, query string) (*ResultSet, error) {
	if w.check != nil {
		if err := w.check(query); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	attempt := 0

	op := func() (*ResultSet, error) {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()

		rs, err := w.run(attemptCtx, query)
		if err != nil {
			if ctx.Err() != nil || !isTransient(err) {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		return rs, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	rs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(w.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.WithError(err).WithFields(map[string]interface{}{
				"attempt":  attempt,
				"retry_in": next.String(),
			}).Warn("warehouse query failed, retrying")
		}))
	if err != nil {
		return nil, tagIdentifier(errors.Wrapf(err, errors.ErrTypeDatabase, "query failed after %d attempt(s)", attempt))
	}

	rs.Elapsed = time.Since(start)

	return rs, nil
}

var (
	unknownColumnPattern = regexp.MustCompile(`(?i)referenced column "?([^"\s]+)"? not found`)
	unknownTablePattern  = regexp.MustCompile(`(?i)table with name "?([^"\s!]+)"? does not exist`)
)

// tagIdentifier marks binder and catalog errors naming a missing column or
// table so callers can correct the query against a fresh schema
func tagIdentifier(err *errors.Error) *errors.Error {
	msg := err.Error()

	if m := unknownColumnPattern.FindStringSubmatch(msg); m != nil {
		return err.WithReason(errors.ReasonUnknownColumn).WithIdentifier(strings.ToLower(m[1]))
	}

	if m := unknownTablePattern.FindStringSubmatch(msg); m != nil {
		return err.WithReason(errors.ReasonUnknownTable).WithIdentifier(strings.ToLower(m[1]))
	}

	return err
}

var transientMarkers = []string{"conflict", "could not set lock", "database is locked", "i/o error", "io error"}

// isTransient reports whether err is worth retrying. A timed-out attempt is
// retried while the caller's context is still live.
func isTransient(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

func (w *Warehouse) query(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	rs := &ResultSet{Columns: columns}

	for rows.Next() {
		if w.maxRows > 0 && len(rs.Rows) >= w.maxRows {
			rs.Truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}

			row[col] = values[i]
		}

		rs.Rows = append(rs.Rows, row)
	}

	return rs, rows.Err()
}

type tableRef struct {
	schema string
	name   string
}

// LoadSchema introspects base tables in the given schemas (all schemas when
// empty). Columns are loaded concurrently. Tables with unsupported names and
// columns with unsupported types are skipped.
func (w *Warehouse) LoadSchema(ctx context.Context, schemas []string) ([]schema.TableDescriptor, error) {
	refs, err := w.listTables(ctx, schemas)
	if err != nil {
		return nil, err
	}

	descs := make([]*schema.TableDescriptor, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)

	for i, ref := range refs {
		g.Go(func() error {
			desc, err := w.loadTable(gctx, ref)
			if err != nil {
				return err
			}

			descs[i] = desc

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to introspect warehouse")
	}

	var out []schema.TableDescriptor

	for _, d := range descs {
		if d != nil {
			out = append(out, *d)
		}
	}

	return out, nil
}

func (w *Warehouse) listTables(ctx context.Context, schemas []string) ([]tableRef, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to list tables")
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		wanted[schema.NormalizeIdentifier(s)] = true
	}

	var refs []tableRef

	for rows.Next() {
		var ref tableRef
		if err := rows.Scan(&ref.schema, &ref.name); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to scan table")
		}

		if len(wanted) > 0 && !wanted[strings.ToLower(ref.schema)] {
			continue
		}

		if !schema.IsValidIdentifier(strings.ToLower(ref.name)) || !schema.IsValidIdentifier(strings.ToLower(ref.schema)) {
			w.logger.WithField("table", ref.schema+"."+ref.name).Warn("skipping table with unsupported name")
			continue
		}

		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

func (w *Warehouse) loadTable(ctx context.Context, ref tableRef) (*schema.TableDescriptor, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, ref.schema, ref.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s.%s: %w", ref.schema, ref.name, err)
	}
	defer rows.Close()

	desc := &schema.TableDescriptor{Name: strings.ToLower(ref.name), Schema: strings.ToLower(ref.schema)}

	var skipped []string

	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		colType, err := schema.ParseColumnType(dataType)
		if err != nil || !schema.IsValidIdentifier(strings.ToLower(name)) {
			skipped = append(skipped, name)
			continue
		}

		desc.Columns = append(desc.Columns, schema.Column{Name: strings.ToLower(name), Type: colType})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(skipped) > 0 {
		sort.Strings(skipped)
		w.logger.WithFields(map[string]interface{}{
			"table":   desc.QualifiedName(),
			"columns": strings.Join(skipped, ","),
		}).Debug("skipped columns with unsupported types")
	}

	if len(desc.Columns) == 0 {
		return nil, nil
	}

	return desc, nil
}
