package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/ignite/arukereso-extractor/internal/config"
	"github.com/ignite/arukereso-extractor/internal/feed"
	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
)

const insertBatchSize = 500

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Open connects to Snowflake with the warehouse settings.
func Open(cfg config.WarehouseConfig) (*sql.DB, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	})
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Sink buffers normalized records and inserts them into a Snowflake table
// with multi-row INSERTs. Every column is loaded as text.
type Sink struct {
	ctx     context.Context
	db      *sql.DB
	table   string
	columns []string
	batch   [][]any
	written int
	log     *logger.Logger
}

// NewSink validates the table and column identifiers and returns a sink.
func NewSink(ctx context.Context, db *sql.DB, table string, columns []string, log *logger.Logger) (*Sink, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid warehouse table name %q", table)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("warehouse sink needs at least one column")
	}
	for _, c := range columns {
		if !identRe.MatchString(c) || strings.Contains(c, ".") {
			return nil, fmt.Errorf("invalid warehouse column name %q", c)
		}
	}
	return &Sink{
		ctx:     ctx,
		db:      db,
		table:   table,
		columns: append([]string(nil), columns...),
		log:     log,
	}, nil
}

// Written returns the number of rows inserted so far.
func (s *Sink) Written() int { return s.written }

// Write buffers one record and flushes once the batch is full.
func (s *Sink) Write(rec feed.Record) error {
	row := make([]any, len(s.columns))
	for i, c := range s.columns {
		row[i] = rec[c]
	}
	s.batch = append(s.batch, row)
	if len(s.batch) >= insertBatchSize {
		return s.flush()
	}
	return nil
}

// Close inserts whatever is still buffered. The database handle is owned by
// the caller.
func (s *Sink) Close() error {
	if err := s.flush(); err != nil {
		return err
	}
	s.log.Info("warehouse load finished", "table", s.table, "rows", s.written)
	return nil
}

func (s *Sink) flush() error {
	if len(s.batch) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.table, strings.Join(s.columns, ", "))
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(s.columns)), ", ") + ")"

	args := make([]any, 0, len(s.batch)*len(s.columns))
	for i, row := range s.batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholder)
		args = append(args, row...)
	}

	n := len(s.batch)
	// a failed batch is dropped so later writes only carry their own rows
	s.batch = s.batch[:0]
	if _, err := s.db.ExecContext(s.ctx, sb.String(), args...); err != nil {
		s.log.Warn("warehouse batch dropped", "table", s.table, "rows", n, "error", err)
		return fmt.Errorf("insert %d rows into %s: %w", n, s.table, err)
	}
	s.written += n
	s.log.Debug("warehouse batch inserted", "table", s.table, "rows", n)
	return nil
}
