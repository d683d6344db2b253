package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type Mode int

const (
	// Returns the live connection itself.
	ModeConn Mode = iota
	// Returns the statement text escaped as a SQL string literal.
	ModeQuoted
	// Returns the raw pgx.Rows; the caller must close them.
	ModeRaw
	// Returns every row as a positional slice of values.
	ModeRows
	// Returns every row as a column-name→value map.
	ModeAssoc
	// Returns the first column of the first row, or nil.
	ModeValue
	// Returns the number of rows affected or returned.
	ModeRowCount
	// Returns the id generated by the statement's INSERT.
	ModeNewID
)

func (m Mode) String() string {
	switch m {
	case ModeConn:
		return "conn"
	case ModeQuoted:
		return "quoted"
	case ModeRaw:
		return "raw"
	case ModeRows:
		return "rows"
	case ModeAssoc:
		return "assoc"
	case ModeValue:
		return "value"
	case ModeRowCount:
		return "rowcount"
	case ModeNewID:
		return "newid"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

type Flags int

const (
	// A failed connection returns ErrUnavailable instead of panicking.
	NoConnectOK Flags = 1 << iota
	// A statement against a nonexistent table returns ErrMissingTable
	// instead of panicking.
	MissingTableOK
)

var (
	ErrUnavailable     = errors.New("database unavailable")
	ErrMissingTable    = errors.New("table does not exist")
	ErrUnknownKeyField = errors.New("key field not present in result")
)

const pgUndefinedTable = "42P01"

/*
Returned (as a panic value) when a statement fails and no flag says the
failure is acceptable. Recover it with utils.RecoverPanicAsError at the edge
of the operation.
*/
type StatementError struct {
	SQL string
	Err error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("database statement failed: %v\n%s", e.Err, e.SQL)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

type Row []any
type AssocRow map[string]any

type Result struct {
	Conn   *pgx.Conn
	Quoted string
	Raw    pgx.Rows

	Rows  []Row
	Assoc []AssocRow

	// Filled by ModeRows/ModeAssoc when a key field was requested. Integer
	// keys are normalized to int. Later rows overwrite earlier ones.
	RowsByKey  map[any]Row
	AssocByKey map[any]AssocRow

	Value    any
	RowCount int64
	NewID    int
}

type execOptions struct {
	keyField string
	flags    Flags
}

type ExecOption func(*execOptions)

func WithKeyField(name string) ExecOption {
	return func(o *execOptions) {
		o.keyField = name
	}
}

func WithFlags(flags Flags) ExecOption {
	return func(o *execOptions) {
		o.flags |= flags
	}
}

/*
The single point through which the forum engines talk to Postgres. A Gateway
owns at most one connection, opened on first use and reused after that. Like
the pgx connection underneath it, a Gateway must not be used from several
goroutines at once.
*/
type Gateway struct {
	cfg     config.PostgresConfig
	connect func(ctx context.Context, cfg config.PostgresConfig) (*pgx.Conn, error)

	mu   sync.Mutex
	conn *pgx.Conn
}

func NewGateway(cfg config.PostgresConfig) *Gateway {
	return &Gateway{
		cfg:     cfg,
		connect: Connect,
	}
}

// Wraps an already open connection. Mostly for tests and tools.
func NewGatewayWithConn(conn *pgx.Conn) *Gateway {
	return &Gateway{
		connect: func(ctx context.Context, cfg config.PostgresConfig) (*pgx.Conn, error) {
			return nil, errors.New("gateway connection was closed")
		},
		conn: conn,
	}
}

// Returns the memoized connection, opening it if needed. Failed attempts are
// not remembered, so a later call tries again.
func (g *Gateway) getConn(ctx context.Context) (*pgx.Conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil && !g.conn.IsClosed() {
		return g.conn, nil
	}

	conn, err := g.connect(ctx, g.cfg)
	if err != nil {
		return nil, err
	}
	g.conn = conn
	return conn, nil
}

func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}
	err := g.conn.Close(ctx)
	g.conn = nil
	return err
}

/*
Runs a statement and shapes its result according to mode.

Errors are only returned for the conditions the flags ask for (ErrUnavailable,
ErrMissingTable) and for caller mistakes such as an unknown key field. Every
other failure is logged and then panics with a *StatementError.
*/
func (g *Gateway) Execute(ctx context.Context, mode Mode, stmt Statement, opts ...ExecOption) (*Result, error) {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	if mode == ModeQuoted {
		return &Result{Quoted: pq.QuoteLiteral(stmt.SQL)}, nil
	}

	conn, err := g.getConn(ctx)
	if err != nil {
		if o.flags&NoConnectOK != 0 {
			logging.ExtractLogger(ctx).Warn().Err(err).Msg("database unavailable")
			return nil, ErrUnavailable
		}
		g.fail(ctx, stmt, err)
	}

	switch mode {
	case ModeConn:
		return &Result{Conn: conn}, nil

	case ModeRowCount:
		tag, err := conn.Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, g.handleErr(ctx, stmt, err, o.flags)
		}
		return &Result{RowCount: tag.RowsAffected()}, nil

	case ModeNewID:
		_, err := conn.Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, g.handleErr(ctx, stmt, err, o.flags)
		}
		lastval := Statement{SQL: "SELECT lastval()"}
		var id int64
		if err := conn.QueryRow(ctx, lastval.SQL).Scan(&id); err != nil {
			return nil, g.handleErr(ctx, lastval, err, o.flags)
		}
		return &Result{NewID: int(id)}, nil
	}

	rows, err := conn.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, g.handleErr(ctx, stmt, err, o.flags)
	}

	if mode == ModeRaw {
		return &Result{Raw: rows}, nil
	}

	res, err := reshape(rows, mode, o.keyField)
	if err != nil {
		if errors.Is(err, ErrUnknownKeyField) {
			return nil, err
		}
		return nil, g.handleErr(ctx, stmt, err, o.flags)
	}
	return res, nil
}

// Convenience for callers that only need the escaped literal.
func (g *Gateway) Quote(value string) string {
	res, _ := g.Execute(context.Background(), ModeQuoted, Statement{SQL: value})
	return res.Quoted
}

func (g *Gateway) handleErr(ctx context.Context, stmt Statement, err error, flags Flags) error {
	var pgErr *pgconn.PgError
	if flags&MissingTableOK != 0 && errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		logging.ExtractLogger(ctx).Debug().Str("table error", pgErr.Message).Msg("ignoring missing table")
		return ErrMissingTable
	}
	if flags&NoConnectOK != 0 && pgconn.SafeToRetry(err) {
		return ErrUnavailable
	}
	g.fail(ctx, stmt, err)
	return nil // unreachable
}

func (g *Gateway) fail(ctx context.Context, stmt Statement, err error) {
	statementFailures.Inc()
	logging.ExtractLogger(ctx).Error().
		Err(err).
		Str("sql", stmt.SQL).
		Str("query", queryNameOrUnknown(stmt.SQL)).
		Msg("database statement failed")
	panic(&StatementError{SQL: stmt.SQL, Err: err})
}

// The subset of pgx.Rows that reshaping needs.
type rowSource interface {
	Next() bool
	Values() ([]any, error)
	FieldDescriptions() []pgconn.FieldDescription
	Err() error
	Close()
}

func reshape(rows rowSource, mode Mode, keyField string) (*Result, error) {
	defer rows.Close()

	keyIdx := -1
	fields := rows.FieldDescriptions()
	if keyField != "" {
		for i, f := range fields {
			if f.Name == keyField {
				keyIdx = i
				break
			}
		}
		if keyIdx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKeyField, keyField)
		}
	}

	res := &Result{}
	switch mode {
	case ModeRows:
		if keyIdx >= 0 {
			res.RowsByKey = make(map[any]Row)
		}
	case ModeAssoc:
		if keyIdx >= 0 {
			res.AssocByKey = make(map[any]AssocRow)
		}
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}

		switch mode {
		case ModeValue:
			if len(vals) > 0 {
				res.Value = vals[0]
			}
			rows.Close()
			return res, rows.Err()

		case ModeRows:
			row := Row(vals)
			res.Rows = append(res.Rows, row)
			if keyIdx >= 0 {
				res.RowsByKey[normalizeKey(vals[keyIdx])] = row
			}

		case ModeAssoc:
			row := make(AssocRow, len(fields))
			for i, f := range fields {
				row[f.Name] = vals[i]
			}
			res.Assoc = append(res.Assoc, row)
			if keyIdx >= 0 {
				res.AssocByKey[normalizeKey(vals[keyIdx])] = row
			}
		}
		res.RowCount++
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func normalizeKey(v any) any {
	switch k := v.(type) {
	case int16:
		return int(k)
	case int32:
		return int(k)
	case int64:
		return int(k)
	}
	return v
}

/*
The Gateway can stand in for a plain connection, so the typed helpers
(Query, QueryOne, ...) run through it. Failures panic the same way Execute
does; the error results only ever carry pgx.ErrNoRows.
*/
var _ ConnOrTx = &Gateway{}

func (g *Gateway) mustConn(ctx context.Context, sql string) *pgx.Conn {
	conn, err := g.getConn(ctx)
	if err != nil {
		g.fail(ctx, Statement{SQL: sql}, err)
	}
	return conn
}

func (g *Gateway) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := g.mustConn(ctx, sql).Query(ctx, sql, args...)
	if err != nil {
		g.fail(ctx, Statement{SQL: sql, Args: args}, err)
	}
	return &gatewayRows{Rows: rows, g: g, ctx: ctx, sql: sql}, nil
}

func (g *Gateway) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return gatewayRow{
		row: g.mustConn(ctx, sql).QueryRow(ctx, sql, args...),
		g:   g,
		ctx: ctx,
		sql: sql,
	}
}

func (g *Gateway) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := g.mustConn(ctx, sql).Exec(ctx, sql, args...)
	if err != nil {
		g.fail(ctx, Statement{SQL: sql, Args: args}, err)
	}
	return tag, nil
}

func (g *Gateway) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	desc := "COPY " + tableName.Sanitize()
	n, err := g.mustConn(ctx, desc).CopyFrom(ctx, tableName, columnNames, rowSrc)
	if err != nil {
		g.fail(ctx, Statement{SQL: desc}, err)
	}
	return n, nil
}

func (g *Gateway) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := g.mustConn(ctx, "BEGIN").Begin(ctx)
	if err != nil {
		g.fail(ctx, Statement{SQL: "BEGIN"}, err)
	}
	return tx, nil
}

type gatewayRow struct {
	row pgx.Row
	g   *Gateway
	ctx context.Context
	sql string
}

func (r gatewayRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		r.g.fail(r.ctx, Statement{SQL: r.sql}, err)
	}
	return err
}

// pgx reports most query errors only after iteration, so check there too.
type gatewayRows struct {
	pgx.Rows
	g   *Gateway
	ctx context.Context
	sql string
}

func (r *gatewayRows) Err() error {
	err := r.Rows.Err()
	if err != nil {
		r.g.fail(r.ctx, Statement{SQL: r.sql}, err)
	}
	return nil
}
