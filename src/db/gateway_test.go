package db

import (
	"context"
	"errors"
	"testing"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	fields []string
	rows   [][]any
	pos    int
	closed bool
	err    error
}

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	var result []pgconn.FieldDescription
	for _, f := range r.fields {
		result = append(result, pgconn.FieldDescription{Name: f})
	}
	return result
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     { r.closed = true }

func messageRows() *fakeRows {
	return &fakeRows{
		fields: []string{"message_id", "subject"},
		rows: [][]any{
			{int32(1), "first"},
			{int32(2), "second"},
			{int32(1), "first again"},
		},
	}
}

func TestReshape(t *testing.T) {
	t.Run("rows", func(t *testing.T) {
		res, err := reshape(messageRows(), ModeRows, "")
		require.Nil(t, err)
		assert.Len(t, res.Rows, 3)
		assert.Equal(t, Row{int32(2), "second"}, res.Rows[1])
		assert.Nil(t, res.RowsByKey)
		assert.EqualValues(t, 3, res.RowCount)
	})
	t.Run("keyed rows, last row wins", func(t *testing.T) {
		res, err := reshape(messageRows(), ModeRows, "message_id")
		require.Nil(t, err)
		assert.Len(t, res.RowsByKey, 2)
		assert.Equal(t, Row{int32(1), "first again"}, res.RowsByKey[1])
	})
	t.Run("assoc", func(t *testing.T) {
		res, err := reshape(messageRows(), ModeAssoc, "")
		require.Nil(t, err)
		require.Len(t, res.Assoc, 3)
		assert.Equal(t, "second", res.Assoc[1]["subject"])
	})
	t.Run("keyed assoc", func(t *testing.T) {
		res, err := reshape(messageRows(), ModeAssoc, "message_id")
		require.Nil(t, err)
		assert.Equal(t, "second", res.AssocByKey[2]["subject"])
	})
	t.Run("value", func(t *testing.T) {
		rows := messageRows()
		res, err := reshape(rows, ModeValue, "")
		require.Nil(t, err)
		assert.Equal(t, int32(1), res.Value)
		assert.True(t, rows.closed)
	})
	t.Run("value of empty result", func(t *testing.T) {
		res, err := reshape(&fakeRows{fields: []string{"x"}}, ModeValue, "")
		require.Nil(t, err)
		assert.Nil(t, res.Value)
	})
	t.Run("unknown key field", func(t *testing.T) {
		_, err := reshape(messageRows(), ModeRows, "nope")
		assert.ErrorIs(t, err, ErrUnknownKeyField)
	})
	t.Run("iteration error", func(t *testing.T) {
		rows := messageRows()
		rows.err = errors.New("connection reset")
		_, err := reshape(rows, ModeRows, "")
		assert.EqualError(t, err, "connection reset")
	})
}

func failingGateway(attempts *int) *Gateway {
	return &Gateway{
		connect: func(ctx context.Context, cfg config.PostgresConfig) (*pgx.Conn, error) {
			*attempts++
			return nil, errors.New("connection refused")
		},
	}
}

func TestGatewayConnectFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("no connect ok", func(t *testing.T) {
		var attempts int
		g := failingGateway(&attempts)

		_, err := g.Execute(ctx, ModeValue, SQL("SELECT 1"), WithFlags(NoConnectOK))
		assert.ErrorIs(t, err, ErrUnavailable)

		// failures are not memoized
		_, err = g.Execute(ctx, ModeValue, SQL("SELECT 1"), WithFlags(NoConnectOK))
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 2, attempts)
	})
	t.Run("fatal without flag", func(t *testing.T) {
		var attempts int
		g := failingGateway(&attempts)

		err := func() (err error) {
			defer utils.RecoverPanicAsError(&err)
			g.Execute(ctx, ModeRows, SQL("SELECT 1"))
			return nil
		}()

		var stmtErr *StatementError
		require.ErrorAs(t, err, &stmtErr)
		assert.Equal(t, "SELECT 1", stmtErr.SQL)
		assert.EqualError(t, stmtErr.Err, "connection refused")
	})
	t.Run("typed helpers panic too", func(t *testing.T) {
		var attempts int
		g := failingGateway(&attempts)
		assert.Panics(t, func() {
			QueryOneScalar[int](ctx, g, "SELECT 1")
		})
	})
}

func TestHandleErr(t *testing.T) {
	ctx := context.Background()
	g := &Gateway{}
	missing := &pgconn.PgError{Code: pgUndefinedTable, Message: `relation "phorum_settings" does not exist`}

	t.Run("missing table ok", func(t *testing.T) {
		err := g.handleErr(ctx, SQL("SELECT * FROM phorum_settings"), missing, MissingTableOK)
		assert.ErrorIs(t, err, ErrMissingTable)
	})
	t.Run("missing table without flag", func(t *testing.T) {
		assert.Panics(t, func() {
			g.handleErr(ctx, SQL("SELECT * FROM phorum_settings"), missing, 0)
		})
	})
	t.Run("other errors ignore the flag", func(t *testing.T) {
		assert.Panics(t, func() {
			g.handleErr(ctx, SQL("SELEC 1"), &pgconn.PgError{Code: "42601"}, MissingTableOK)
		})
	})
}

func TestQuote(t *testing.T) {
	g := &Gateway{}
	assert.Equal(t, `'it''s'`, g.Quote("it's"))

	res, err := g.Execute(context.Background(), ModeQuoted, SQL(`back\slash`))
	require.Nil(t, err)
	assert.Equal(t, ` E'back\\slash'`, res.Quoted)
}
