package db

import (
	"fmt"
	"strings"
)

type QueryBuilder struct {
	sql  strings.Builder
	args []any
}

/*
Adds the given SQL and arguments to the query. Any occurrences
of `$?` will be replaced with the correct argument number.

foo $? bar $? baz $?
foo ARG1 bar ARG2 baz $?
foo ARG1 bar ARG2 baz ARG3
*/
func (qb *QueryBuilder) Add(sql string, args ...any) {
	numPlaceholders := strings.Count(sql, "$?")
	if numPlaceholders != len(args) {
		panic(fmt.Errorf("cannot add chunk to query; expected %d arguments but got %d", numPlaceholders, len(args)))
	}

	for _, arg := range args {
		sql = strings.Replace(sql, "$?", fmt.Sprintf("$%d", len(qb.args)+1), 1)
		qb.args = append(qb.args, arg)
	}

	qb.sql.WriteString(sql)
	qb.sql.WriteString("\n")
}

/*
Adds `col1 = $n, col2 = $n+1, ...` for the given fields. Field names must
already be validated (see FilterFields); they are interpolated as text.
*/
func (qb *QueryBuilder) AddAssignments(fields []Field) {
	parts := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Name+" = $?")
		args = append(args, f.Value)
	}
	qb.Add(strings.Join(parts, ", "), args...)
}

/*
Adds `(col1, col2, ...) VALUES ($n, $n+1, ...)` for the given fields. Like
AddAssignments, field names must already be validated.
*/
func (qb *QueryBuilder) AddInsertColumns(fields []Field) {
	names := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
		placeholders = append(placeholders, "$?")
		args = append(args, f.Value)
	}
	qb.Add(
		fmt.Sprintf("(%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(placeholders, ", ")),
		args...,
	)
}

func (qb *QueryBuilder) String() string {
	return qb.sql.String()
}

func (qb *QueryBuilder) Args() []any {
	return qb.args
}

func (qb *QueryBuilder) Statement() Statement {
	return Statement{SQL: qb.String(), Args: qb.Args()}
}

// A finished SQL statement and its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

func SQL(sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args}
}
