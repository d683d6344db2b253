/*
This package contains lowish-level APIs for making database queries to the forum's Postgres database. It has two layers:

The Gateway owns the single lazily opened connection and runs statements in one of several result modes (rows, keyed rows, a single value, a row count, a new id, ...). Statement failures panic with a *StatementError unless a flag such as MissingTableOK says otherwise; recover them with utils.RecoverPanicAsError at the edge of an operation.

On top of that, Query and friends map result rows to Go types. A Gateway satisfies ConnOrTx, so they run through it like any other connection.

Table names come from Tables, which applies the installation's prefix. Only validated field names and table names are ever interpolated into SQL; everything else goes through placeholders, usually with a QueryBuilder.

Query syntax

This package allows a few small extensions to SQL syntax to streamline the interaction between Go and Postgres.

Arguments can be provided using placeholders like $1, $2, etc. All arguments will be safely escaped and mapped from their Go type to the correct Postgres type. (This is a direct proxy to pgx.)

	messageIDs, err := db.Query[int](ctx, conn,
		`
		SELECT message_id
		FROM phorum_messages
		WHERE
			forum_id = ANY($1)
			AND status = $2
		`,
		[]int{1, 2},
		models.MessageStatusApproved,
	)

(This also demonstrates a useful tip: if you want to use a slice in your query, use Postgres arrays instead of IN.)

When querying individual fields, you can simply select the field like so:

	ids, err := db.Query[int](ctx, conn, `SELECT forum_id FROM phorum_forums`)

To query multiple columns at once, you may use a struct type with `db:"column_name"` tags, and the special $columns placeholder:

	type Forum struct {
		ID           int    `db:"forum_id"`
		Name         string `db:"name"`
		MessageCount int    `db:"message_count"`
	}
	forums, err := db.Query[Forum](ctx, conn, `SELECT $columns FROM ...`)
	// Resulting query:
	// SELECT forum_id, name, message_count FROM ...

Sometimes a table name prefix is required on each column to disambiguate between column names, especially when performing a JOIN. In those situations, you can include the prefix in the $columns placeholder like $columns{prefix}:

	type Message struct {
		ID      int    `db:"message_id"`
		Subject string `db:"subject"`
	}
	orphans, err := db.Query[Message](ctx, conn, `
		SELECT $columns{message}
		FROM
			phorum_messages AS message
			LEFT JOIN phorum_forums AS forum USING (forum_id)
		WHERE
			forum.forum_id IS NULL
	`)
	// Resulting query:
	// SELECT message.message_id, message.subject FROM ...

Queries can be named for logging, perf blocks and metrics by including a line of the form "---- Name" in the SQL.
*/
package db
