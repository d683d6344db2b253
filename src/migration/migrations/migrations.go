package migrations

import (
	"context"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/migration/types"
	"github.com/jackc/pgx/v5"
)

var All = make(map[types.MigrationVersion]types.Migration)

func registerMigration(m types.Migration) {
	All[m.Version()] = m
}

// Runs each statement in order with table placeholders expanded.
func execAll(ctx context.Context, tx pgx.Tx, tables db.Tables, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, tables.Expand(stmt)); err != nil {
			return err
		}
	}
	return nil
}
