package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddSearchIndex{})
}

type AddSearchIndex struct{}

func (m AddSearchIndex) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 4, 18, 9, 24, 33, 0, time.UTC))
}

func (m AddSearchIndex) Name() string {
	return "AddSearchIndex"
}

func (m AddSearchIndex) Description() string {
	return "Add a full-text index over the search text"
}

func (m AddSearchIndex) Up(ctx context.Context, tx pgx.Tx, tables db.Tables) error {
	return execAll(ctx, tx, tables,
		`
		CREATE INDEX ON {search}
			USING GIN (to_tsvector('simple', search_text));
		`,
	)
}

func (m AddSearchIndex) Down(ctx context.Context, tx pgx.Tx, tables db.Tables) error {
	// The index was named by postgres, so find it through the table.
	return execAll(ctx, tx, tables,
		`
		DO $$
		DECLARE idx TEXT;
		BEGIN
			SELECT indexname INTO idx FROM pg_indexes
			WHERE tablename = trim(both '"' from '{search}') AND indexdef LIKE '%to_tsvector%';
			IF idx IS NOT NULL THEN
				EXECUTE format('DROP INDEX %I', idx);
			END IF;
		END $$;
		`,
	)
}
