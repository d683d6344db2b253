package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddFileStorageKey{})
}

type AddFileStorageKey struct{}

func (m AddFileStorageKey) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 6, 9, 20, 15, 40, 0, time.UTC))
}

func (m AddFileStorageKey) Name() string {
	return "AddFileStorageKey"
}

func (m AddFileStorageKey) Description() string {
	return "Record where file payloads live when they are not stored inline"
}

func (m AddFileStorageKey) Up(ctx context.Context, tx pgx.Tx, tables db.Tables) error {
	return execAll(ctx, tx, tables,
		`
		ALTER TABLE {files}
			ADD COLUMN storage_key VARCHAR(255) NOT NULL DEFAULT '';
		`,
	)
}

func (m AddFileStorageKey) Down(ctx context.Context, tx pgx.Tx, tables db.Tables) error {
	return execAll(ctx, tx, tables,
		`
		ALTER TABLE {files}
			DROP COLUMN storage_key;
		`,
	)
}
