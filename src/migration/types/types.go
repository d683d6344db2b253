package types

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"github.com/jackc/pgx/v5"
)

// Migrations receive the installation's tables so they can use {suffix}
// placeholders instead of hardcoded names.
type Migration interface {
	Version() MigrationVersion
	Name() string
	Description() string
	Up(ctx context.Context, tx pgx.Tx, tables db.Tables) error
	Down(ctx context.Context, tx pgx.Tx, tables db.Tables) error
}

type MigrationVersion time.Time

func (v MigrationVersion) String() string {
	return time.Time(v).Format(time.RFC3339)
}

func (v MigrationVersion) Before(other MigrationVersion) bool {
	return time.Time(v).Before(time.Time(other))
}

func (v MigrationVersion) Equal(other MigrationVersion) bool {
	return time.Time(v).Equal(time.Time(other))
}

func (v MigrationVersion) IsZero() bool {
	return time.Time(v).IsZero()
}
