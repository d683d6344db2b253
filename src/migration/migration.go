package migration

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/migration/migrations"
	"git.handmade.network/hmn/forumdb/src/migration/types"
	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

var ErrUnknownVersion = errors.New("unknown migration version")

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			conn, tables, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			if listMigrations {
				ListMigrations(ctx, conn, tables)
				return nil
			}

			targetVersion := time.Time{}
			if len(args) > 0 {
				targetVersion, err = time.Parse(time.RFC3339, args[0])
				if err != nil {
					return oops.New(err, "bad version string")
				}
			}
			return Migrate(ctx, conn, tables, types.MigrationVersion(targetVersion))
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := MakeMigration(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Println("Successfully created migration file:")
			fmt.Println(path)
			return nil
		},
	}

	forumctl.Command.AddCommand(migrateCommand)
	forumctl.Command.AddCommand(makeMigrationCommand)
}

func connect(ctx context.Context) (*pgx.Conn, db.Tables, error) {
	tables, err := db.NewTables(config.Config.Forum.TablePrefix)
	if err != nil {
		return nil, db.Tables{}, err
	}
	conn, err := db.Connect(ctx, config.Config.Postgres)
	if err != nil {
		return nil, db.Tables{}, err
	}
	return conn, tables, nil
}

// Each installation tracks its own schema version, so several prefixes can
// share a database.
func versionTable(tables db.Tables) string {
	return pq.QuoteIdentifier(tables.Prefix + "_migration")
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func LatestVersion() types.MigrationVersion {
	allVersions := getSortedMigrationVersions()
	return allVersions[len(allVersions)-1]
}

func getCurrentVersion(ctx context.Context, conn *pgx.Conn, tables db.Tables) (types.MigrationVersion, error) {
	var currentVersion time.Time
	row := conn.QueryRow(ctx, fmt.Sprintf("SELECT version FROM %s", versionTable(tables)))
	err := row.Scan(&currentVersion)
	if err != nil {
		return types.MigrationVersion{}, err
	}
	currentVersion = currentVersion.UTC()

	return types.MigrationVersion(currentVersion), nil
}

func ListMigrations(ctx context.Context, conn *pgx.Conn, tables db.Tables) {
	// A fresh database has no version table yet, which reads as version zero.
	currentVersion, _ := getCurrentVersion(ctx, conn, tables)
	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
}

/*
Moves the installation's schema to targetVersion, rolling forward or back one
migration per transaction. A zero target means the latest migration.
*/
func Migrate(ctx context.Context, conn *pgx.Conn, tables db.Tables, targetVersion types.MigrationVersion) error {
	log := logging.With().Str("prefix", tables.Prefix).Logger()

	_, err := conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version		TIMESTAMP WITH TIME ZONE
		)
	`, versionTable(tables)))
	if err != nil {
		return oops.New(err, "failed to create migration table")
	}

	// ensure there is a row
	var numRows int
	err = conn.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", versionTable(tables))).Scan(&numRows)
	if err != nil {
		return oops.New(err, "failed to count migration rows")
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version) VALUES ($1)", versionTable(tables)), time.Time{})
		if err != nil {
			return oops.New(err, "failed to insert initial migration row")
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn, tables)
	if err != nil {
		return oops.New(err, "failed to get current version")
	}
	if currentVersion.IsZero() {
		log.Info().Msg("This is the first time you have run database migrations.")
	} else {
		log.Info().Stringer("version", currentVersion).Msg("Current version")
	}

	allVersions := getSortedMigrationVersions()
	if targetVersion.IsZero() {
		targetVersion = allVersions[len(allVersions)-1]
	}

	currentIndex := -1
	targetIndex := -1
	for i, version := range allVersions {
		if currentVersion.Equal(version) {
			currentIndex = i
		}
		if targetVersion.Equal(version) {
			targetIndex = i
		}
	}

	if targetIndex < 0 {
		return oops.New(ErrUnknownVersion, "could not find migration with version %v", targetVersion)
	}

	if currentIndex < targetIndex {
		// roll forward
		for i := currentIndex + 1; i <= targetIndex; i++ {
			version := allVersions[i]
			migration := migrations.All[version]
			log.Info().Stringer("version", version).Str("name", migration.Name()).Msg("Applying migration")

			if err := applyStep(ctx, conn, tables, migration.Up, version); err != nil {
				return oops.New(err, "migration %v failed", version)
			}
		}
	} else if currentIndex > targetIndex {
		// roll back
		for i := currentIndex; i > targetIndex; i-- {
			version := allVersions[i]
			previousVersion := types.MigrationVersion{}
			if i > 0 {
				previousVersion = allVersions[i-1]
			}

			migration := migrations.All[version]
			log.Info().Stringer("version", version).Str("name", migration.Name()).Msg("Rolling back migration")

			if err := applyStep(ctx, conn, tables, migration.Down, previousVersion); err != nil {
				return oops.New(err, "rollback of %v failed", version)
			}
		}
	} else {
		log.Info().Msg("Already migrated; nothing to do.")
	}
	return nil
}

func applyStep(
	ctx context.Context,
	conn *pgx.Conn,
	tables db.Tables,
	step func(ctx context.Context, tx pgx.Tx, tables db.Tables) error,
	newVersion types.MigrationVersion,
) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := step(ctx, tx, tables); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET version = $1", versionTable(tables)), time.Time(newVersion))
	if err != nil {
		return oops.New(err, "failed to update version in migrations table")
	}

	return tx.Commit(ctx)
}

//go:embed migrationTemplate.txt
var migrationTemplate string

// Writes a new migration file from the template and returns its path.
func MakeMigration(name, description string) (string, error) {
	result := migrationTemplate
	result = strings.ReplaceAll(result, "%NAME%", name)
	result = strings.ReplaceAll(result, "%DESCRIPTION%", fmt.Sprintf("%#v", description))

	now := time.Now().UTC()
	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	result = strings.ReplaceAll(result, "%DATE%", nowConstructor)

	safeVersion := strings.ReplaceAll(types.MigrationVersion(now).String(), ":", "")
	filename := fmt.Sprintf("%v_%v.go", safeVersion, name)
	path := filepath.Join("src", "migration", "migrations", filename)

	if err := os.WriteFile(path, []byte(result), 0644); err != nil {
		return "", oops.New(err, "failed to write migration file")
	}
	return path, nil
}
