package forumctl

import (
	"context"
	"os"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

// Other packages register their subcommands on this in init.
var Command = &cobra.Command{
	Use:          "forumctl",
	Short:        "Maintain a forum database",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; it only supplies FORUMDB_* overrides.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return oops.New(err, "failed to read .env")
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return oops.New(err, "failed to load config")
		}
		config.Config = cfg
		logging.SetLevel(cfg.LogLevel)
		return nil
	},
}

func init() {
	Command.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FORUMDB_CONFIG"), "Path to a YAML config file")
}

// Opens a gateway and table set for the configured installation. The
// returned function closes the gateway.
func Open(ctx context.Context) (*db.Gateway, db.Tables, func(), error) {
	tables, err := db.NewTables(config.Config.Forum.TablePrefix)
	if err != nil {
		return nil, db.Tables{}, nil, err
	}
	gw := db.NewGateway(config.Config.Postgres)
	return gw, tables, func() { gw.Close(ctx) }, nil
}
