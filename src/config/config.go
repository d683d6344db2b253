package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// Defaults are suitable for local development. Deployments override them
// with a YAML file (see Load) and FORUMDB_* environment variables.
var Config = Default()

func Default() ForumDBConfig {
	return ForumDBConfig{
		Env:      Dev,
		LogLevel: zerolog.InfoLevel,
		Postgres: PostgresConfig{
			User:     "forumdb",
			Password: "password",
			Hostname: "localhost",
			Port:     5432,
			DbName:   "forumdb",
			LogLevel: tracelog.LogLevelWarn,
		},
		Forum: ForumConfig{
			TablePrefix:           "phorum",
			ListLengthFlat:        30,
			ListLengthThreaded:    15,
			ReadLength:            30,
			MaxReadMarkers:        1000,
			StatsRefreshThreshold: 1000,
			CheckDuplicates:       true,
			DuplicateWindow:       time.Hour,
			MaxEditTime:           2 * time.Hour,
			DefaultLanguage:       "english",
			FullTextSearch:        true,
		},
		Redis: RedisConfig{
			TTL: time.Hour,
		},
		Files: FilesConfig{
			Backend:       FileBackendDB,
			MaxFileSize:   1024 * 1024,
			PurgeInterval: time.Hour,
		},
		Email: EmailConfig{
			ServerPort: 587,
			FromName:   "Forum",
		},
	}
}

// Reads a YAML file over the defaults, applies environment overrides, and
// validates the result. An empty path skips the file.
func Load(path string) (ForumDBConfig, error) {
	cfg := Default()

	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return ForumDBConfig{}, err
		}
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return ForumDBConfig{}, err
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return ForumDBConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg ForumDBConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return v.Struct(cfg)
}

func applyEnv(cfg *ForumDBConfig) {
	if v := os.Getenv("FORUMDB_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FORUMDB_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FORUMDB_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Hostname = v
	}
	if v := os.Getenv("FORUMDB_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FORUMDB_POSTGRES_DB"); v != "" {
		cfg.Postgres.DbName = v
	}
	if v := os.Getenv("FORUMDB_TABLE_PREFIX"); v != "" {
		cfg.Forum.TablePrefix = v
	}
	if v := os.Getenv("FORUMDB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FORUMDB_SMTP_PASSWORD"); v != "" {
		cfg.Email.MailerPassword = v
	}
}
