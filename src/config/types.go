package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Beta Environment = "beta"
	Dev  Environment = "dev"
)

type ForumDBConfig struct {
	Env      Environment    `yaml:"env" validate:"required,oneof=live beta dev"`
	LogLevel zerolog.Level  `yaml:"log_level"`
	Postgres PostgresConfig `yaml:"postgres"`
	Forum    ForumConfig    `yaml:"forum"`
	Redis    RedisConfig    `yaml:"redis"`
	Files    FilesConfig    `yaml:"files"`
	Email    EmailConfig    `yaml:"email"`
}

type PostgresConfig struct {
	User     string            `yaml:"user" validate:"required"`
	Password string            `yaml:"password"`
	Hostname string            `yaml:"hostname" validate:"required"`
	Port     int               `yaml:"port" validate:"required,min=1"`
	DbName   string            `yaml:"dbname" validate:"required"`
	LogLevel tracelog.LogLevel `yaml:"log_level"`
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type ForumConfig struct {
	// Every table is named <TablePrefix>_<suffix>, so several installations
	// can share one database.
	TablePrefix string `yaml:"table_prefix" validate:"required"`

	ListLengthFlat     int `yaml:"list_length_flat" validate:"min=1"`
	ListLengthThreaded int `yaml:"list_length_threaded" validate:"min=1"`
	ReadLength         int `yaml:"read_length" validate:"min=1"`

	// Total number of read markers kept per user, across all forums.
	MaxReadMarkers int `yaml:"max_read_markers" validate:"min=1"`

	// Forums with fewer messages than this always get a full stats recompute.
	StatsRefreshThreshold int `yaml:"stats_refresh_threshold" validate:"min=0"`

	CheckDuplicates bool          `yaml:"check_duplicates"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	MaxEditTime     time.Duration `yaml:"max_edit_time"`

	DefaultLanguage string `yaml:"default_language"`

	// Selects the indexed search backend instead of substring matching.
	FullTextSearch bool `yaml:"full_text_search"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type FileBackend string

const (
	FileBackendDB FileBackend = "db"
	FileBackendS3 FileBackend = "s3"
)

type FilesConfig struct {
	Backend        FileBackend   `yaml:"backend" validate:"oneof=db s3"`
	MaxFileSize    int64         `yaml:"max_file_size"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
	S3Endpoint     string        `yaml:"s3_endpoint"`
	S3Region       string        `yaml:"s3_region"`
	S3Bucket       string        `yaml:"s3_bucket" validate:"required_if=Backend s3"`
	S3Key          string        `yaml:"s3_key"`
	S3Secret       string        `yaml:"s3_secret"`
	S3UsePathStyle bool          `yaml:"s3_use_path_style"`
}

// Outgoing mail for subscription notices. No server address means no mail.
type EmailConfig struct {
	ServerAddress  string `yaml:"server_address"`
	ServerPort     int    `yaml:"server_port" validate:"min=0,max=65535"`
	FromAddress    string `yaml:"from_address" validate:"required_with=ServerAddress"`
	FromName       string `yaml:"from_name"`
	MailerUsername string `yaml:"mailer_username"`
	MailerPassword string `yaml:"mailer_password"`

	// Sends every mail here instead, for testing against real data.
	ForceToAddress string `yaml:"force_to_address"`
}

func (c EmailConfig) Enabled() bool {
	return c.ServerAddress != ""
}
