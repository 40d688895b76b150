package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type StorageBackend string

const (
	StorageBackendLocal StorageBackend = "local"
	StorageBackendS3    StorageBackend = "s3"
)

type DBDriver string

const (
	DBDriverSQLite   DBDriver = "sqlite"
	DBDriverPostgres DBDriver = "postgres"
)

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKeyID  string
	AccessSecret string
	UsePathStyle bool
}

type Config struct {
	Addr              string
	BaseURL           string
	DBDriver          DBDriver
	DBPath            string
	DBDSN             string
	BackupDir         string
	BodyLimitMB       int
	Version           string
	Storage           StorageBackend
	S3                S3Config
	AllowRegistration bool
	BootstrapUser     string
	BootstrapPassword string
	BootstrapToken    string
	LogLevel          string
	LogDevelopment    bool
	DraftTTL          time.Duration
}

var envKeys = map[string]string{
	"addr":               "APP_ADDR",
	"base_url":           "BASE_URL",
	"db.driver":          "DB_DRIVER",
	"db.path":            "DB_PATH",
	"db.dsn":             "DB_DSN",
	"backup_dir":         "BACKUP_DIR",
	"http.body_limit_mb": "HTTP_BODY_LIMIT_MB",
	"version":            "SIFT_API_VERSION",
	"allow_registration": "ALLOW_REGISTRATION",
	"bootstrap.user":     "BOOTSTRAP_USER",
	"bootstrap.password": "BOOTSTRAP_PASSWORD",
	"bootstrap.token":    "BOOTSTRAP_TOKEN",
	"log.level":          "LOG_LEVEL",
	"log.development":    "LOG_DEVELOPMENT",
	"draft_ttl":          "DRAFT_TTL",
}

// Load reads defaults, an optional sift.yaml and the environment, in
// increasing order of precedence.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":12843")
	v.SetDefault("base_url", "http://localhost:12843")
	v.SetDefault("db.driver", string(DBDriverSQLite))
	v.SetDefault("db.path", "./data/sift.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("backup_dir", "./data/backups")
	v.SetDefault("http.body_limit_mb", 4)
	v.SetDefault("version", "0.1")
	v.SetDefault("allow_registration", true)
	v.SetDefault("bootstrap.user", "demo")
	v.SetDefault("bootstrap.password", "")
	v.SetDefault("bootstrap.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("draft_ttl", time.Hour)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	v.SetConfigName("sift")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Addr:              strings.TrimSpace(v.GetString("addr")),
		BaseURL:           strings.TrimRight(strings.TrimSpace(v.GetString("base_url")), "/"),
		DBDriver:          DBDriver(strings.ToLower(strings.TrimSpace(v.GetString("db.driver")))),
		DBPath:            strings.TrimSpace(v.GetString("db.path")),
		DBDSN:             strings.TrimSpace(v.GetString("db.dsn")),
		BackupDir:         strings.TrimSpace(v.GetString("backup_dir")),
		BodyLimitMB:       v.GetInt("http.body_limit_mb"),
		Version:           v.GetString("version"),
		Storage:           StorageBackendLocal,
		AllowRegistration: v.GetBool("allow_registration"),
		BootstrapUser:     strings.TrimSpace(v.GetString("bootstrap.user")),
		BootstrapPassword: v.GetString("bootstrap.password"),
		BootstrapToken:    strings.TrimSpace(v.GetString("bootstrap.token")),
		LogLevel:          strings.TrimSpace(v.GetString("log.level")),
		LogDevelopment:    v.GetBool("log.development"),
		DraftTTL:          v.GetDuration("draft_ttl"),
	}
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 4
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = time.Hour
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DBDriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db path is required for sqlite")
		}
	case DBDriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("db dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	return nil
}

func (c S3Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("s3 endpoint is required when storage backend is s3")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required when storage backend is s3")
	}
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when storage backend is s3")
	}
	if c.AccessKeyID == "" {
		return fmt.Errorf("s3 access key id is required when storage backend is s3")
	}
	if c.AccessSecret == "" {
		return fmt.Errorf("s3 access key secret is required when storage backend is s3")
	}
	return nil
}
