package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":12843", cfg.Addr)
	assert.Equal(t, DBDriverSQLite, cfg.DBDriver)
	assert.Equal(t, "./data/sift.db", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.DraftTTL)
	assert.Equal(t, StorageBackendLocal, cfg.Storage)
	assert.True(t, cfg.AllowRegistration)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ADDR", ":9000")
	t.Setenv("BASE_URL", "http://example.com/")
	t.Setenv("ALLOW_REGISTRATION", "false")
	t.Setenv("DRAFT_TTL", "15m")
	t.Setenv("HTTP_BODY_LIMIT_MB", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "http://example.com", cfg.BaseURL)
	assert.False(t, cfg.AllowRegistration)
	assert.Equal(t, 15*time.Minute, cfg.DraftTTL)
	assert.Equal(t, 4, cfg.BodyLimitMB)
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
}

func TestS3ConfigValidate(t *testing.T) {
	cfg := S3Config{Endpoint: "http://minio:9000", Region: "us-east-1", Bucket: "sift", AccessKeyID: "k"}
	require.Error(t, cfg.Validate())
	cfg.AccessSecret = "s"
	require.NoError(t, cfg.Validate())
}
