package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, int64(3*1024*1024), cfg.Uploads.MaxImageBytes)
	assert.Equal(t, int64(20*1024*1024), cfg.Uploads.MaxDocumentBytes)
	assert.Equal(t, 9, cfg.Uploads.PageSize)
	assert.Equal(t, "googleai", cfg.AI.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Empty(t, cfg.API.AllowedOrigins)
}

func TestLoadReadsEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LISTING_PAGE_SIZE", "12")
	t.Setenv("JWT_ACCESS_TOKEN_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, 12, cfg.Uploads.PageSize)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccessTokenTTL)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"missing minio key": {"MINIO_ACCESS_KEY_ID": ""},
		"unknown provider":  {"AI_PROVIDER": "parrot"},
		"zero page size":    {"LISTING_PAGE_SIZE": "0"},
		"negative api port": {"API_PORT": "-1"},
		"zero image limit":  {"UPLOAD_MAX_IMAGE_BYTES": "0"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			for key, value := range env {
				t.Setenv(key, value)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}

func TestLoadDatabaseIgnoresOtherSections(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY_ID", "")
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := LoadDatabase()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
}

func TestLoadDotEnvFileErrors(t *testing.T) {
	setRequiredEnv(t)
	t.Chdir(t.TempDir())

	_, err := Load()
	require.NoError(t, err, "a missing .env is not an error")

	// a directory named .env opens but cannot be read
	require.NoError(t, os.Mkdir(".env", 0o755))

	_, err = Load()
	assert.ErrorContains(t, err, "load .env")

	_, err = LoadDatabase()
	assert.ErrorContains(t, err, "load .env")
}
