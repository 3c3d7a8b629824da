package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings sourced from environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Mail     MailConfig     `mapstructure:"mail"`
	AI       AIConfig       `mapstructure:"ai"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	InternalSecret string   `mapstructure:"internal_secret"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig contains JWT and login throttling settings.
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
	CookieDomain          string        `mapstructure:"cookie_domain"`
}

// MailConfig contains SMTP settings. An empty host disables delivery.
type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// AIConfig selects the language model used for synopses.
type AIConfig struct {
	Provider      string        `mapstructure:"provider"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// UploadsConfig contains limits applied to uploaded files and listings.
type UploadsConfig struct {
	MaxImageBytes             int64  `mapstructure:"max_image_bytes"`
	MaxDocumentBytes          int64  `mapstructure:"max_document_bytes"`
	ClamdAddr                 string `mapstructure:"clamd_addr"`
	PageSize                  int    `mapstructure:"page_size"`
	SynopsisRequestsPerHour   int    `mapstructure:"synopsis_requests_per_hour"`
	SynopsisBackgroundRetries int    `mapstructure:"synopsis_background_retries"`
}

// WorkerConfig contains asynq worker settings.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// loadDotEnv merges ./.env into the environment. A missing file is fine, real deployments
// inject the environment directly; an unreadable or malformed one is an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables, after merging an optional .env file.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.AllowedOrigins = splitOrigins(cfg.API.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDatabase reads only the database section, for tools that need nothing else.
func LoadDatabase() (DatabaseConfig, error) {
	if err := loadDotEnv(); err != nil {
		return DatabaseConfig{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return DatabaseConfig{}, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return DatabaseConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return DatabaseConfig{}, err
	}
	return cfg.Database, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "acadrepo")
	v.SetDefault("database.user", "acadrepo")
	v.SetDefault("database.password", "acadrepo")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "projects")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@acadrepo.local")
	v.SetDefault("ai.provider", "googleai")
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.max_input_chars", 30000)
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("uploads.max_image_bytes", 3*1024*1024)
	v.SetDefault("uploads.max_document_bytes", 20*1024*1024)
	v.SetDefault("uploads.page_size", 9)
	v.SetDefault("uploads.synopsis_requests_per_hour", 20)
	v.SetDefault("uploads.synopsis_background_retries", 3)
	v.SetDefault("worker.concurrency", 5)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                            "API_PORT",
		"api.allowed_origins":                 "API_ALLOWED_ORIGINS",
		"api.internal_secret":                 "INTERNAL_API_SECRET",
		"database.host":                       "DATABASE_HOST",
		"database.port":                       "DATABASE_PORT",
		"database.name":                       "POSTGRES_DB",
		"database.user":                       "POSTGRES_USER",
		"database.password":                   "POSTGRES_PASSWORD",
		"database.sslmode":                    "DATABASE_SSLMODE",
		"redis.host":                          "REDIS_HOST",
		"redis.port":                          "REDIS_PORT",
		"redis.password":                      "REDIS_PASSWORD",
		"minio.endpoint":                      "MINIO_ENDPOINT",
		"minio.access_key_id":                 "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":             "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                       "MINIO_USE_SSL",
		"minio.region":                        "MINIO_REGION",
		"minio.bucket":                        "MINIO_BUCKET",
		"minio.bucket_lookup":                 "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":            "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":               "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":                "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":               "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":              "JWT_REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour":      "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":           "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":                 "LOGIN_LOCK_TTL",
		"auth.cookie_domain":                  "COOKIE_DOMAIN",
		"mail.host":                           "SMTP_HOST",
		"mail.port":                           "SMTP_PORT",
		"mail.username":                       "SMTP_USERNAME",
		"mail.password":                       "SMTP_PASSWORD",
		"mail.from":                           "MAIL_FROM",
		"ai.provider":                         "AI_PROVIDER",
		"ai.api_key":                          "AI_API_KEY",
		"ai.model":                            "AI_MODEL",
		"ai.base_url":                         "AI_BASE_URL",
		"ai.max_input_chars":                  "AI_MAX_INPUT_CHARS",
		"ai.timeout":                          "AI_TIMEOUT",
		"uploads.max_image_bytes":             "UPLOAD_MAX_IMAGE_BYTES",
		"uploads.max_document_bytes":          "UPLOAD_MAX_DOCUMENT_BYTES",
		"uploads.clamd_addr":                  "CLAMD_ADDR",
		"uploads.page_size":                   "LISTING_PAGE_SIZE",
		"uploads.synopsis_requests_per_hour":  "SYNOPSIS_REQUESTS_PER_HOUR",
		"uploads.synopsis_background_retries": "SYNOPSIS_BACKGROUND_RETRIES",
		"worker.concurrency":                  "WORKER_CONCURRENCY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func splitOrigins(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("jwt token ttl must be positive")
	}
	switch strings.ToLower(cfg.AI.Provider) {
	case "googleai", "openai":
	default:
		return fmt.Errorf("unsupported ai provider %q", cfg.AI.Provider)
	}
	if cfg.AI.MaxInputChars <= 0 {
		return errors.New("ai max input chars must be positive")
	}
	if cfg.Uploads.MaxImageBytes <= 0 || cfg.Uploads.MaxDocumentBytes <= 0 {
		return errors.New("upload size limits must be positive")
	}
	if cfg.Uploads.PageSize <= 0 {
		return errors.New("listing page size must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if d.Name == "" {
		return errors.New("database name is required")
	}
	if d.User == "" {
		return errors.New("database user is required")
	}
	if d.Password == "" {
		return errors.New("database password is required")
	}
	if d.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	return nil
}
