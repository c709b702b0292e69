package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	BaseURL   string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Reset    PasswordResetConfig
	Mail     MailConfig
	Google   GoogleOAuthConfig
	CORS     CORSConfig
	Log      LogConfig
	Jobs     JobsConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the signing secret and token lifetimes. The secret is
// loaded once at startup and never mutated afterwards.
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessExpiration  time.Duration
	RefreshExpiration time.Duration
}

// PasswordResetConfig bounds the validity of issued reset tokens.
type PasswordResetConfig struct {
	TokenValidity time.Duration
}

// MailConfig configures outbound notification delivery.
type MailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SubjectPrefix string
	ConsoleMirror bool
}

// GoogleOAuthConfig configures the federated login bridge.
type GoogleOAuthConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// JobsConfig tunes the background notification queue.
type JobsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.BaseURL = strings.TrimRight(v.GetString("BASE_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		AccessExpiration:  parseDuration(v.GetString("JWT_ACCESS_EXPIRATION"), time.Hour),
		RefreshExpiration: parseDuration(v.GetString("JWT_REFRESH_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.Reset = PasswordResetConfig{
		TokenValidity: parseDuration(v.GetString("PASSWORD_RESET_VALIDITY"), 24*time.Hour),
	}

	cfg.Mail = MailConfig{
		Host:          v.GetString("SMTP_HOST"),
		Port:          v.GetInt("SMTP_PORT"),
		Username:      v.GetString("SMTP_USERNAME"),
		Password:      v.GetString("SMTP_PASSWORD"),
		From:          v.GetString("MAIL_FROM"),
		SubjectPrefix: v.GetString("MAIL_SUBJECT_PREFIX"),
		ConsoleMirror: v.GetBool("MAIL_CONSOLE_MIRROR"),
	}

	cfg.Google = GoogleOAuthConfig{
		Enabled:      v.GetBool("GOOGLE_OAUTH_ENABLED"),
		ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		RedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		BufferSize: v.GetInt("JOBS_BUFFER_SIZE"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "auth_api")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "auth-api")
	v.SetDefault("JWT_ACCESS_EXPIRATION", "1h")
	v.SetDefault("JWT_REFRESH_EXPIRATION", "168h")

	v.SetDefault("PASSWORD_RESET_VALIDITY", "24h")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "no-reply@localhost")
	v.SetDefault("MAIL_SUBJECT_PREFIX", "[Management System] ")
	v.SetDefault("MAIL_CONSOLE_MIRROR", true)

	v.SetDefault("GOOGLE_OAUTH_ENABLED", false)
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/oauth/google/callback")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_BUFFER_SIZE", 16)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "5s")

	v.SetDefault("ENABLE_METRICS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
