package config

import (
	"errors"
	"fmt"
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

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Registration RegistrationConfig
	Uploads      UploadConfig
	Verification VerificationConfig
	Realtime     RealtimeConfig
	Summary      SummaryConfig
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

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RegistrationConfig holds the application window and per-student limits.
type RegistrationConfig struct {
	StartDate                 time.Time
	EndDate                   time.Time
	MaxApplicationsPerStudent int
}

// UploadConfig controls where roster files are retained and how large they may be.
type UploadConfig struct {
	Dir              string
	MaxFileSizeBytes int64
}

// VerificationConfig tunes roster parsing and the verification job queue.
type VerificationConfig struct {
	HeaderScanRows    int
	RedisQueueEnabled bool
	QueueName         string
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
}

// RealtimeConfig configures event fan-out.
type RealtimeConfig struct {
	RelayEnabled bool
	Channel      string
	BufferSize   int
}

// SummaryConfig governs caching of the department summary report.
type SummaryConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	start, err := parseWindowBound(v.GetString("REGISTRATION_START_DATE"), false)
	if err != nil {
		return nil, fmt.Errorf("REGISTRATION_START_DATE: %w", err)
	}
	end, err := parseWindowBound(v.GetString("REGISTRATION_END_DATE"), true)
	if err != nil {
		return nil, fmt.Errorf("REGISTRATION_END_DATE: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("registration window ends before it starts")
	}
	cfg.Registration = RegistrationConfig{
		StartDate:                 start,
		EndDate:                   end,
		MaxApplicationsPerStudent: v.GetInt("MAX_APPLICATIONS_PER_STUDENT"),
	}

	maxFileSize := v.GetInt64("MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	cfg.Uploads = UploadConfig{
		Dir:              v.GetString("UPLOAD_DEST"),
		MaxFileSizeBytes: maxFileSize,
	}

	cfg.Verification = VerificationConfig{
		HeaderScanRows:    v.GetInt("ROSTER_HEADER_SCAN_ROWS"),
		RedisQueueEnabled: v.GetBool("ENABLE_REDIS_QUEUE"),
		QueueName:         v.GetString("VERIFICATION_QUEUE_NAME"),
		WorkerConcurrency: v.GetInt("VERIFICATION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("VERIFICATION_WORKER_RETRIES"),
		RetryDelay:        parseDuration(v.GetString("VERIFICATION_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Realtime = RealtimeConfig{
		RelayEnabled: v.GetBool("ENABLE_REALTIME_RELAY"),
		Channel:      v.GetString("REALTIME_CHANNEL"),
		BufferSize:   v.GetInt("REALTIME_BUFFER"),
	}

	cfg.Summary = SummaryConfig{
		CacheEnabled: v.GetBool("ENABLE_SUMMARY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("SUMMARY_CACHE_TTL"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "thesis_registration")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REGISTRATION_START_DATE", "2024-02-01")
	v.SetDefault("REGISTRATION_END_DATE", "2024-02-14")
	v.SetDefault("MAX_APPLICATIONS_PER_STUDENT", 3)

	v.SetDefault("UPLOAD_DEST", "./uploads")
	v.SetDefault("MAX_FILE_SIZE", 10*1024*1024)

	v.SetDefault("ROSTER_HEADER_SCAN_ROWS", 20)
	v.SetDefault("ENABLE_REDIS_QUEUE", false)
	v.SetDefault("VERIFICATION_QUEUE_NAME", "thesis:verification")
	v.SetDefault("VERIFICATION_WORKER_CONCURRENCY", 1)
	v.SetDefault("VERIFICATION_WORKER_RETRIES", 3)
	v.SetDefault("VERIFICATION_RETRY_DELAY", "5s")

	v.SetDefault("ENABLE_REALTIME_RELAY", false)
	v.SetDefault("REALTIME_CHANNEL", "thesis:events")
	v.SetDefault("REALTIME_BUFFER", 32)

	v.SetDefault("ENABLE_SUMMARY_CACHE", false)
	v.SetDefault("SUMMARY_CACHE_TTL", "1m")
}

// parseWindowBound accepts a plain date or an RFC3339 timestamp. A plain end
// date covers the whole day.
func parseWindowBound(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond).UTC(), nil
	}
	return day.UTC(), nil
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
