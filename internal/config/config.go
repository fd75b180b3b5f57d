package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LogConfig 控制 slog 输出格式与级别。
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
	SQL    bool   `mapstructure:"sql"`
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

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	Bucket           string `mapstructure:"bucket"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 描述主体令牌（JWT）的密钥与有效期。
// 登录方式（邮件链接/第三方登录）由外部身份服务负责，这里只校验其签发的令牌。
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// UploadConfig 限制媒体上传。
type UploadConfig struct {
	ClamdAddr     string   `mapstructure:"clamd_addr"`
	MaxBytes      int64    `mapstructure:"max_bytes"`
	MIMEWhitelist []string `mapstructure:"mime_whitelist"`
	PerHourLimit  int      `mapstructure:"per_hour_limit"`
}

// PortfolioConfig 控制作品集聚合。
type PortfolioConfig struct {
	TopCompetencies int           `mapstructure:"top_competencies"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	RegenerateAfter time.Duration `mapstructure:"regenerate_after"`
	ReadRetries     uint64        `mapstructure:"read_retries"`
}

// WorkerConfig 控制 asynq worker。
type WorkerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	PDFRenderTimeout time.Duration `mapstructure:"pdf_render_timeout"`
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

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
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
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)
	cfg.Upload.MIMEWhitelist = splitList(cfg.Upload.MIMEWhitelist)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
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
	v.SetDefault("api.request_timeout", 15*time.Second)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.sql", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "dreamgarden")
	v.SetDefault("database.user", "dreamgarden")
	v.SetDefault("database.password", "dreamgarden")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.bucket", "records")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.issuer", "dreamgarden")
	v.SetDefault("auth.access_token_ttl", time.Hour)
	v.SetDefault("upload.clamd_addr", "tcp://localhost:3310")
	v.SetDefault("upload.max_bytes", int64(50*1024*1024))
	v.SetDefault("upload.mime_whitelist", []string{
		"image/png", "image/jpeg", "image/webp", "video/mp4", "video/quicktime", "application/pdf",
	})
	v.SetDefault("upload.per_hour_limit", 120)
	v.SetDefault("portfolio.top_competencies", 5)
	v.SetDefault("portfolio.cache_ttl", 10*time.Minute)
	v.SetDefault("portfolio.regenerate_after", 30*time.Second)
	v.SetDefault("portfolio.read_retries", 3)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.metrics_port", 9091)
	v.SetDefault("worker.pdf_render_timeout", 45*time.Second)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                   "API_PORT",
		"api.request_timeout":        "API_REQUEST_TIMEOUT",
		"api.allowed_origins":        "API_ALLOWED_ORIGINS",
		"log.format":                 "LOG_FORMAT",
		"log.level":                  "LOG_LEVEL",
		"log.sql":                    "LOG_SQL",
		"database.host":              "DATABASE_HOST",
		"database.port":              "DATABASE_PORT",
		"database.name":              "POSTGRES_DB",
		"database.user":              "POSTGRES_USER",
		"database.password":          "POSTGRES_PASSWORD",
		"database.sslmode":           "DATABASE_SSLMODE",
		"redis.host":                 "REDIS_HOST",
		"redis.port":                 "REDIS_PORT",
		"minio.endpoint":             "MINIO_ENDPOINT",
		"minio.public_endpoint":      "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":        "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":    "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":              "MINIO_USE_SSL",
		"minio.region":               "MINIO_REGION",
		"minio.bucket_lookup":        "MINIO_BUCKET_LOOKUP",
		"minio.bucket":               "MINIO_BUCKET",
		"minio.auto_create_bucket":   "MINIO_AUTO_CREATE_BUCKET",
		"auth.public_key_path":       "AUTH_PUBLIC_KEY_PATH",
		"auth.private_key_path":      "AUTH_PRIVATE_KEY_PATH",
		"auth.issuer":                "AUTH_ISSUER",
		"auth.access_token_ttl":      "AUTH_ACCESS_TOKEN_TTL",
		"upload.clamd_addr":          "CLAMD_ADDR",
		"upload.max_bytes":           "UPLOAD_MAX_BYTES",
		"upload.mime_whitelist":      "UPLOAD_MIME_WHITELIST",
		"upload.per_hour_limit":      "UPLOAD_PER_HOUR_LIMIT",
		"portfolio.top_competencies": "PORTFOLIO_TOP_COMPETENCIES",
		"portfolio.cache_ttl":        "PORTFOLIO_CACHE_TTL",
		"portfolio.regenerate_after": "PORTFOLIO_REGENERATE_AFTER",
		"portfolio.read_retries":     "PORTFOLIO_READ_RETRIES",
		"worker.concurrency":         "WORKER_CONCURRENCY",
		"worker.metrics_port":        "WORKER_METRICS_PORT",
		"worker.pdf_render_timeout":  "WORKER_PDF_RENDER_TIMEOUT",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// splitList 兼容以逗号分隔的环境变量写法。
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.API.RequestTimeout <= 0 {
		return errors.New("api request timeout must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
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
	if cfg.Auth.PublicKeyPath == "" {
		return errors.New("auth public key path is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth access token ttl must be positive")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload max bytes must be positive")
	}
	if cfg.Portfolio.TopCompetencies <= 0 {
		return errors.New("portfolio top competencies must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
