package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Cache    CacheConfig
	Origin   OriginConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Prefetch PrefetchConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"0s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type CacheConfig struct {
	StorageRoot string   `envconfig:"CACHE_STORAGE_ROOT" default:"/var/cache/mediacache/media"`
	Capacity    ByteSize `envconfig:"CACHE_CAPACITY" default:"100MiB"`
	MaxSpanSize ByteSize `envconfig:"CACHE_MAX_SPAN_SIZE" default:"16MiB"`
	SegmentSize ByteSize `envconfig:"CACHE_SEGMENT_SIZE" default:"1MiB"`
	// AssetTTL bounds how long asset registrations stay in Redis.
	AssetTTL time.Duration `envconfig:"CACHE_ASSET_TTL" default:"5m"`
}

type OriginConfig struct {
	DefaultUserAgent string        `envconfig:"ORIGIN_DEFAULT_USER_AGENT" default:"mediacache"`
	MaxRedirects     int           `envconfig:"ORIGIN_MAX_REDIRECTS" default:"10"`
	Timeout          time.Duration `envconfig:"ORIGIN_TIMEOUT" default:"0s"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"mediacache"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"mediacache"`
	DBName   string `envconfig:"POSTGRES_DB" default:"mediacache"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	Enabled   bool   `envconfig:"MINIO_ENABLED" default:"false"`
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"media"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"mediacache"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"mediacache"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type PrefetchConfig struct {
	Enabled    bool `envconfig:"PREFETCH_ENABLED" default:"false"`
	MaxRetries int  `envconfig:"PREFETCH_MAX_RETRIES" default:"3"`
}

// ByteSize is a byte count read from strings such as "100MiB" or "64 MB".
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}
	if n > math.MaxInt64 {
		return fmt.Errorf("byte size %q out of range", value)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Cache.Capacity <= 0 {
		return nil, fmt.Errorf("failed to load config: CACHE_CAPACITY must be positive")
	}
	return &cfg, nil
}
