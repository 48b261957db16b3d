package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	LogLevel           string
	ServiceName        string

	Storage   StorageConfig
	Cache     CacheConfig
	Livestats LivestatsConfig

	FindingsDir string
	StatsAddr   string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	TargetsBucket string
	ResultsBucket string
}

type CacheConfig struct {
	Root          string
	MaxSizeBytes  int64
	EvictInterval time.Duration
}

type LivestatsConfig struct {
	PollInterval  time.Duration
	RecencyWindow time.Duration
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RedisUrl:           os.Getenv("OVERRIDE_REDIS_URL"), // optional, for local dev
		LogLevel:           os.Getenv("LOG_LEVEL"),
		ServiceName:        os.Getenv("SERVICE_NAME"),
		Storage: StorageConfig{
			Endpoint:      getEnv("S3_ENDPOINT", "minio:9000"),
			AccessKey:     getEnv("S3_ACCESS_KEY", "forgefuzz"),
			SecretKey:     getEnv("S3_SECRET_KEY", "forgefuzz123"),
			Region:        getEnv("S3_REGION", "us-east-1"),
			UseSSL:        os.Getenv("S3_USE_SSL") == "true",
			TargetsBucket: getEnv("S3_TARGETS_BUCKET", "targets"),
			ResultsBucket: getEnv("S3_RESULTS_BUCKET", "results"),
		},
		Cache: CacheConfig{
			Root:          getEnv("CACHE_DIR", "/tmp/forgefuzz-cache"),
			MaxSizeBytes:  parseInt64(os.Getenv("CACHE_MAX_SIZE_BYTES"), 10<<30),
			EvictInterval: parseDuration(os.Getenv("CACHE_EVICT_INTERVAL"), 5*time.Minute),
		},
		Livestats: LivestatsConfig{
			PollInterval:  parseDuration(os.Getenv("STATS_POLL_INTERVAL"), 5*time.Second),
			RecencyWindow: parseDuration(os.Getenv("STATS_RECENCY_WINDOW"), 15*time.Minute),
		},
		FindingsDir: getEnv("FINDINGS_DIR", "/var/lib/forgefuzz/findings"),
		StatsAddr:   getEnv("STATS_LISTEN_ADDR", ":8090"),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}

	if config.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}
	if config.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL environment variable is required")
	}
	if config.RedisUrl == "" {
		if config.RedisSentinelHosts == "" {
			logger.Fatal("REDIS_SENTINEL_HOSTS environment variable is required")
		}
		if config.RedisMasterName == "" {
			logger.Fatal("REDIS_MASTER environment variable is required")
		}
	}
	if config.ServiceName == "" {
		config.ServiceName = "forgefuzz" // Default service name
	}

	return config
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt64(val string, defaultVal int64) int64 {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}
