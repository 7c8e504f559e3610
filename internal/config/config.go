// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// StoreBackend selects "postgres" or "memory"
	StoreBackend string

	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string

	MongoURI      string
	MongoDatabase string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ProductCacheTTL time.Duration
	CheckoutLockTTL time.Duration

	KafkaBrokers       []string
	OrderEventsTopic   string
	NotificationsTopic string
	// PaymentEventsTopic carries provider events relayed by a bridge, empty disables the consumer
	PaymentEventsTopic string
	OutboxInterval     time.Duration

	PaymentProviderURL string
	PaymentAPIKey      string
	PaymentTimeout     time.Duration
	WebhookSecret      string

	ReservationTTL    time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	LowStockThreshold int32
	NotifyQueueSize   int
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads .env if present, then the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "50056"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		StoreBackend:       getEnv("STORE_BACKEND", BackendPostgres),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", "postgres"),
		DBName:             getEnv("DB_NAME", "ecommerce"),
		MigrationsPath:     getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DATABASE", "cart"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:       getList("KAFKA_BROKERS", "localhost:9092"),
		OrderEventsTopic:   getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		NotificationsTopic: getEnv("NOTIFICATIONS_TOPIC", "notifications"),
		PaymentEventsTopic: getEnv("PAYMENT_EVENTS_TOPIC", ""),
		PaymentProviderURL: getEnv("PAYMENT_PROVIDER_URL", ""),
		PaymentAPIKey:      getEnv("PAYMENT_API_KEY", ""),
		WebhookSecret:      getEnv("PAYMENT_WEBHOOK_SECRET", ""),
	}

	var err error
	if cfg.DBPort, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = getInt("SWEEP_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	threshold, err := getInt("LOW_STOCK_THRESHOLD", 10)
	if err != nil {
		return nil, err
	}
	cfg.LowStockThreshold = int32(threshold)

	durations := []struct {
		key    string
		def    time.Duration
		target *time.Duration
	}{
		{"REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
		{"PRODUCT_CACHE_TTL", 5 * time.Minute, &cfg.ProductCacheTTL},
		{"CHECKOUT_LOCK_TTL", 30 * time.Second, &cfg.CheckoutLockTTL},
		{"OUTBOX_INTERVAL", time.Second, &cfg.OutboxInterval},
		{"PAYMENT_TIMEOUT", 10 * time.Second, &cfg.PaymentTimeout},
		{"RESERVATION_TTL", time.Hour, &cfg.ReservationTTL},
		{"SWEEP_INTERVAL", time.Minute, &cfg.SweepInterval},
	}
	for _, d := range durations {
		if *d.target, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.StoreBackend != BackendPostgres && cfg.StoreBackend != BackendMemory {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}
	// the memory backend runs without external services unless they are set explicitly
	if cfg.StoreBackend == BackendMemory {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		cfg.KafkaBrokers = getList("KAFKA_BROKERS", "")
	}
	return cfg, nil
}
