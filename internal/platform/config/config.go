package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminAPIToken   string
	ShutdownTimeout time.Duration
	LogLevel        string
}

// DatabaseConfig selects the Postgres stores. An empty URL means in-memory.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	TxTimeout    time.Duration
}

// RedisConfig selects the Redis mint lock. An empty URL means in-process.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig selects the pending-bind queue and the audit relay.
type KafkaConfig struct {
	Brokers           []string
	PendingBindTopic  string
	AuditTopic        string
	ConsumerGroup     string
	RelayInterval     time.Duration
	RelayBatchSize    int
	TopicPartitions   int32
	ReplicationFactor int16
}

// LedgerConfig points at the ledger gateway. An empty URL means the
// in-memory ledger.
type LedgerConfig struct {
	GatewayURL       string
	APIKey           string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// ContentConfig points at an IPFS-compatible HTTP API, or a local directory.
type ContentConfig struct {
	APIURL   string
	LocalDir string
	Timeout  time.Duration
}

// SessionConfig holds the shared HS256 key used by the auth service.
type SessionConfig struct {
	SigningKey string
	Issuer     string
}

// MintingConfig tunes the mint lock and the bind retry loop.
type MintingConfig struct {
	LockTTL      time.Duration
	LockWait     time.Duration
	BindAttempts int
	BindBackoff  time.Duration
}

// SchedulerConfig holds cron expressions for background sweeps.
type SchedulerConfig struct {
	RolloverSchedule string
}

// Config is the full process configuration.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Ledger    LedgerConfig
	Content   ContentConfig
	Session   SessionConfig
	Minting   MintingConfig
	Scheduler SchedulerConfig
}

// FromEnv builds a Config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	signingKey := os.Getenv("SESSION_SIGNING_KEY")
	if signingKey == "" {
		// Development default; production must override.
		signingKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Server: Server{
			Addr:            getEnv("CERTLEDGER_ADDR", ":8080"),
			AdminAPIToken:   os.Getenv("ADMIN_API_TOKEN"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
			TxTimeout:    getDuration("DATABASE_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			PendingBindTopic:  getEnv("KAFKA_PENDING_BIND_TOPIC", "certledger.pending-binds"),
			AuditTopic:        getEnv("KAFKA_AUDIT_TOPIC", "certledger.audit"),
			ConsumerGroup:     getEnv("KAFKA_CONSUMER_GROUP", "certledger-reconciler"),
			RelayInterval:     getDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
			RelayBatchSize:    getInt("OUTBOX_RELAY_BATCH_SIZE", 100),
			TopicPartitions:   int32(getInt("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(getInt("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Ledger: LedgerConfig{
			GatewayURL:       os.Getenv("LEDGER_GATEWAY_URL"),
			APIKey:           os.Getenv("LEDGER_API_KEY"),
			Timeout:          getDuration("LEDGER_TIMEOUT", 3*time.Second),
			BreakerThreshold: getInt("LEDGER_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getDuration("LEDGER_BREAKER_COOLDOWN", 30*time.Second),
		},
		Content: ContentConfig{
			APIURL:   os.Getenv("CONTENT_API_URL"),
			LocalDir: getEnv("CONTENT_LOCAL_DIR", "./data/artifacts"),
			Timeout:  getDuration("CONTENT_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			SigningKey: signingKey,
			Issuer:     getEnv("SESSION_ISSUER", "certledger-auth"),
		},
		Minting: MintingConfig{
			LockTTL:      getDuration("MINT_LOCK_TTL", 2*time.Minute),
			LockWait:     getDuration("MINT_LOCK_WAIT", 5*time.Second),
			BindAttempts: getInt("MINT_BIND_ATTEMPTS", 3),
			BindBackoff:  getDuration("MINT_BIND_BACKOFF", 200*time.Millisecond),
		},
		Scheduler: SchedulerConfig{
			RolloverSchedule: getEnv("ROLLOVER_SCHEDULE", "@hourly"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
