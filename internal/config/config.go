package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	Logger      LoggerConfig

	MetricsEnabled bool
	// OTLPEndpoint enables span export when set.
	OTLPEndpoint     string
	TraceSampleRatio float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	AMQPURL      string
	AckQueueName string

	Clearinghouse ClearinghouseConfig
	Audit         AuditConfig
	EDI           EDIConfig
	RateLimit     RateLimitConfig
}

type LoggerConfig struct {
	Level string
}

type ClearinghouseConfig struct {
	Endpoint         string
	APIKey           string
	Timeout          time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	IdempotencyTTL   time.Duration
	// AckTimeout is how long a Submitted claim waits for its acknowledgment
	// before it moves to Error. Zero disables the sweep.
	AckTimeout       time.Duration
	AckSweepInterval time.Duration
}

type AuditConfig struct {
	Capacity      int
	CompactEvery  int
	FallbackLimit int
	// EncryptionKey is the base64 process-held key material.
	EncryptionKey string
}

// RateLimitConfig bounds the EDI tool endpoints per actor. It needs Redis.
type RateLimitConfig struct {
	Enabled  bool
	EDIRate  float64
	EDIBurst int
}

// EDIConfig carries the envelope identity of this submitter.
type EDIConfig struct {
	SenderID       string
	ReceiverID     string
	ReceiverName   string
	SubmitterName  string
	ContactName    string
	ContactPhone   string
	UsageIndicator string
	// Provider fills the placeholders the EDI fix endpoint knows about.
	ProviderNPI      string
	ProviderTaxID    string
	ProviderTaxonomy string
	// VerifyNPIChecksum makes the rebuilder check the NPI check digit on the
	// wire as well as its format.
	VerifyNPIChecksum bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "claimwise"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Logger: LoggerConfig{
			Level: strings.ToLower(getenv("LOG_LEVEL", "info")),
		},
		MetricsEnabled:    getenvBool("METRICS_ENABLED", true),
		OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		TraceSampleRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "claimwise"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		AMQPURL:           strings.TrimSpace(getenv("AMQP_URL", "")),
		AckQueueName:      getenv("AMQP_ACK_QUEUE", "claims.acks"),
		Clearinghouse: ClearinghouseConfig{
			Endpoint:         strings.TrimSpace(getenv("CLEARINGHOUSE_ENDPOINT", "")),
			APIKey:           strings.TrimSpace(getenv("CLEARINGHOUSE_API_KEY", "")),
			Timeout:          getenvDuration("CLEARINGHOUSE_TIMEOUT", 30*time.Second),
			MaxAttempts:      getenvInt("CLEARINGHOUSE_MAX_ATTEMPTS", 5),
			InitialBackoff:   getenvDuration("CLEARINGHOUSE_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:       getenvDuration("CLEARINGHOUSE_MAX_BACKOFF", 30*time.Second),
			IdempotencyTTL:   getenvDuration("CLEARINGHOUSE_IDEMPOTENCY_TTL", 30*24*time.Hour),
			AckTimeout:       getenvDuration("CLEARINGHOUSE_ACK_TIMEOUT", 72*time.Hour),
			AckSweepInterval: getenvDuration("CLEARINGHOUSE_ACK_SWEEP_INTERVAL", 15*time.Minute),
		},
		Audit: AuditConfig{
			Capacity:      getenvInt("AUDIT_CAPACITY", 1000),
			CompactEvery:  getenvInt("AUDIT_COMPACT_EVERY", 100),
			FallbackLimit: getenvInt("AUDIT_FALLBACK_LIMIT", 1000),
			EncryptionKey: strings.TrimSpace(getenv("AUDIT_ENCRYPTION_KEY", "")),
		},
		EDI: EDIConfig{
			SenderID:       getenv("EDI_SENDER_ID", "CLAIMWISE"),
			ReceiverID:     getenv("EDI_RECEIVER_ID", "CLEARINGHOUSE"),
			ReceiverName:   getenv("EDI_RECEIVER_NAME", "CLEARINGHOUSE"),
			SubmitterName:  getenv("EDI_SUBMITTER_NAME", "CLAIMWISE"),
			ContactName:    getenv("EDI_CONTACT_NAME", "BILLING OFFICE"),
			ContactPhone:   getenv("EDI_CONTACT_PHONE", "5555550100"),
			UsageIndicator: normalizeUsage(getenv("EDI_USAGE_INDICATOR", "T")),

			ProviderNPI:       strings.TrimSpace(getenv("EDI_PROVIDER_NPI", "")),
			ProviderTaxID:     strings.TrimSpace(getenv("EDI_PROVIDER_TAX_ID", "")),
			ProviderTaxonomy:  strings.TrimSpace(getenv("EDI_PROVIDER_TAXONOMY", "")),
			VerifyNPIChecksum: getenvBool("EDI_VERIFY_NPI_CHECKSUM", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getenvBool("RATE_LIMIT_ENABLED", false),
			EDIRate:  getenvFloat("RATE_LIMIT_EDI_RATE", 5),
			EDIBurst: getenvInt("RATE_LIMIT_EDI_BURST", 20),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeUsage(raw string) string {
	if strings.ToUpper(strings.TrimSpace(raw)) == "P" {
		return "P"
	}
	return "T"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
