// Package config reads the gateway configuration from the environment and
// the folder whitelist from a YAML file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	TokenSecret string
	TokenTTL    time.Duration
	LogLevel    string
	// ReviewersFile enables password sign-in when set.
	ReviewersFile string

	DataDir       string
	ReviewFile    string
	AuditLogFile  string
	LedgerDir     string
	OutputDir     string
	// OutputFormats lists extra renderings (html, pdf, docx) of each
	// published output.
	OutputFormats []string
	CacheSnapshot string

	// ReviewStore is "file" or "s3".
	ReviewStore      string
	ReviewMaxHistory int
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3Region         string
	S3UseSSL         bool

	DatabaseURL    string
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	NATSURL        string
	NATSSubject    string

	// SMTP - email notifications are disabled unless a host is set
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	SMTPFromName  string
	ReviewNotify  []string
	ReviewURLBase string

	DriveCredentialsFile string
	WhitelistFile        string
	SyncInterval         time.Duration
	SyncConcurrency      int

	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAITemperature float64
	OpenAIMaxTokens   int
	ProfilesFile      string
	Profiles          []string
	Instruction       string
	GatewayWorkers    int

	RetryMaxAttempts    int
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration
	RetryAttemptTimeout time.Duration
	BreakerThreshold    int
	BreakerReset        time.Duration
	DriveReadPerSecond  float64
	DriveReadBurst      int
	GeneratorPerSecond  float64

	SanitizerDensity float64
}

func Load() Config {
	dataDir := getenv("DOCGATE_DATA_DIR", "./data")
	return Config{
		Addr:        getenv("DOCGATE_ADDR", ":8787"),
		TokenSecret: getenv("DOCGATE_TOKEN_SECRET", "docgate-dev-secret-change-me"),
		TokenTTL:    getenvDuration("DOCGATE_TOKEN_TTL", 24*time.Hour),
		LogLevel:    getenv("DOCGATE_LOG_LEVEL", "info"),

		ReviewersFile: getenv("DOCGATE_REVIEWERS_FILE", ""),

		DataDir:       dataDir,
		ReviewFile:    getenv("DOCGATE_REVIEW_FILE", filepath.Join(dataDir, "reviews.json")),
		AuditLogFile:  getenv("DOCGATE_AUDIT_LOG", filepath.Join(dataDir, "audit.jsonl")),
		LedgerDir:     getenv("DOCGATE_LEDGER_DIR", filepath.Join(dataDir, "ledger")),
		OutputDir:     getenv("DOCGATE_OUTPUT_DIR", filepath.Join(dataDir, "output")),
		OutputFormats: getenvList("DOCGATE_OUTPUT_FORMATS", nil),
		CacheSnapshot: getenv("DOCGATE_CACHE_SNAPSHOT", filepath.Join(dataDir, "cache.json")),

		ReviewStore:      getenv("DOCGATE_REVIEW_STORE", "file"),
		ReviewMaxHistory: getenvInt("DOCGATE_REVIEW_MAX_HISTORY", 100),
		S3Endpoint:       getenv("S3_ENDPOINT", ""),
		S3AccessKey:      getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:      getenv("S3_SECRET_KEY", ""),
		S3Bucket:         getenv("S3_BUCKET", "docgate"),
		S3Region:         getenv("S3_REGION", ""),
		S3UseSSL:         getenvBool("S3_USE_SSL", true),

		DatabaseURL:    getenv("DATABASE_URL", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		NATSURL:        getenv("NATS_URL", ""),
		NATSSubject:    getenv("NATS_REVIEW_SUBJECT", "docgate.review.flagged"),

		SMTPHost:      getenv("SMTP_HOST", ""),
		SMTPPort:      getenv("SMTP_PORT", "587"),
		SMTPUsername:  getenv("SMTP_USERNAME", ""),
		SMTPPassword:  getenv("SMTP_PASSWORD", ""),
		SMTPFrom:      getenv("SMTP_FROM", ""),
		SMTPFromName:  getenv("SMTP_FROM_NAME", "docgate"),
		ReviewNotify:  getenvList("DOCGATE_REVIEW_NOTIFY", nil),
		ReviewURLBase: getenv("DOCGATE_REVIEW_URL", ""),

		DriveCredentialsFile: getenv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		WhitelistFile:        getenv("DOCGATE_WHITELIST_FILE", "./whitelist.yaml"),
		SyncInterval:         getenvDuration("DOCGATE_SYNC_INTERVAL", 5*time.Minute),
		SyncConcurrency:      getenvInt("DOCGATE_SYNC_CONCURRENCY", 4),

		OpenAIKey:         getenv("OPENAI_API_KEY", ""),
		OpenAIModel:       getenv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getenv("OPENAI_BASE_URL", ""),
		OpenAITemperature: getenvFloat("OPENAI_TEMPERATURE", 0.2),
		OpenAIMaxTokens:   getenvInt("OPENAI_MAX_TOKENS", 2048),
		ProfilesFile:      getenv("DOCGATE_PROFILES_FILE", ""),
		Profiles:          getenvList("DOCGATE_PROFILES", nil),
		Instruction:       getenv("DOCGATE_INSTRUCTION", "Summarize the following documents for the stated audience."),
		GatewayWorkers:    getenvInt("DOCGATE_GATEWAY_WORKERS", 3),

		RetryMaxAttempts:    getenvInt("DOCGATE_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay:   getenvDuration("DOCGATE_RETRY_INITIAL_DELAY", 500*time.Millisecond),
		RetryMaxDelay:       getenvDuration("DOCGATE_RETRY_MAX_DELAY", 30*time.Second),
		RetryAttemptTimeout: getenvDuration("DOCGATE_RETRY_ATTEMPT_TIMEOUT", 60*time.Second),
		BreakerThreshold:    getenvInt("DOCGATE_BREAKER_THRESHOLD", 5),
		BreakerReset:        getenvDuration("DOCGATE_BREAKER_RESET", 60*time.Second),
		DriveReadPerSecond:  getenvFloat("DOCGATE_DRIVE_READ_RPS", 10),
		DriveReadBurst:      getenvInt("DOCGATE_DRIVE_READ_BURST", 20),
		GeneratorPerSecond:  getenvFloat("DOCGATE_GENERATOR_RPS", 1),

		SanitizerDensity: getenvFloat("DOCGATE_SANITIZER_DENSITY", 0.10),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") and bare seconds ("90").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
