package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

const defaultMaxUploadBytes int64 = 10 << 20

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	PublicBaseURL   string

	ObjectStoreType string
	UploadsDir      string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	S3Endpoint      string
	S3AccessKeyID   string
	S3SecretKey     string

	LedgerBackend  string
	LedgerPath     string
	LedgerBoltPath string
	DatabaseURL    string
	LedgerQueueURL string

	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int

	WorkerConcurrency       int
	WorkerVisibilitySeconds int
	WorkerShutdownSeconds   int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	backend := normalizeLedgerBackend(getEnv("LEDGER_BACKEND", "file"))

	if backend == "postgres" && dbURL == "" {
		log.Printf("LEDGER_BACKEND=postgres requires DATABASE_URL")
	}

	return Config{
		Port:            getEnv("PORT", "5000"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5000"), "/"),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		UploadsDir:      getEnv("UPLOADS_DIR", "uploads"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:   getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		LedgerBackend:   backend,
		LedgerPath:      getEnv("LEDGER_PATH", "ledger.json"),
		LedgerBoltPath:  getEnv("LEDGER_BOLT_PATH", "ledger.db"),
		DatabaseURL:     dbURL,
		LedgerQueueURL:  getEnv("LEDGER_SQS_QUEUE_URL", ""),
		MaxUploadBytes:  parseSize(getEnv("MAX_UPLOAD_SIZE", "10MB")),
		RateLimitRPS:    parseFloat(getEnv("RATE_LIMIT_RPS", "5")),
		RateLimitBurst:  parseInt(getEnv("RATE_LIMIT_BURST", "20")),

		WorkerConcurrency:       positiveInt(getEnv("WORKER_CONCURRENCY", ""), 4),
		WorkerVisibilitySeconds: positiveInt(getEnv("WORKER_VISIBILITY_TIMEOUT_SECONDS", ""), 120),
		WorkerShutdownSeconds:   positiveInt(getEnv("WORKER_SHUTDOWN_TIMEOUT_SECONDS", ""), 30),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeLedgerBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bolt", "bbolt":
		return "bolt"
	case "postgres", "pg":
		return "postgres"
	case "memory":
		return "memory"
	default:
		return "file"
	}
}

// parseSize accepts human sizes such as "10MB" or "512k".
func parseSize(raw string) int64 {
	n, err := units.RAMInBytes(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		log.Printf("config: invalid MAX_UPLOAD_SIZE %q, using default", raw)
		return defaultMaxUploadBytes
	}
	return n
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}

// positiveInt parses raw, falling back to def when it is unset, invalid or
// not positive.
func positiveInt(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
