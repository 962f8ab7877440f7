package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/local/pdfoutline/internal/outline"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// OutlineConfig mirrors outline.Config with environment overrides.
type OutlineConfig struct {
	HeadingThreshold float64
	RepeatMinCount   int
	RepeatMaxWords   int
	NoiseMaxChars    int
	NoiseMaxWords    int
	NoiseMaxWordLen  int
	TaglineMaxWords  int
	XBucketWidth     float64
	RankedLevels     int
}

// EngineConfig converts to the engine's config type. Validation happens in
// outline.NewEngine.
func (o OutlineConfig) EngineConfig() outline.Config {
	return outline.Config{
		HeadingThreshold: o.HeadingThreshold,
		RepeatMinCount:   o.RepeatMinCount,
		RepeatMaxWords:   o.RepeatMaxWords,
		NoiseMaxChars:    o.NoiseMaxChars,
		NoiseMaxWords:    o.NoiseMaxWords,
		NoiseMaxWordLen:  o.NoiseMaxWordLen,
		TaglineMaxWords:  o.TaglineMaxWords,
		XBucketWidth:     o.XBucketWidth,
		RankedLevels:     o.RankedLevels,
	}
}

// RenderConfig controls page rasterisation for the embedder.
type RenderConfig struct {
	DPI         float64
	Workers     int
	JPEGQuality int
}

// EmbedConfig points at the page embedding service.
type EmbedConfig struct {
	URL       string
	Model     string
	APIKey    string
	BatchSize int
	Timeout   time.Duration

	// MaxInflight caps concurrent embed requests per process.
	MaxInflight int
}

// ClassifierConfig locates the linear heading head weights.
type ClassifierConfig struct {
	HeadPath string
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Concurrency        int
	JobTimeout         time.Duration
	JobMaxAttempts     int
	RetryBaseDelay     time.Duration
	RetryMaxRetries    uint64
	BreakerBaseBackoff time.Duration
	BreakerMaxBackoff  time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
	ResultTTL    time.Duration
}

// StorageConfig holds S3 and local result locations.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ResultDir       string
	UploadDir       string
}

// ServerConfig selects the run mode and HTTP port.
type ServerConfig struct {
	Port          string
	RunMode       string
	RunDispatcher bool
}

// BatchConfig holds the directories used by RUN_MODE=batch.
type BatchConfig struct {
	InputDir  string
	OutputDir string
}

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig
	Axiom      AxiomConfig
	Outline    OutlineConfig
	Render     RenderConfig
	Embed      EmbedConfig
	Classifier ClassifierConfig
	Worker     WorkerConfig
	Queue      QueueConfig
	Storage    StorageConfig
	Server     ServerConfig
	Batch      BatchConfig
}

// Load reads .env files (missing ones are ignored) and then the environment.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfoutline.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfoutline",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// HEADING_THRESHOLD defaults to the pipeline value; outline.ThresholdStrict
	// is the stricter library value.
	def := outline.NewConfig(outline.ThresholdPipeline)
	cfg.Outline = OutlineConfig{
		HeadingThreshold: parseFloat(getEnv("HEADING_THRESHOLD", ""), def.HeadingThreshold),
		RepeatMinCount:   parseInt(getEnv("REPEAT_MIN_COUNT", ""), def.RepeatMinCount),
		RepeatMaxWords:   parseInt(getEnv("REPEAT_MAX_WORDS", ""), def.RepeatMaxWords),
		NoiseMaxChars:    parseInt(getEnv("NOISE_MAX_CHARS", ""), def.NoiseMaxChars),
		NoiseMaxWords:    parseInt(getEnv("NOISE_MAX_WORDS", ""), def.NoiseMaxWords),
		NoiseMaxWordLen:  parseInt(getEnv("NOISE_MAX_WORD_LEN", ""), def.NoiseMaxWordLen),
		TaglineMaxWords:  parseInt(getEnv("TAGLINE_MAX_WORDS", ""), def.TaglineMaxWords),
		XBucketWidth:     parseFloat(getEnv("X_BUCKET_WIDTH", ""), def.XBucketWidth),
		RankedLevels:     parseInt(getEnv("RANKED_LEVELS", ""), def.RankedLevels),
	}

	cfg.Render = RenderConfig{
		DPI:         parseFloat(getEnv("RENDER_DPI", "120"), 120),
		Workers:     parseInt(getEnv("RENDER_WORKERS", "2"), 2),
		JPEGQuality: parseInt(getEnv("JPEG_QUALITY", "85"), 85),
	}

	cfg.Embed = EmbedConfig{
		URL:       getEnv("EMBED_URL", "http://localhost:8090/v1/embed"),
		Model:     getEnv("EMBED_MODEL", "donut-base"),
		APIKey:    getEnv("EMBED_API_KEY", ""),
		BatchSize: parseInt(getEnv("EMBED_BATCH_SIZE", "8"), 8),
		Timeout:   parseDuration(getEnv("EMBED_TIMEOUT", "60s"), 60*time.Second),

		MaxInflight: parseInt(getEnv("EMBED_MAX_INFLIGHT", "2"), 2),
	}

	cfg.Classifier = ClassifierConfig{
		HeadPath: getEnv("HEAD_PATH", "models/donut_head.msgpack"),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:        parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		JobTimeout:         parseDuration(getEnv("JOB_TIMEOUT", "10m"), 10*time.Minute),
		JobMaxAttempts:     parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:     parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		RetryMaxRetries:    uint64(parseInt(getEnv("RETRY_MAX_RETRIES", "2"), 2)),
		BreakerBaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:outline"),
		Group:        getEnv("QUEUE_GROUP", "workers:outline"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
		ResultTTL:    parseDuration(getEnv("RESULT_TTL", "24h"), 24*time.Hour),
	}

	cfg.Storage = StorageConfig{
		Bucket:          getEnv("AWS_S3_BUCKET", ""),
		Region:          getEnv("AWS_REGION", "us-east-1"),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		ResultDir:       getEnv("RESULT_DIR", "data/results"),
		UploadDir:       getEnv("UPLOAD_DIR", "data/uploads"),
	}

	cfg.Server = ServerConfig{
		Port:          getEnv("PORT", "8080"),
		RunMode:       strings.ToLower(getEnv("RUN_MODE", "server")),
		RunDispatcher: parseBool(getEnv("RUN_DISPATCHER", "true")),
	}

	cfg.Batch = BatchConfig{
		InputDir:  getEnv("INPUT_DIR", "/app/input"),
		OutputDir: getEnv("OUTPUT_DIR", "/app/output"),
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
