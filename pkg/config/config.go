package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSources is the Caltrans District 4 camera set captured when CAPTURE_SOURCES is unset.
const DefaultSources = "tv721=https://cwwp2.dot.ca.gov/data/d4/cctv/image/tv721i880at7thst/tv721i880at7thst.jpg," +
	"tv722=https://cwwp2.dot.ca.gov/data/d4/cctv/image/tv722i880atjno7thstreet/tv722i880atjno7thstreet.jpg," +
	"tv726=https://cwwp2.dot.ca.gov/data/d4/cctv/image/tv726i880atjct80/tv726i880atjct80.jpg," +
	"tv727=https://cwwp2.dot.ca.gov/data/d4/cctv/image/tv727i880n880atgrandav/tv727i880n880atgrandav.jpg"

type Config struct {
	Server     ServerConfig
	Capture    CaptureConfig
	Index      IndexConfig
	Fetch      FetchConfig
	S3         S3Config
	Redis      RedisConfig
	Dynamo     DynamoConfig
	NATS       NATSConfig
	CloudWatch CloudWatchConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type SourceConfig struct {
	ID  string
	URL string
}

type CaptureConfig struct {
	Sources      []SourceConfig
	Schedule     string
	MaxAttempts  int
	RetryDelay   time.Duration
	// RunTimeout of zero means no run-level deadline.
	RunTimeout     time.Duration
	PostRunTimeout time.Duration
	StaleAfter     time.Duration
	RunOnStartup   bool
}

type IndexConfig struct {
	// Mode is "on_demand" or "precomputed".
	Mode string
	// Order applies to the read path in on_demand mode and to the artifact in precomputed mode.
	Order string
}

type FetchConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PageSize        int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	TTL      time.Duration
}

type DynamoConfig struct {
	Enabled         bool
	TableSnapshots  string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type NATSConfig struct {
	Enabled bool
	URL     string
	Stream  string
	Subject string
}

type CloudWatchConfig struct {
	Region               string
	Endpoint             string
	AccessKeyID          string
	SecretAccessKey      string
	MetricsEnabled       bool
	MetricsNamespace     string
	MetricsBufferSize    int
	MetricsFlushInterval time.Duration
	LogsEnabled          bool
	LogGroupName         string
	LogStreamName        string
	LogsBufferSize       int
	LogsFlushInterval    time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	// TrustProxyHeaders keys clients by X-Forwarded-For / X-Real-IP. Only enable
	// behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

type SecurityConfig struct {
	AllowedOrigin string
	CORSMaxAge    time.Duration
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	sources, err := ParseSources(getEnv("CAPTURE_SOURCES", DefaultSources))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_SOURCES: %w", err)
	}

	maxAttempts, err := getEnvInt("CAPTURE_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("CAPTURE_MAX_ATTEMPTS must be positive")
	}

	retryDelay, err := parseDuration(getEnv("CAPTURE_RETRY_DELAY", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_RETRY_DELAY: %w", err)
	}

	runTimeout, err := parseDuration(getEnv("CAPTURE_RUN_TIMEOUT", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_RUN_TIMEOUT: %w", err)
	}

	postRunTimeout, err := parseDuration(getEnv("CAPTURE_POST_RUN_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_POST_RUN_TIMEOUT: %w", err)
	}

	staleAfter, err := parseDuration(getEnv("CAPTURE_STALE_AFTER", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_STALE_AFTER: %w", err)
	}

	fetchTimeout, err := parseDuration(getEnv("FETCH_TIMEOUT", "20s"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT: %w", err)
	}

	fetchMaxBytes, err := getEnvInt("FETCH_MAX_BYTES", 8*1024*1024)
	if err != nil {
		return nil, err
	}

	pageSize, err := getEnvInt("S3_LIST_PAGE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	redisTTL, err := parseDuration(getEnv("REDIS_DIGEST_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DIGEST_TTL: %w", err)
	}

	metricsBufferSize, err := getEnvInt("CLOUDWATCH_METRICS_BUFFER_SIZE", 100)
	if err != nil {
		return nil, err
	}

	metricsFlushInterval, err := parseDuration(getEnv("CLOUDWATCH_METRICS_FLUSH_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_METRICS_FLUSH_INTERVAL: %w", err)
	}

	logsBufferSize, err := getEnvInt("CLOUDWATCH_LOGS_BUFFER_SIZE", 50)
	if err != nil {
		return nil, err
	}

	logsFlushInterval, err := parseDuration(getEnv("CLOUDWATCH_LOGS_FLUSH_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_LOGS_FLUSH_INTERVAL: %w", err)
	}

	rateLimitRPS, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	rateLimitBurst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, err
	}

	indexMode := getEnv("INDEX_MODE", "precomputed")
	if indexMode != "on_demand" && indexMode != "precomputed" {
		return nil, fmt.Errorf("invalid INDEX_MODE: %s", indexMode)
	}

	defaultOrder := "oldest_first"
	if indexMode == "on_demand" {
		defaultOrder = "newest_first"
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Capture: CaptureConfig{
			Sources:        sources,
			Schedule:       getEnv("CAPTURE_SCHEDULE", "*/5 * * * *"),
			MaxAttempts:    maxAttempts,
			RetryDelay:     retryDelay,
			RunTimeout:     runTimeout,
			PostRunTimeout: postRunTimeout,
			StaleAfter:     staleAfter,
			RunOnStartup:   getEnvBool("CAPTURE_RUN_ON_STARTUP", true),
		},
		Index: IndexConfig{
			Mode:  indexMode,
			Order: getEnv("INDEX_ORDER", defaultOrder),
		},
		Fetch: FetchConfig{
			Timeout:   fetchTimeout,
			MaxBytes:  int64(fetchMaxBytes),
			UserAgent: getEnv("FETCH_USER_AGENT", ""),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "auto"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", true),
			PageSize:        pageSize,
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			TTL:      redisTTL,
		},
		Dynamo: DynamoConfig{
			Enabled:         getEnvBool("DYNAMO_ENABLED", false),
			TableSnapshots:  getEnv("DYNAMO_TABLE_SNAPSHOTS", "desertyard_snapshots"),
			Region:          getEnv("DYNAMO_REGION", "us-east-1"),
			Endpoint:        getEnv("DYNAMO_ENDPOINT", ""),
			AccessKeyID:     getEnv("DYNAMO_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("DYNAMO_SECRET_ACCESS_KEY", ""),
		},
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:  getEnv("NATS_STREAM", "DESERTYARD"),
			Subject: getEnv("NATS_SUBJECT", "desertyard.snapshot.stored"),
		},
		CloudWatch: CloudWatchConfig{
			Region:               getEnv("CLOUDWATCH_REGION", "us-east-1"),
			Endpoint:             getEnv("CLOUDWATCH_ENDPOINT", ""),
			AccessKeyID:          getEnv("CLOUDWATCH_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("CLOUDWATCH_SECRET_ACCESS_KEY", ""),
			MetricsEnabled:       getEnvBool("CLOUDWATCH_METRICS_ENABLED", false),
			MetricsNamespace:     getEnv("CLOUDWATCH_METRICS_NAMESPACE", "Desertyard/Capture"),
			MetricsBufferSize:    metricsBufferSize,
			MetricsFlushInterval: metricsFlushInterval,
			LogsEnabled:          getEnvBool("CLOUDWATCH_LOGS_ENABLED", false),
			LogGroupName:         getEnv("CLOUDWATCH_LOG_GROUP", "/desertyard/worker"),
			LogStreamName:        getEnv("CLOUDWATCH_LOG_STREAM", hostnameOr("desertyard")),
			LogsBufferSize:       logsBufferSize,
			LogsFlushInterval:    logsFlushInterval,
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", false),
			RPS:               rateLimitRPS,
			Burst:             rateLimitBurst,
			TrustProxyHeaders: getEnvBool("RATE_LIMIT_TRUST_PROXY_HEADERS", false),
		},
		Security: SecurityConfig{
			AllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),
			CORSMaxAge:    24 * time.Hour,
		},
	}

	if cfg.Index.Order != "newest_first" && cfg.Index.Order != "oldest_first" {
		return nil, fmt.Errorf("invalid INDEX_ORDER: %s", cfg.Index.Order)
	}

	return cfg, nil
}

// ParseSources разбирает список вида "id=url,id=url"
func ParseSources(raw string) ([]SourceConfig, error) {
	sources := make([]SourceConfig, 0)
	seen := make(map[string]struct{})

	for _, item := range splitCSV(raw) {
		id, url, ok := strings.Cut(item, "=")
		if !ok || id == "" || url == "" {
			return nil, fmt.Errorf("malformed source entry %q", item)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate source id %q", id)
		}
		seen[id] = struct{}{}
		sources = append(sources, SourceConfig{ID: id, URL: url})
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}

	return sources, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return parsed, nil
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	current := ""

	for _, r := range raw {
		if r == ',' {
			if current != "" {
				items = append(items, current)
				current = ""
			}
			continue
		}
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			current += string(r)
		}
	}

	if current != "" {
		items = append(items, current)
	}

	return items
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}
