package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv                     string
	ServiceName                string
	ServiceVersion             string
	HTTPAddr                   string
	ReadTimeout                time.Duration
	WriteTimeout               time.Duration
	CORSAllowedOrigins         []string
	StorageBackend             string
	DBURL                      string
	DBDisablePreparedBinary    bool
	QueueBackend               string
	RedisAddr                  string
	RedisPassword              string
	RedisDB                    int
	QueueStream                string
	QueueGroup                 string
	QueueDLQStream             string
	QueueVisibilityTimeout     time.Duration
	QueueMaxReceiveCount       int
	HandlerBaseURL             string
	HandlerTimeout             time.Duration
	HandlerCircuitEnabled      bool
	HandlerCircuitFailureCount int
	HandlerCircuitOpenTimeout  time.Duration
	HandlerCircuitHalfOpenReq  int
	InternalJobToken           string
	DispatchTickInterval       time.Duration
	DispatchMaxParallel        int
	RetryBackoffBase           time.Duration
	RetryBackoffMax            time.Duration
	WorkerPoolSize             int
	WorkerBatchSize            int
	WorkerPollWait             time.Duration
	WorkerInvokeTimeout        time.Duration
	PprofEnabled               bool
	PprofAddr                  string
	UptraceEnabled             bool
	UptraceDSN                 string
	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration
	LogLevel                   logging.Level
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	storageBackend, err := parseStorageBackend(getEnv("STORAGE_BACKEND", StorageMemory))
	if err != nil {
		return Config{}, err
	}
	dbURL := strings.TrimSpace(getEnv("DB_URL", ""))
	if storageBackend == StoragePostgres && dbURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required when STORAGE_BACKEND=postgres")
	}
	dbDisablePreparedBinary, err := strconv.ParseBool(getEnv("DB_DISABLE_PREPARED_BINARY_RESULT", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DB_DISABLE_PREPARED_BINARY_RESULT: %w", err)
	}

	queueBackend, err := parseQueueBackend(getEnv("QUEUE_BACKEND", QueueMemory))
	if err != nil {
		return Config{}, err
	}
	redisAddr := strings.TrimSpace(getEnv("REDIS_ADDR", "localhost:6379"))
	if queueBackend == QueueRedis && redisAddr == "" {
		return Config{}, fmt.Errorf("REDIS_ADDR is required when QUEUE_BACKEND=redis")
	}
	redisDB, err := getEnvAsInt("REDIS_DB", 0)
	if err != nil {
		return Config{}, fmt.Errorf("parse REDIS_DB: %w", err)
	}
	if redisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be >= 0")
	}
	queueVisibilityTimeout, err := time.ParseDuration(getEnv("QUEUE_VISIBILITY_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse QUEUE_VISIBILITY_TIMEOUT: %w", err)
	}
	if queueVisibilityTimeout <= 0 {
		return Config{}, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must be > 0")
	}
	queueMaxReceiveCount, err := getEnvAsInt("QUEUE_MAX_RECEIVE_COUNT", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse QUEUE_MAX_RECEIVE_COUNT: %w", err)
	}
	if queueMaxReceiveCount < 1 {
		return Config{}, fmt.Errorf("QUEUE_MAX_RECEIVE_COUNT must be >= 1")
	}

	handlerBaseURL := strings.TrimSpace(getEnv("HANDLER_BASE_URL", ""))
	if handlerBaseURL == "" {
		return Config{}, fmt.Errorf("HANDLER_BASE_URL is required")
	}
	handlerTimeout, err := time.ParseDuration(getEnv("HANDLER_TIMEOUT", "10m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HANDLER_TIMEOUT: %w", err)
	}
	if handlerTimeout <= 0 {
		return Config{}, fmt.Errorf("HANDLER_TIMEOUT must be > 0")
	}
	handlerCircuitEnabled, err := strconv.ParseBool(getEnv("HANDLER_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HANDLER_CIRCUIT_ENABLED: %w", err)
	}
	handlerCircuitFailureCount, err := getEnvAsInt("HANDLER_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse HANDLER_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	if handlerCircuitFailureCount < 1 {
		return Config{}, fmt.Errorf("HANDLER_CIRCUIT_FAILURE_COUNT must be >= 1")
	}
	handlerCircuitOpenTimeout, err := time.ParseDuration(getEnv("HANDLER_CIRCUIT_OPEN_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HANDLER_CIRCUIT_OPEN_TIMEOUT: %w", err)
	}
	if handlerCircuitOpenTimeout <= 0 {
		return Config{}, fmt.Errorf("HANDLER_CIRCUIT_OPEN_TIMEOUT must be > 0")
	}
	handlerCircuitHalfOpenReq, err := getEnvAsInt("HANDLER_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse HANDLER_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}
	if handlerCircuitHalfOpenReq < 1 {
		return Config{}, fmt.Errorf("HANDLER_CIRCUIT_HALF_OPEN_MAX_REQ must be >= 1")
	}

	dispatchTickInterval, err := time.ParseDuration(getEnv("DISPATCH_TICK_INTERVAL", "1m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DISPATCH_TICK_INTERVAL: %w", err)
	}
	if dispatchTickInterval <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_TICK_INTERVAL must be > 0")
	}
	dispatchMaxParallel, err := getEnvAsInt("DISPATCH_MAX_PARALLEL", 16)
	if err != nil {
		return Config{}, fmt.Errorf("parse DISPATCH_MAX_PARALLEL: %w", err)
	}
	if dispatchMaxParallel < 1 {
		return Config{}, fmt.Errorf("DISPATCH_MAX_PARALLEL must be >= 1")
	}
	retryBackoffBase, err := time.ParseDuration(getEnv("RETRY_BACKOFF_BASE", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse RETRY_BACKOFF_BASE: %w", err)
	}
	if retryBackoffBase <= 0 {
		return Config{}, fmt.Errorf("RETRY_BACKOFF_BASE must be > 0")
	}
	retryBackoffMax, err := time.ParseDuration(getEnv("RETRY_BACKOFF_MAX", "10m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse RETRY_BACKOFF_MAX: %w", err)
	}
	if retryBackoffMax < retryBackoffBase {
		return Config{}, fmt.Errorf("RETRY_BACKOFF_MAX must be >= RETRY_BACKOFF_BASE")
	}

	workerPoolSize, err := getEnvAsInt("WORKER_POOL_SIZE", 8)
	if err != nil {
		return Config{}, fmt.Errorf("parse WORKER_POOL_SIZE: %w", err)
	}
	if workerPoolSize < 1 {
		return Config{}, fmt.Errorf("WORKER_POOL_SIZE must be >= 1")
	}
	workerBatchSize, err := getEnvAsInt("WORKER_BATCH_SIZE", 10)
	if err != nil {
		return Config{}, fmt.Errorf("parse WORKER_BATCH_SIZE: %w", err)
	}
	if workerBatchSize < 1 {
		return Config{}, fmt.Errorf("WORKER_BATCH_SIZE must be >= 1")
	}
	workerPollWait, err := time.ParseDuration(getEnv("WORKER_POLL_WAIT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse WORKER_POLL_WAIT: %w", err)
	}
	if workerPollWait <= 0 {
		return Config{}, fmt.Errorf("WORKER_POLL_WAIT must be > 0")
	}
	workerInvokeTimeout, err := time.ParseDuration(getEnv("WORKER_INVOKE_TIMEOUT", "14m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse WORKER_INVOKE_TIMEOUT: %w", err)
	}
	if workerInvokeTimeout <= 0 {
		return Config{}, fmt.Errorf("WORKER_INVOKE_TIMEOUT must be > 0")
	}

	pprofEnabled, err := strconv.ParseBool(getEnv("PPROF_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PPROF_ENABLED: %w", err)
	}
	pprofAddr := strings.TrimSpace(getEnv("PPROF_ADDR", ":6060"))
	if pprofEnabled && pprofAddr == "" {
		return Config{}, fmt.Errorf("PPROF_ADDR is required when PPROF_ENABLED=true")
	}

	uptraceEnabled, err := strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceDSN == "" {
		uptraceDSN = parseUptraceDSNFromOTLPHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	pyroscopeEnabled, err := strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := time.ParseDuration(getEnv("PYROSCOPE_UPLOAD_RATE", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_UPLOAD_RATE: %w", err)
	}
	if pyroscopeUploadRate <= 0 {
		return Config{}, fmt.Errorf("PYROSCOPE_UPLOAD_RATE must be > 0")
	}

	readTimeout, err := time.ParseDuration(getEnv("APP_READ_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := time.ParseDuration(getEnv("APP_WRITE_TIMEOUT", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_WRITE_TIMEOUT: %w", err)
	}

	cfg := Config{
		AppEnv:                     appEnv,
		ServiceName:                getEnv("APP_SERVICE_NAME", "odds-fabric"),
		ServiceVersion:             getEnv("APP_SERVICE_VERSION", "dev"),
		HTTPAddr:                   getEnv("APP_HTTP_ADDR", ":8080"),
		ReadTimeout:                readTimeout,
		WriteTimeout:               writeTimeout,
		CORSAllowedOrigins:         splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		StorageBackend:             storageBackend,
		DBURL:                      dbURL,
		DBDisablePreparedBinary:    dbDisablePreparedBinary,
		QueueBackend:               queueBackend,
		RedisAddr:                  redisAddr,
		RedisPassword:              strings.TrimSpace(getEnv("REDIS_PASSWORD", "")),
		RedisDB:                    redisDB,
		QueueStream:                strings.TrimSpace(getEnv("QUEUE_STREAM", "fabric:analysis")),
		QueueGroup:                 strings.TrimSpace(getEnv("QUEUE_GROUP", "fabric-workers")),
		QueueDLQStream:             strings.TrimSpace(getEnv("QUEUE_DLQ_STREAM", "")),
		QueueVisibilityTimeout:     queueVisibilityTimeout,
		QueueMaxReceiveCount:       queueMaxReceiveCount,
		HandlerBaseURL:             handlerBaseURL,
		HandlerTimeout:             handlerTimeout,
		HandlerCircuitEnabled:      handlerCircuitEnabled,
		HandlerCircuitFailureCount: handlerCircuitFailureCount,
		HandlerCircuitOpenTimeout:  handlerCircuitOpenTimeout,
		HandlerCircuitHalfOpenReq:  handlerCircuitHalfOpenReq,
		InternalJobToken:           strings.TrimSpace(getEnv("INTERNAL_JOB_TOKEN", "")),
		DispatchTickInterval:       dispatchTickInterval,
		DispatchMaxParallel:        dispatchMaxParallel,
		RetryBackoffBase:           retryBackoffBase,
		RetryBackoffMax:            retryBackoffMax,
		WorkerPoolSize:             workerPoolSize,
		WorkerBatchSize:            workerBatchSize,
		WorkerPollWait:             workerPollWait,
		WorkerInvokeTimeout:        workerInvokeTimeout,
		PprofEnabled:               pprofEnabled,
		PprofAddr:                  pprofAddr,
		UptraceEnabled:             uptraceEnabled,
		UptraceDSN:                 uptraceDSN,
		PyroscopeEnabled:           pyroscopeEnabled,
		PyroscopeServerAddress:     pyroscopeServerAddress,
		PyroscopeAuthToken:         strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeBasicAuthUser:     strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", "")),
		PyroscopeBasicAuthPassword: strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")),
		PyroscopeUploadRate:        pyroscopeUploadRate,
		LogLevel:                   parseLogLevel(getEnv("APP_LOG_LEVEL", "info")),
	}
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}
	if cfg.QueueDLQStream == "" {
		cfg.QueueDLQStream = cfg.QueueStream + ":dlq"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}
	if cfg.AppEnv == EnvProd && cfg.InternalJobToken == "" {
		return Config{}, fmt.Errorf("INTERNAL_JOB_TOKEN is required when APP_ENV=prod")
	}

	return cfg, nil
}

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}

func parseStorageBackend(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case StorageMemory, StoragePostgres:
		return value, nil
	default:
		return "", fmt.Errorf("invalid STORAGE_BACKEND %q: valid values are %s, %s", v, StorageMemory, StoragePostgres)
	}
}

func parseQueueBackend(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case QueueMemory, QueueRedis:
		return value, nil
	default:
		return "", fmt.Errorf("invalid QUEUE_BACKEND %q: valid values are %s, %s", v, QueueMemory, QueueRedis)
	}
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

func parseUptraceDSNFromOTLPHeaders(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	items := strings.Split(raw, ",")
	for _, item := range items {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "uptrace-dsn") {
			value := strings.TrimSpace(parts[1])
			return strings.Trim(value, "\"'")
		}
	}

	return ""
}
