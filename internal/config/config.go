// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage paths, queue tuning, auth secrets, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-avito-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QueueConfig tunes the durable task queue.
type QueueConfig struct {
	TasksDir      string        // directory holding task files
	ScanLimit     int           // default claim scan window
	LockSuffix    string        // suffix marking a claimed file
	LeaseTTL      time.Duration // 0 disables the claimed-lease reaper
	ReapInterval  time.Duration // how often the reaper runs (when enabled)
	ConfirmWindow int           // raw-log segments scanned by doneSafe
}

// EventLogConfig tunes the append-only raw webhook log.
type EventLogConfig struct {
	Dir         string // directory holding segment files
	SegmentSize int    // records per segment before rotation
	MaxSegments int    // old segments pruned beyond this count
}

// HistoryConfig tunes the chat-history side-store.
type HistoryConfig struct {
	Max int           // max cached messages per (account, chat)
	TTL time.Duration // entry lifetime
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Auth
	WorkerKey     string // shared key for the /tasks worker API ("" disables the API)
	WebhookSecret string // optional ?secret= compare on /webhook
	WebhookHMAC   string // optional HMAC-SHA256 key for X-Signature over the raw body

	// App
	DBPath           string // SQLite path for history + persisted suppression ("" disables)
	SuppressPersist  bool   // persist apply-suppression markers across restarts
	Queue            QueueConfig
	EventLog         EventLogConfig
	History          HistoryConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Auth
		WorkerKey:     getenv("WORKER_KEY", ""),
		WebhookSecret: getenv("WEBHOOK_SECRET", ""),
		WebhookHMAC:   getenv("WEBHOOK_HMAC_KEY", ""),

		// App
		DBPath:          getenv("DB_PATH", "relay.db"),
		SuppressPersist: getbool("SUPPRESS_PERSIST", false),
		Queue: QueueConfig{
			TasksDir:      getenv("TASKS_DIR", "data/tasks"),
			ScanLimit:     getint("CLAIM_SCAN_LIMIT", 50),
			LockSuffix:    getenv("LOCK_SUFFIX", ".taking"),
			LeaseTTL:      getdur("LEASE_TTL", 0),
			ReapInterval:  getdur("REAP_INTERVAL", time.Minute),
			ConfirmWindow: getint("CONFIRM_SEGMENTS", 2),
		},
		EventLog: EventLogConfig{
			Dir:         getenv("EVENTLOG_DIR", "data/events"),
			SegmentSize: getint("EVENTLOG_SEGMENT_SIZE", 500),
			MaxSegments: getint("EVENTLOG_MAX_SEGMENTS", 20),
		},
		History: HistoryConfig{
			Max: getint("HISTORY_MAX", 100),
			TTL: getdur("HISTORY_TTL", 72*time.Hour),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-avito-relay"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Queue.TasksDir) == "" {
		return cfg, errors.New("TASKS_DIR must not be empty")
	}
	if cfg.Queue.ScanLimit < 1 {
		return cfg, errors.New("CLAIM_SCAN_LIMIT must be >= 1")
	}
	if !strings.HasPrefix(cfg.Queue.LockSuffix, ".") {
		return cfg, errors.New("LOCK_SUFFIX must start with '.'")
	}
	if cfg.Queue.LeaseTTL < 0 {
		return cfg, errors.New("LEASE_TTL must be >= 0")
	}
	if cfg.Queue.LeaseTTL > 0 && cfg.Queue.ReapInterval <= 0 {
		return cfg, errors.New("REAP_INTERVAL must be > 0 when LEASE_TTL is set")
	}
	if cfg.Queue.ConfirmWindow < 1 {
		return cfg, errors.New("CONFIRM_SEGMENTS must be >= 1")
	}
	if strings.TrimSpace(cfg.EventLog.Dir) == "" {
		return cfg, errors.New("EVENTLOG_DIR must not be empty")
	}
	if cfg.EventLog.SegmentSize < 1 {
		return cfg, errors.New("EVENTLOG_SEGMENT_SIZE must be >= 1")
	}
	if cfg.EventLog.MaxSegments < cfg.Queue.ConfirmWindow {
		return cfg, errors.New("EVENTLOG_MAX_SEGMENTS must be >= CONFIRM_SEGMENTS")
	}
	if cfg.History.Max < 1 {
		return cfg, errors.New("HISTORY_MAX must be >= 1")
	}
	if cfg.History.TTL <= 0 {
		return cfg, errors.New("HISTORY_TTL must be > 0")
	}
	if cfg.SuppressPersist && strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("SUPPRESS_PERSIST requires DB_PATH")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
