package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// Auth
	t.Setenv("WORKER_KEY", "wkey")
	t.Setenv("WEBHOOK_SECRET", "hook-pass")
	t.Setenv("WEBHOOK_HMAC_KEY", "hmac")

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("TASKS_DIR", "var/tasks")
	t.Setenv("CLAIM_SCAN_LIMIT", "25")
	t.Setenv("LOCK_SUFFIX", ".claimed")
	t.Setenv("LEASE_TTL", "5m")
	t.Setenv("REAP_INTERVAL", "30s")
	t.Setenv("CONFIRM_SEGMENTS", "3")
	t.Setenv("EVENTLOG_DIR", "var/events")
	t.Setenv("EVENTLOG_SEGMENT_SIZE", "100")
	t.Setenv("EVENTLOG_MAX_SEGMENTS", "10")
	t.Setenv("HISTORY_MAX", "50")
	t.Setenv("HISTORY_TTL", "24h")

	// Rate limiting (invalids fall back to defaults)
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}

	// Auth
	if cfg.WorkerKey != "wkey" || cfg.WebhookSecret != "hook-pass" || cfg.WebhookHMAC != "hmac" {
		t.Fatalf("auth unexpected: %+v", cfg)
	}

	// Queue
	q := cfg.Queue
	if q.TasksDir != "var/tasks" || q.ScanLimit != 25 || q.LockSuffix != ".claimed" ||
		q.LeaseTTL != 5*time.Minute || q.ReapInterval != 30*time.Second || q.ConfirmWindow != 3 {
		t.Fatalf("queue unexpected: %+v", q)
	}

	// Event log / history
	if cfg.EventLog.Dir != "var/events" || cfg.EventLog.SegmentSize != 100 || cfg.EventLog.MaxSegments != 10 {
		t.Fatalf("event log unexpected: %+v", cfg.EventLog)
	}
	if cfg.History.Max != 50 || cfg.History.TTL != 24*time.Hour {
		t.Fatalf("history unexpected: %+v", cfg.History)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 20.0 || cfg.RateBurst != 40 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// OTEL
	o := cfg.OTEL
	if !o.Enabled || o.Endpoint != "otel:4317" || o.Insecure || o.ServiceName != "svc" || o.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", o)
	}
}

// --- validation errors ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"zero timeout", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts"},
		{"bad scan limit", map[string]string{"CLAIM_SCAN_LIMIT": "0"}, "CLAIM_SCAN_LIMIT"},
		{"bad lock suffix", map[string]string{"LOCK_SUFFIX": "taking"}, "LOCK_SUFFIX"},
		{"reap without interval", map[string]string{"LEASE_TTL": "1m", "REAP_INTERVAL": "0s"}, "REAP_INTERVAL"},
		{"confirm window", map[string]string{"CONFIRM_SEGMENTS": "0"}, "CONFIRM_SEGMENTS"},
		{"retention below window", map[string]string{"CONFIRM_SEGMENTS": "5", "EVENTLOG_MAX_SEGMENTS": "2"}, "EVENTLOG_MAX_SEGMENTS"},
		{"history max", map[string]string{"HISTORY_MAX": "0"}, "HISTORY_MAX"},
		{"suppress needs db", map[string]string{"SUPPRESS_PERSIST": "1", "DB_PATH": " "}, "SUPPRESS_PERSIST"},
		{"negative rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"sampler range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %s", err, tc.want)
			}
		})
	}
}

// --- env helpers ---

func TestHelpers(t *testing.T) {
	t.Setenv("X_STR", "val")
	if getenv("X_STR", "d") != "val" || getenv("X_MISSING", "d") != "d" {
		t.Fatalf("getenv")
	}
	t.Setenv("X_INT", "7")
	if getint("X_INT", 1) != 7 || getint("X_MISSING", 1) != 1 {
		t.Fatalf("getint")
	}
	t.Setenv("X_BOOL", "on")
	if !getbool("X_BOOL", false) || getbool("X_MISSING", true) != true {
		t.Fatalf("getbool")
	}
	t.Setenv("X_DUR", "90s")
	if getdur("X_DUR", time.Second) != 90*time.Second {
		t.Fatalf("getdur")
	}
	t.Setenv("X_F", "2.5")
	if getfloat("X_F", 1) != 2.5 {
		t.Fatalf("getfloat")
	}
	if got := splitCSV(" a, ,b "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("splitCSV got %#v", got)
	}
}
