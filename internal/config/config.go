// Package config centralizes environment-tunable constants for the probe
// provider and trampoline core, in the same getEnvOrDefault style used
// throughout this codebase.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	DefaultLogLevel = "info"
	DefaultVersion  = "v0.1.0"

	// DefaultMetricsPort and DefaultMetricsHost expose the Prometheus
	// metrics server used to surface PRID/fault/discovery counters.
	DefaultMetricsPort = 9422
	DefaultMetricsHost = "127.0.0.1"

	DefaultAlertHTTPTimeout      = 10 * time.Second
	DefaultAlertDedupWindow      = 5 * time.Minute
	DefaultAlertRateLimitPerMin  = 10
	DefaultAlertMaxRetries       = 3
	DefaultAlertRetryBackoffBase = 1 * time.Second
	DefaultAlertMaxPayloadSize   = 1024 * 1024
)

// Probe-graph and trampoline limits, per spec §3/§4.D.
const (
	// MaxClauses is the hard cap on clauses addressable by the 64-bit
	// USDT clause-selector bitmask (spec §3, §8 boundary case).
	MaxClauses = 64

	// ArgSlotCount is the number of per-firing argument slots in the
	// machine-state (spec §4.D, ARG0..ARG9 in §4.E).
	ArgSlotCount = 10

	// MaxDescriptorFieldLength bounds each of the four probe-description
	// fields (provider, module, function, name).
	MaxDescriptorFieldLength = 256

	// MaxProviderNameLength bounds a provider's own name.
	MaxProviderNameLength = 64
)

// Discovery loop tuning (spec §4.F).
var (
	DiscoveryTickInterval = getDurationEnvOrDefault("DTRACE_DISCOVERY_TICK", 1*time.Second)
)

// Instrumentation control-file locations (spec §6).
var (
	TraceFSBase      = getEnvOrDefault("DTRACE_TRACEFS_BASE", "/sys/kernel/tracing")
	KprobeEventsFile = getEnvOrDefault("DTRACE_KPROBE_EVENTS", TraceFSBase+"/kprobe_events")
	UprobeEventsFile = getEnvOrDefault("DTRACE_UPROBE_EVENTS", TraceFSBase+"/uprobe_events")
	EventsFormatGlob = getEnvOrDefault("DTRACE_EVENTS_FORMAT_GLOB", TraceFSBase+"/events/%s/%s/id")
	KallsymsPath     = getEnvOrDefault("DTRACE_KALLSYMS_PATH", "/proc/kallsyms")
	AvailFilterFuncs = getEnvOrDefault("DTRACE_AVAIL_FILTER_FUNCS", TraceFSBase+"/available_filter_functions")
	ProcBasePath     = getEnvOrDefault("DTRACE_PROC_BASE", "/proc")
)

var (
	AlertingEnabled      = getEnvOrDefault("DTRACE_ALERTING_ENABLED", "false") == "true"
	AlertWebhookURL      = getEnvOrDefault("DTRACE_ALERT_WEBHOOK_URL", "")
	AlertSlackWebhookURL = getEnvOrDefault("DTRACE_ALERT_SLACK_WEBHOOK_URL", "")
	AlertSlackChannel        = getEnvOrDefault("DTRACE_ALERT_SLACK_CHANNEL", "#tracing-alerts")
	AlertSplunkEnabled       = getEnvOrDefault("DTRACE_ALERT_SPLUNK_ENABLED", "false") == "true"
	AlertDeduplicationWindow = getDurationEnvOrDefault("DTRACE_ALERT_DEDUP_WINDOW", DefaultAlertDedupWindow)
	AlertRateLimitPerMinute  = getIntEnvOrDefault("DTRACE_ALERT_RATE_LIMIT", DefaultAlertRateLimitPerMin)
	AlertHTTPTimeout         = getDurationEnvOrDefault("DTRACE_ALERT_HTTP_TIMEOUT", DefaultAlertHTTPTimeout)
	AlertMaxRetries          = getIntEnvOrDefault("DTRACE_ALERT_MAX_RETRIES", DefaultAlertMaxRetries)
	AlertMaxPayloadSize      = getInt64EnvOrDefault("DTRACE_ALERT_MAX_PAYLOAD_SIZE", DefaultAlertMaxPayloadSize)
	SplunkEndpoint           = getEnvOrDefault("DTRACE_SPLUNK_ENDPOINT", "")
	SplunkToken              = getEnvOrDefault("DTRACE_SPLUNK_TOKEN", "")
	Version                  = getEnvOrDefault("DTRACE_VERSION", DefaultVersion)

	TracingEnabled = getEnvOrDefault("DTRACE_TRACING_ENABLED", "false") == "true"
	OTLPEndpoint   = getEnvOrDefault("DTRACE_OTLP_ENDPOINT", "http://localhost:4318")
)

const MemlockLimitBytes = 512 * 1024 * 1024

// Metrics HTTP server hardening, carried from the teacher's posture
// regardless of which metrics this server exposes.
const (
	DefaultMetricsReadTimeout     = 5 * time.Second
	DefaultMetricsWriteTimeout    = 10 * time.Second
	DefaultMetricsShutdownTimeout = 5 * time.Second
	DefaultRateLimitPerSec        = 20
	DefaultRateLimitBurst         = 40
	DefaultMaxRequestSize         = 1 << 20
)

var (
	RateLimitPerSec = getIntEnvOrDefault("DTRACE_METRICS_RATE_LIMIT_PER_SEC", DefaultRateLimitPerSec)
	RateLimitBurst  = getIntEnvOrDefault("DTRACE_METRICS_RATE_LIMIT_BURST", DefaultRateLimitBurst)
	MaxRequestSize  = getInt64EnvOrDefault("DTRACE_METRICS_MAX_REQUEST_SIZE", DefaultMaxRequestSize)
)

// AllowNonLoopbackMetrics reports whether the metrics server may bind to
// a non-loopback address. Off unless explicitly opted into.
func AllowNonLoopbackMetrics() bool {
	return getEnvOrDefault("DTRACE_METRICS_INSECURE_ALLOW_ANY_ADDR", "0") == "1"
}

func GetAlertMinSeverity() string {
	return getEnvOrDefault("DTRACE_ALERT_MIN_SEVERITY", "warning")
}

func GetSplunkEndpoint() string {
	if AlertSplunkEnabled {
		return SplunkEndpoint
	}
	return ""
}

func GetSplunkToken() string {
	if AlertSplunkEnabled {
		return SplunkToken
	}
	return ""
}

func GetUserAgent() string {
	return "dtrace-utils/" + Version
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}

func getInt64EnvOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func GetMetricsAddress() string {
	addr := os.Getenv("DTRACE_METRICS_ADDR")
	if addr == "" {
		addr = DefaultMetricsHost + ":" + strconv.Itoa(DefaultMetricsPort)
	}
	return addr
}

func GetVersion() string {
	return Version
}
