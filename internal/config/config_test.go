package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	key := "TEST_ENV_VAR"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	tests := []struct {
		name         string
		setValue     string
		set          bool
		defaultValue string
		expected     string
	}{
		{"env set", "test-value", true, "default", "test-value"},
		{"env not set", "", false, "default", "default"},
		{"env empty", "", true, "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				_ = os.Setenv(key, tt.setValue)
			} else {
				_ = os.Unsetenv(key)
			}
			if got := getEnvOrDefault(key, tt.defaultValue); got != tt.expected {
				t.Errorf("getEnvOrDefault() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetIntEnvOrDefault(t *testing.T) {
	key := "TEST_INT_VAR"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	tests := []struct {
		name     string
		value    string
		set      bool
		def      int
		expected int
	}{
		{"valid positive", "42", true, 1, 42},
		{"not set", "", false, 7, 7},
		{"zero rejected", "0", true, 7, 7},
		{"negative rejected", "-1", true, 7, 7},
		{"non numeric rejected", "abc", true, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				_ = os.Setenv(key, tt.value)
			} else {
				_ = os.Unsetenv(key)
			}
			if got := getIntEnvOrDefault(key, tt.def); got != tt.expected {
				t.Errorf("getIntEnvOrDefault() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetDurationEnvOrDefault(t *testing.T) {
	key := "TEST_DURATION_VAR"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	_ = os.Setenv(key, "5s")
	if got := getDurationEnvOrDefault(key, time.Second); got != 5*time.Second {
		t.Errorf("getDurationEnvOrDefault() = %v, want 5s", got)
	}

	_ = os.Unsetenv(key)
	if got := getDurationEnvOrDefault(key, 3*time.Second); got != 3*time.Second {
		t.Errorf("getDurationEnvOrDefault() fallback = %v, want 3s", got)
	}
}

func TestGetMetricsAddress(t *testing.T) {
	_ = os.Unsetenv("DTRACE_METRICS_ADDR")
	if got := GetMetricsAddress(); got == "" {
		t.Error("GetMetricsAddress() returned empty string")
	}
}

func TestMaxClausesMatchesBitmaskWidth(t *testing.T) {
	if MaxClauses != 64 {
		t.Errorf("MaxClauses = %d, want 64 (must fit the bitmask width)", MaxClauses)
	}
}
