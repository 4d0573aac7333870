package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestRequireEnv(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		shouldSet bool
		wantPanic bool
	}{
		{
			name:      "variable set",
			key:       "TEST_VAR",
			value:     "test_value",
			shouldSet: true,
			wantPanic: false,
		},
		{
			name:      "variable not set",
			key:       "TEST_VAR_MISSING",
			shouldSet: false,
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("requireEnv() should have panicked")
					}
				}()
			}

			result := requireEnv(tt.key)
			if !tt.wantPanic && result != tt.value {
				t.Errorf("requireEnv() = %v, want %v", result, tt.value)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{name: "true value", value: "true", def: false, expected: true},
		{name: "false value", value: "false", def: true, expected: false},
		{name: "invalid value uses default", value: "invalid", def: true, expected: true},
		{name: "missing variable uses default", value: "", def: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_BOOL", tt.value)
			}
			if got := mustBool("TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("mustBool() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetenvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "nope")
	t.Setenv("TEST_INT64", "-1001234567890")
	t.Setenv("TEST_FLOAT", "0.5")
	t.Setenv("TEST_FLOAT_NEG", "-2")

	if got := getenvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getenvInt() = %d, want 42", got)
	}
	if got := getenvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getenvInt() with bad value = %d, want default 7", got)
	}
	if got := getenvInt64("TEST_INT64", 0); got != -1001234567890 {
		t.Errorf("getenvInt64() = %d, want -1001234567890", got)
	}
	if got := getenvFloat("TEST_FLOAT", 1); got != 0.5 {
		t.Errorf("getenvFloat() = %v, want 0.5", got)
	}
	if got := getenvFloat("TEST_FLOAT_NEG", 1); got != 1 {
		t.Errorf("getenvFloat() with non-positive value = %v, want default 1", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(` 127.0.0.1/32 , "::1/128",, '10.0.0.0/8' `)
	want := []string{"127.0.0.1/32", "::1/128", "10.0.0.0/8"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitAndTrim() = %v, want %v", got, want)
	}
	if splitAndTrim("") != nil {
		t.Errorf("splitAndTrim(\"\") should be nil")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QB_CATALOG_URL", "http://catalog.local:8000/")
	t.Setenv("QB_REDIS_ADDR", "localhost:6379")

	cfg := Load()

	if cfg.CatalogURL != "http://catalog.local:8000" {
		t.Errorf("CatalogURL = %q, want trailing slash trimmed", cfg.CatalogURL)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"MaxConcurrent", cfg.MaxConcurrent, 3},
		{"JobTimeout", cfg.JobTimeout, 45 * time.Second},
		{"FailureRetry", cfg.FailureRetry, 5 * time.Minute},
		{"MaxProducts", cfg.MaxProducts, 100},
		{"ConnectivityTTL", cfg.ConnectivityTTL, 30 * time.Second},
		{"PastDueDelay", cfg.PastDueDelay, time.Minute},
		{"MaxJitter", cfg.MaxJitter, 30 * time.Second},
		{"NotifyWindow", cfg.NotifyWindow, 5 * time.Second},
		{"CacheMaxEntries", cfg.CacheMaxEntries, 20},
		{"CatalogTimeout", cfg.CatalogTimeout, 15 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadPanicsWithoutCatalogURL(t *testing.T) {
	t.Setenv("QB_CATALOG_URL", "")
	t.Setenv("QB_REDIS_ADDR", "localhost:6379")

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Load() should panic without QB_CATALOG_URL")
		}
	}()
	Load()
}

func TestLoadPanicsOnTelegramWithoutChat(t *testing.T) {
	t.Setenv("QB_CATALOG_URL", "http://catalog.local")
	t.Setenv("QB_REDIS_ADDR", "localhost:6379")
	t.Setenv("QB_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("QB_TELEGRAM_CHAT_ID", "")

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Load() should panic when telegram chat id is missing")
		}
	}()
	Load()
}

func TestRedacted(t *testing.T) {
	cfg := &Config{RedisPassword: "secret", RedisUser: "admin", AuthToken: "tok", TelegramToken: ""}
	r := cfg.Redacted()

	if r.RedisPassword == "secret" || r.RedisUser == "admin" || r.AuthToken == "tok" {
		t.Errorf("Redacted() leaked a secret: %+v", r)
	}
	if r.TelegramToken != "" {
		t.Errorf("Redacted() should keep empty values empty, got %q", r.TelegramToken)
	}
	if cfg.RedisPassword != "secret" {
		t.Errorf("Redacted() must not modify the original config")
	}
}
