package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:8787", cfg.API.Listen)
	assert.Empty(t, cfg.Rules.File)
	assert.False(t, cfg.Rules.Watch)
	assert.Equal(t, "/var/lib/rr-pulse/whitelist.db", cfg.Whitelist.DB)
	assert.Equal(t, 250*time.Millisecond, cfg.Stats.Interval)
	assert.Equal(t, uint64(15), cfg.Stats.KBPerBlock)
	assert.Equal(t, 8, cfg.Stats.SubscriberBuffer)
	assert.Equal(t, "third-party", cfg.Classifier.MissingReferrer)
	assert.Equal(t, "subdomain", cfg.Classifier.FirstPartyMode)
	assert.Equal(t, 4096, cfg.Classifier.CacheSize)
	assert.InDelta(t, 0.01, cfg.Classifier.BloomFPRate, 1e-9)
	assert.Equal(t, 1024, cfg.Responses.PendingSize)
	assert.Equal(t, 2*time.Minute, cfg.Responses.PendingTTL)
	assert.Equal(t, int64(8<<20), cfg.Responses.MaxBodyBytes)
	assert.Equal(t, DefaultUserAgent, cfg.Headers.UserAgent)
	assert.False(t, cfg.Headers.DoNotTrack)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PULSE_ENV", "dev")
	t.Setenv("PULSE_ENABLED", "false")
	t.Setenv("PULSE_LOG_LEVEL", "debug")
	t.Setenv("PULSE_API_LISTEN", ":9999")
	t.Setenv("PULSE_RULES_FILE", "/tmp/rules.yaml")
	t.Setenv("PULSE_RULES_WATCH", "true")
	t.Setenv("PULSE_WHITELIST_DB", "/tmp/wl.db")
	t.Setenv("PULSE_STATS_INTERVAL", "1s")
	t.Setenv("PULSE_STATS_KB_PER_BLOCK", "20")
	t.Setenv("PULSE_CLASSIFIER_MISSING_REFERRER", "first-party")
	t.Setenv("PULSE_CLASSIFIER_FIRST_PARTY_MODE", "site")
	t.Setenv("PULSE_CLASSIFIER_CACHE_SIZE", "0")
	t.Setenv("PULSE_RESPONSES_PENDING_TTL", "30s")
	t.Setenv("PULSE_HEADERS_DO_NOT_TRACK", "true")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.API.Listen)
	assert.Equal(t, "/tmp/rules.yaml", cfg.Rules.File)
	assert.True(t, cfg.Rules.Watch)
	assert.Equal(t, "/tmp/wl.db", cfg.Whitelist.DB)
	assert.Equal(t, time.Second, cfg.Stats.Interval)
	assert.Equal(t, uint64(20), cfg.Stats.KBPerBlock)
	assert.Equal(t, "first-party", cfg.Classifier.MissingReferrer)
	assert.Equal(t, "site", cfg.Classifier.FirstPartyMode)
	assert.Equal(t, 0, cfg.Classifier.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Responses.PendingTTL)
	assert.True(t, cfg.Headers.DoNotTrack)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	content := `env: dev
log:
  level: warn
stats:
  kb_per_block: 42
whitelist:
  db: /srv/wl.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PULSE_LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "error", cfg.Log.Level, "env must override the file")
	assert.Equal(t, uint64(42), cfg.Stats.KBPerBlock)
	assert.Equal(t, "/srv/wl.db", cfg.Whitelist.DB)
	assert.Equal(t, "subdomain", cfg.Classifier.FirstPartyMode, "untouched keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PULSE_ENV":                         "staging",
		"PULSE_LOG_LEVEL":                   "loud",
		"PULSE_API_LISTEN":                  "localhost",
		"PULSE_CLASSIFIER_MISSING_REFERRER": "maybe",
		"PULSE_CLASSIFIER_FIRST_PARTY_MODE": "origin",
		"PULSE_CLASSIFIER_BLOOM_FP_RATE":    "1.5",
		"PULSE_STATS_SUBSCRIBER_BUFFER":     "0",
		"PULSE_WHITELIST_DB":                "",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadFile("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed")
		})
	}
}

func TestLoad_UnmarshalError(t *testing.T) {
	t.Setenv("PULSE_STATS_INTERVAL", "soon")
	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error unmarshalling config")
}

func TestLoad_LoaderErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("defaults", func(t *testing.T) {
		old := defaultLoader
		defaultLoader = func(*koanf.Koanf) error { return boom }
		defer func() { defaultLoader = old }()
		_, err := LoadFile("")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("env", func(t *testing.T) {
		old := envLoader
		envLoader = func(*koanf.Koanf) error { return boom }
		defer func() { envLoader = old }()
		_, err := LoadFile("")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("file", func(t *testing.T) {
		old := fileLoader
		fileLoader = func(*koanf.Koanf, string) error { return boom }
		defer func() { fileLoader = old }()
		_, err := LoadFile("/etc/rr-pulse/pulse.yaml")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("validation registration", func(t *testing.T) {
		old := registerValidation
		registerValidation = func(*validator.Validate) error { return boom }
		defer func() { registerValidation = old }()
		_, err := LoadFile("")
		assert.ErrorIs(t, err, boom)
	})
}

func TestValidHostPort(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("host_port", validHostPort))

	cases := []struct {
		in   string
		want bool
	}{
		{"127.0.0.1:8787", true},
		{":8787", true},
		{"localhost:80", true},
		{"[::1]:443", true},
		{"localhost", false},
		{"localhost:", false},
		{"localhost:0", false},
		{"localhost:70000", false},
		{"localhost:http", false},
	}
	for _, c := range cases {
		err := v.Var(c.in, "host_port")
		if got := err == nil; got != c.want {
			t.Errorf("host_port(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
